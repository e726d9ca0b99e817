package subscription

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/firstgrade/hms/internal/billing"
	"github.com/firstgrade/hms/internal/events"
	"github.com/firstgrade/hms/internal/plans"
	"github.com/firstgrade/hms/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartTrial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.UpdateSubscriptionStatus(ctx, "TEN-001", tenant.AnyVersion, tenant.StatusExpired)
	require.NoError(t, err)

	res, err := f.svc.StartTrial(ctx, "TEN-001", tenant.AnyVersion, plans.Starter, plans.Monthly)
	require.NoError(t, err)

	assert.Equal(t, plans.Starter, res.Tenant.PlanID)
	assert.Equal(t, tenant.StatusActive, res.Tenant.SubscriptionStatus)
	assert.Equal(t, "2026-01-22", res.Tenant.NextBillingDate.String())
	assert.Equal(t, 25, res.Tenant.Limits.Staff)

	assert.True(t, strings.HasPrefix(res.Receipt.Reference, "TRIAL-"))
	assert.True(t, res.Receipt.Trial)
	assert.Equal(t, int64(0), res.Receipt.Amount)
	assert.Nil(t, res.Invoice)

	all, _ := f.invoices.ListAll(ctx)
	assert.Empty(t, all)
}

func TestStartTrial_RejectsPaidPlan(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartTrial(context.Background(), "TEN-001", tenant.AnyVersion, plans.Enterprise, plans.Monthly)
	assert.ErrorIs(t, err, ErrNotTrialPlan)
}

func TestCheckout_TrialPlanRoutesToStartTrial(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Checkout(context.Background(), "TEN-001", tenant.AnyVersion, CheckoutRequest{
		PlanID: plans.Starter, BillingCycle: plans.Yearly,
	})
	require.NoError(t, err)
	assert.True(t, res.Receipt.Trial)
	assert.Equal(t, "2026-01-22", res.Tenant.NextBillingDate.String())
}

func TestCheckout_Paid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.UpdateSubscriptionStatus(ctx, "TEN-001", tenant.AnyVersion, tenant.StatusGrace)
	require.NoError(t, err)
	f.events = events.NewMemoryPublisher()
	f.svc.WithPublisher(f.events)

	res, err := f.svc.Checkout(ctx, "TEN-001", tenant.AnyVersion, CheckoutRequest{
		PlanID: plans.Enterprise, BillingCycle: plans.Yearly, IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	assert.Equal(t, plans.Enterprise, res.Tenant.PlanID)
	assert.Equal(t, tenant.StatusActive, res.Tenant.SubscriptionStatus)
	assert.Equal(t, "2027-01-15", res.Tenant.NextBillingDate.String())

	assert.True(t, strings.HasPrefix(res.Receipt.Reference, "PAY-"))
	assert.Equal(t, int64(1499999), res.Receipt.Amount)
	assert.Equal(t, "sim_k1", res.Receipt.PaymentRef)
	assert.Equal(t, "simulated", res.Receipt.Provider)

	require.NotNil(t, res.Invoice)
	assert.Equal(t, billing.InvoicePaid, res.Invoice.Status)
	assert.Equal(t, "2026-01-15", res.Invoice.PeriodStart.String())
	assert.Equal(t, "2027-01-14", res.Invoice.PeriodEnd.String())
	assert.Equal(t, res.Invoice.ID, res.Receipt.InvoiceID)

	stored, err := f.invoices.ListByTenant(ctx, "TEN-001")
	require.NoError(t, err)
	require.Len(t, stored, 1)

	assert.Equal(t, []string{
		events.SubjectSubscriptionUpdated,
		events.SubjectStatusChanged,
		events.SubjectBillingRescheduled,
	}, f.events.Subjects())
}

func TestCheckout_DeclineLeavesTenantUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.payments.Decline = true
	before, _ := f.store.Get("TEN-001")

	_, err := f.svc.Checkout(ctx, "TEN-001", tenant.AnyVersion, CheckoutRequest{
		PlanID: plans.Enterprise, BillingCycle: plans.Monthly,
	})
	assert.ErrorIs(t, err, billing.ErrPaymentDeclined)

	after, _ := f.store.Get("TEN-001")
	assert.Equal(t, before, after)
	all, _ := f.invoices.ListAll(ctx)
	assert.Empty(t, all)
}

type countingProvider struct {
	billing.PaymentProvider
	calls int
}

func (c *countingProvider) Charge(ctx context.Context, ch billing.Charge) (*billing.PaymentResult, error) {
	c.calls++
	return c.PaymentProvider.Charge(ctx, ch)
}

func TestCheckout_StaleVersionChargesNothing(t *testing.T) {
	f := newFixture(t)
	counter := &countingProvider{PaymentProvider: f.payments}
	f.svc.WithPayments(counter)
	cur, _ := f.store.Get("TEN-001")

	_, err := f.svc.Checkout(context.Background(), "TEN-001", cur.Version+3, CheckoutRequest{
		PlanID: plans.Professional, BillingCycle: plans.Monthly,
	})
	assert.ErrorIs(t, err, tenant.ErrVersionConflict)
	assert.Zero(t, counter.calls)
}

func TestCheckout_UnknownPlan(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Checkout(context.Background(), "TEN-001", tenant.AnyVersion, CheckoutRequest{
		PlanID: "platinum", BillingCycle: plans.Monthly,
	})
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestCheckout_CancelledWhileLocked(t *testing.T) {
	f := newFixture(t)
	unlock, err := f.svc.locks.LockContext(context.Background(), "TEN-001")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.svc.Checkout(ctx, "TEN-001", tenant.AnyVersion, CheckoutRequest{
		PlanID: plans.Professional, BillingCycle: plans.Monthly,
	})
	assert.True(t, errors.Is(err, context.Canceled))
}

// flakyInvoices fails the first failures Create calls.
type flakyInvoices struct {
	*billing.MemoryInvoiceStore
	failures int
	calls    int
}

func (f *flakyInvoices) Create(ctx context.Context, inv *billing.Invoice) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection reset by peer")
	}
	return f.MemoryInvoiceStore.Create(ctx, inv)
}

func TestCheckout_InvoiceWriteRetried(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyInvoices{MemoryInvoiceStore: billing.NewMemoryInvoiceStore(), failures: 2}
	f.svc.WithInvoices(flaky)

	res, err := f.svc.Checkout(context.Background(), "TEN-001", tenant.AnyVersion,
		CheckoutRequest{PlanID: plans.Professional, BillingCycle: plans.Monthly})
	require.NoError(t, err)
	require.NotNil(t, res.Invoice)
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, res.Invoice.ID, res.Receipt.InvoiceID)
}

func TestCheckout_InvoiceFailureKeepsSubscription(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyInvoices{MemoryInvoiceStore: billing.NewMemoryInvoiceStore(), failures: 100}
	f.svc.WithInvoices(flaky)

	res, err := f.svc.Checkout(context.Background(), "TEN-001", tenant.AnyVersion,
		CheckoutRequest{PlanID: plans.Enterprise, BillingCycle: plans.Monthly})
	require.NoError(t, err)
	assert.Nil(t, res.Invoice)
	assert.Empty(t, res.Receipt.InvoiceID)
	assert.Equal(t, plans.Enterprise, res.Tenant.PlanID)
	assert.Equal(t, tenant.StatusActive, res.Tenant.SubscriptionStatus)
}
