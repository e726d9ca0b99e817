package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/firstgrade/hms/internal/billing"
	"github.com/firstgrade/hms/internal/events"
	"github.com/firstgrade/hms/internal/idgen"
	"github.com/firstgrade/hms/internal/logging"
	"github.com/firstgrade/hms/internal/metrics"
	"github.com/firstgrade/hms/internal/plans"
	"github.com/firstgrade/hms/internal/retry"
	"github.com/firstgrade/hms/internal/tenant"
	"github.com/firstgrade/hms/internal/traces"
)

// Receipt confirms a completed subscribe flow.
type Receipt struct {
	Reference       string             `json:"reference"`
	TenantID        string             `json:"tenantId"`
	TenantName      string             `json:"tenantName"`
	TenantEmail     string             `json:"tenantEmail"`
	PlanID          plans.ID           `json:"planId"`
	PlanName        string             `json:"planName"`
	BillingCycle    plans.BillingCycle `json:"billingCycle"`
	Amount          int64              `json:"amount"`
	Currency        string             `json:"currency"`
	Trial           bool               `json:"trial"`
	Provider        string             `json:"provider,omitempty"`
	PaymentRef      string             `json:"paymentRef,omitempty"`
	InvoiceID       string             `json:"invoiceId,omitempty"`
	PaidAt          time.Time          `json:"paidAt"`
	NextBillingDate billing.Date       `json:"nextBillingDate"`
}

// CheckoutRequest selects a plan and, for paid plans, how to pay for it.
type CheckoutRequest struct {
	PlanID        plans.ID           `json:"planId"`
	BillingCycle  plans.BillingCycle `json:"billingCycle"`
	PaymentMethod string             `json:"paymentMethod,omitempty"`
	// IdempotencyKey lets a client retry a checkout without paying twice.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// Result is what a subscribe flow leaves behind.
type Result struct {
	Tenant  tenant.Tenant    `json:"tenant"`
	Receipt Receipt          `json:"receipt"`
	Invoice *billing.Invoice `json:"invoice,omitempty"`
}

// StartTrial puts a tenant on a free plan: plan and cycle are set, the
// tenant becomes active and is next billed TrialDays from today.
func (s *Service) StartTrial(ctx context.Context, id string, version int64, planID plans.ID, cycle plans.BillingCycle) (*Result, error) {
	ctx = logging.WithTenantID(ctx, id)
	ctx, span := traces.StartSpan(ctx, "subscription.StartTrial",
		traces.TenantID(id), traces.PlanID(string(planID)), traces.BillingCycle(string(cycle)))
	res, err := s.startTrial(ctx, id, version, planID, cycle)
	traces.End(span, err)
	metrics.CheckoutsTotal.WithLabelValues("trial", metrics.Result(err)).Inc()
	return res, err
}

func (s *Service) startTrial(ctx context.Context, id string, version int64, planID plans.ID, cycle plans.BillingCycle) (*Result, error) {
	plan, err := s.validPlan(planID, cycle)
	if err != nil {
		return nil, err
	}
	if plan.Price(cycle) != 0 {
		return nil, fmt.Errorf("%w: %s costs %d on %s billing", ErrNotTrialPlan, plan.ID, plan.Price(cycle), cycle)
	}

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	updated, err := s.activate(ctx, id, version, plan, cycle, billing.TrialDays)
	if err != nil {
		return nil, err
	}

	receipt := s.receipt(updated, plan, cycle)
	receipt.Reference = idgen.WithPrefix("TRIAL-")
	receipt.Trial = true
	logging.L(ctx).Info("trial started", "plan", plan.ID, "reference", receipt.Reference)
	return &Result{Tenant: updated, Receipt: receipt}, nil
}

// Checkout subscribes a tenant to a plan. Plans that cost nothing on the
// chosen cycle go through StartTrial. Paid plans are charged first; only a
// successful charge changes the tenant, which becomes active and is next
// billed one cycle from today. The payment is recorded as a paid invoice.
func (s *Service) Checkout(ctx context.Context, id string, version int64, req CheckoutRequest) (*Result, error) {
	plan, err := s.validPlan(req.PlanID, req.BillingCycle)
	if err != nil {
		return nil, err
	}
	if plan.Price(req.BillingCycle) == 0 {
		return s.StartTrial(ctx, id, version, req.PlanID, req.BillingCycle)
	}

	ctx = logging.WithTenantID(ctx, id)
	ctx, span := traces.StartSpan(ctx, "subscription.Checkout",
		traces.TenantID(id), traces.PlanID(string(plan.ID)), traces.BillingCycle(string(req.BillingCycle)))
	res, err := s.checkout(ctx, id, version, plan, req)
	if res != nil {
		span.SetAttributes(traces.Reference(res.Receipt.Reference))
	}
	traces.End(span, err)
	metrics.CheckoutsTotal.WithLabelValues("paid", metrics.Result(err)).Inc()
	return res, err
}

func (s *Service) checkout(ctx context.Context, id string, version int64, plan plans.Plan, req CheckoutRequest) (*Result, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Check the precondition before any money moves.
	current, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if version != tenant.AnyVersion && current.Version != version {
		return nil, fmt.Errorf("%w: have %d, want %d", tenant.ErrVersionConflict, current.Version, version)
	}

	cycle := req.BillingCycle
	amount := plan.Price(cycle)
	key := req.IdempotencyKey
	if key == "" {
		key = idgen.WithPrefix("chk_")
	}
	payment, err := s.payments.Charge(ctx, billing.Charge{
		TenantID:       id,
		Amount:         amount,
		Currency:       billing.Currency,
		Description:    fmt.Sprintf("%s (%s) for %s", plan.Name, cycle, current.Profile.Name),
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: key,
	})
	if err != nil {
		logging.L(ctx).Warn("payment failed", "plan", plan.ID, "amount", amount, "error", err)
		return nil, err
	}

	// The lock keeps other flows out; plain mutators may have bumped the
	// version while the charge was in flight, and the payment must not be lost.
	updated, err := s.activate(ctx, id, tenant.AnyVersion, plan, cycle, 0)
	if err != nil {
		logging.L(ctx).Error("CRITICAL: payment collected but tenant not updated",
			"payment_ref", payment.Reference, "provider", payment.Provider, "error", err)
		return nil, fmt.Errorf("subscription: activate after payment %s: %w", payment.Reference, err)
	}

	today := s.clock.Today()
	paidAt := today
	inv := &billing.Invoice{
		ID:           idgen.WithPrefix("INV-"),
		TenantID:     id,
		PlanID:       plan.ID,
		BillingCycle: cycle,
		Amount:       amount,
		Currency:     billing.Currency,
		Status:       billing.InvoicePaid,
		InvoiceDate:  today,
		PeriodStart:  today,
		PeriodEnd:    updated.NextBillingDate.AddDays(-1),
		PaidAt:       &paidAt,
		PaymentRef:   payment.Reference,
	}
	if err := retry.Do(ctx, retry.Default, func(ctx context.Context) error {
		return s.invoices.Create(ctx, inv)
	}); err != nil {
		// The subscription stands; the invoice can be rebuilt from the payment reference.
		logging.L(ctx).Error("CRITICAL: failed to record invoice",
			"invoice_id", inv.ID, "payment_ref", payment.Reference, "error", err)
		inv = nil
	}

	receipt := s.receipt(updated, plan, cycle)
	receipt.Reference = idgen.WithPrefix("PAY-")
	receipt.Amount = amount
	receipt.Provider = payment.Provider
	receipt.PaymentRef = payment.Reference
	if inv != nil {
		receipt.InvoiceID = inv.ID
	}
	logging.L(ctx).Info("subscription paid",
		"plan", plan.ID, "cycle", cycle, "amount", amount, "reference", receipt.Reference)
	return &Result{Tenant: updated, Receipt: receipt, Invoice: inv}, nil
}

// activate applies plan, active status and the new billing date in one
// persisted step, then announces each change.
func (s *Service) activate(ctx context.Context, id string, version int64, plan plans.Plan, cycle plans.BillingCycle, trialDays int) (tenant.Tenant, error) {
	next := billing.NextBillingDate(s.clock.Today(), cycle, trialDays)
	updated, err := s.store.Update(ctx, id, version, func(t *tenant.Tenant) error {
		applyPlan(t, plan, cycle)
		t.SubscriptionStatus = tenant.StatusActive
		t.NextBillingDate = next
		return nil
	})
	metrics.TenantMutationsTotal.WithLabelValues("activate", metrics.Result(err)).Inc()
	if err != nil {
		return tenant.Tenant{}, err
	}
	for _, subject := range []string{
		events.SubjectSubscriptionUpdated,
		events.SubjectStatusChanged,
		events.SubjectBillingRescheduled,
	} {
		s.publish(ctx, subject, updated)
	}
	s.refreshGauges()
	return updated, nil
}

func (s *Service) receipt(t tenant.Tenant, plan plans.Plan, cycle plans.BillingCycle) Receipt {
	return Receipt{
		TenantID:        t.ID,
		TenantName:      t.Profile.Name,
		TenantEmail:     t.Profile.Email,
		PlanID:          plan.ID,
		PlanName:        plan.Name,
		BillingCycle:    cycle,
		Currency:        billing.Currency,
		PaidAt:          time.Now().UTC(),
		NextBillingDate: t.NextBillingDate,
	}
}
