// Package subscription implements the tenant lifecycle: onboarding, plan and
// status changes, billing dates, usage reports and the subscribe flows.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firstgrade/hms/internal/billing"
	"github.com/firstgrade/hms/internal/dashboard"
	"github.com/firstgrade/hms/internal/events"
	"github.com/firstgrade/hms/internal/idgen"
	"github.com/firstgrade/hms/internal/logging"
	"github.com/firstgrade/hms/internal/metrics"
	"github.com/firstgrade/hms/internal/plans"
	"github.com/firstgrade/hms/internal/syncutil"
	"github.com/firstgrade/hms/internal/tenant"
	"github.com/firstgrade/hms/internal/traces"
)

// Errors
var (
	ErrUnknownPlan   = errors.New("subscription: unknown plan")
	ErrInvalidStatus = errors.New("subscription: invalid status")
	ErrInvalidCycle  = errors.New("subscription: invalid billing cycle")
	ErrNotTrialPlan  = errors.New("subscription: plan is not free")
)

// Service mutates tenants through the store and announces every change.
type Service struct {
	store    *tenant.Store
	catalog  *plans.Catalog
	clock    billing.Clock
	invoices billing.InvoiceStore
	payments billing.PaymentProvider
	events   events.Publisher
	locks    *syncutil.KeyedMutex
	strict   bool
	logger   *slog.Logger
}

// NewService creates a subscription service over store. Invoices are kept in
// memory and payments are simulated until the With* options say otherwise.
func NewService(store *tenant.Store, catalog *plans.Catalog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = plans.Default
	}
	return &Service{
		store:    store,
		catalog:  catalog,
		clock:    billing.SystemClock{},
		invoices: billing.NewMemoryInvoiceStore(),
		payments: billing.NewSimulatedProvider(nil),
		events:   events.Nop{},
		locks:    syncutil.NewKeyedMutex(),
		logger:   logger,
	}
}

// WithClock overrides "today".
func (s *Service) WithClock(c billing.Clock) *Service {
	s.clock = c
	return s
}

// WithInvoices sets the invoice store used by Checkout.
func (s *Service) WithInvoices(store billing.InvoiceStore) *Service {
	s.invoices = store
	return s
}

// WithPayments sets the payment provider used by Checkout.
func (s *Service) WithPayments(p billing.PaymentProvider) *Service {
	s.payments = p
	return s
}

// WithPublisher sets where change events go.
func (s *Service) WithPublisher(p events.Publisher) *Service {
	s.events = p
	return s
}

// WithStrictPlans makes CreateTenant reject unknown plans instead of falling
// back to the first catalog plan.
func (s *Service) WithStrictPlans(strict bool) *Service {
	s.strict = strict
	return s
}

// Catalog returns the plan catalog the service resolves against.
func (s *Service) Catalog() *plans.Catalog { return s.catalog }

// Invoices returns the invoice store.
func (s *Service) Invoices() billing.InvoiceStore { return s.invoices }

// Today reports the service clock's date.
func (s *Service) Today() billing.Date { return s.clock.Today() }

// Get returns one tenant.
func (s *Service) Get(id string) (tenant.Tenant, error) { return s.store.Get(id) }

// List returns every tenant in insertion order.
func (s *Service) List() []tenant.Tenant { return s.store.List() }

// Current returns the active tenant (or the first one).
func (s *Service) Current() (tenant.Tenant, bool) { return s.store.Current() }

// ActiveTenantID returns the selected tenant id.
func (s *Service) ActiveTenantID() string { return s.store.ActiveTenantID() }

// CreateTenant onboards a hospital. Free plans start active; paid plans start
// in grace. Either way the first billing date is TrialDays out. An unknown
// plan resolves to the first catalog plan unless strict mode is on.
func (s *Service) CreateTenant(ctx context.Context, profile tenant.Profile, planID plans.ID, cycle plans.BillingCycle) (tenant.Tenant, error) {
	ctx, span := traces.StartSpan(ctx, "subscription.CreateTenant",
		traces.PlanID(string(planID)), traces.BillingCycle(string(cycle)))
	created, err := s.createTenant(ctx, profile, planID, cycle)
	traces.End(span, err)
	metrics.TenantMutationsTotal.WithLabelValues("create", metrics.Result(err)).Inc()
	if err != nil {
		return tenant.Tenant{}, err
	}

	logging.L(ctx).Info("tenant created",
		"tenant_id", created.ID, "plan", created.PlanID, "status", created.SubscriptionStatus)
	s.publish(ctx, events.SubjectTenantCreated, created)
	s.refreshGauges()
	return created, nil
}

func (s *Service) createTenant(ctx context.Context, profile tenant.Profile, planID plans.ID, cycle plans.BillingCycle) (tenant.Tenant, error) {
	if !cycle.Valid() {
		return tenant.Tenant{}, fmt.Errorf("%w: %q", ErrInvalidCycle, cycle)
	}
	plan, ok := s.catalog.Get(planID)
	if !ok {
		if s.strict {
			return tenant.Tenant{}, fmt.Errorf("%w: %q", ErrUnknownPlan, planID)
		}
		plan = s.catalog.First()
		logging.L(ctx).Warn("unknown plan on create, using fallback", "requested", planID, "plan", plan.ID)
	}

	status := tenant.StatusGrace
	if plan.IsTrial() {
		status = tenant.StatusActive
	}
	today := s.clock.Today()
	t := tenant.Tenant{
		ID:                 idgen.TenantID(),
		Slug:               tenant.ToSlug(profile.Name),
		Profile:            profile,
		PlanID:             plan.ID,
		BillingCycle:       cycle,
		SubscriptionStatus: status,
		NextBillingDate:    billing.NextBillingDate(today, cycle, billing.TrialDays),
		CreatedAt:          today,
		Usage:              tenant.Usage{Staff: 1, Patients: 0, StorageGB: 1},
		Limits:             plan.Limits(),
	}
	return s.store.Append(ctx, t, true)
}

// UpdateTenantProfile merges patch into the tenant's profile. The slug is not
// re-derived.
func (s *Service) UpdateTenantProfile(ctx context.Context, id string, version int64, patch tenant.ProfilePatch) (tenant.Tenant, error) {
	return s.mutate(ctx, "profile", id, version, events.SubjectProfileUpdated, func(t *tenant.Tenant) error {
		t.Profile = patch.Apply(t.Profile)
		return nil
	})
}

// UpdateSubscription moves a tenant to another plan and cycle and
// re-snapshots the plan limits. Status and billing date are left alone.
// Unlike CreateTenant it never falls back to the first plan: an unknown plan
// id returns ErrUnknownPlan so an operator typo cannot silently downgrade a
// paying tenant.
func (s *Service) UpdateSubscription(ctx context.Context, id string, version int64, planID plans.ID, cycle plans.BillingCycle) (tenant.Tenant, error) {
	plan, err := s.validPlan(planID, cycle)
	if err != nil {
		return tenant.Tenant{}, err
	}
	return s.mutate(ctx, "subscription", id, version, events.SubjectSubscriptionUpdated, func(t *tenant.Tenant) error {
		applyPlan(t, plan, cycle)
		return nil
	})
}

// UpdateSubscriptionStatus sets the status. Any transition between the four
// statuses is allowed.
func (s *Service) UpdateSubscriptionStatus(ctx context.Context, id string, version int64, status tenant.Status) (tenant.Tenant, error) {
	if !status.Valid() {
		return tenant.Tenant{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.mutate(ctx, "status", id, version, events.SubjectStatusChanged, func(t *tenant.Tenant) error {
		t.SubscriptionStatus = status
		return nil
	})
}

// UpdateNextBillingDate recomputes the next billing date from today. A
// positive trialDays overrides the cycle.
func (s *Service) UpdateNextBillingDate(ctx context.Context, id string, version int64, cycle plans.BillingCycle, trialDays int) (tenant.Tenant, error) {
	if !cycle.Valid() {
		return tenant.Tenant{}, fmt.Errorf("%w: %q", ErrInvalidCycle, cycle)
	}
	next := billing.NextBillingDate(s.clock.Today(), cycle, trialDays)
	return s.mutate(ctx, "billing_date", id, version, events.SubjectBillingRescheduled, func(t *tenant.Tenant) error {
		t.NextBillingDate = next
		return nil
	})
}

// UpdateUsage merges reported counters. Values above the limits are stored
// as reported.
func (s *Service) UpdateUsage(ctx context.Context, id string, version int64, patch tenant.UsagePatch) (tenant.Tenant, error) {
	return s.mutate(ctx, "usage", id, version, events.SubjectUsageUpdated, func(t *tenant.Tenant) error {
		t.Usage = patch.Apply(t.Usage)
		return nil
	})
}

// SwitchTenant selects the active tenant.
func (s *Service) SwitchTenant(ctx context.Context, id string) (tenant.Tenant, error) {
	ctx, span := traces.StartSpan(ctx, "subscription.SwitchTenant", traces.TenantID(id))
	err := s.store.SetActiveTenantID(ctx, id)
	traces.End(span, err)
	metrics.TenantMutationsTotal.WithLabelValues("switch", metrics.Result(err)).Inc()
	if err != nil {
		return tenant.Tenant{}, err
	}
	t, err := s.store.Get(id)
	if err != nil {
		return tenant.Tenant{}, err
	}
	s.publish(ctx, events.SubjectTenantSwitched, t)
	return t, nil
}

func (s *Service) validPlan(planID plans.ID, cycle plans.BillingCycle) (plans.Plan, error) {
	if !cycle.Valid() {
		return plans.Plan{}, fmt.Errorf("%w: %q", ErrInvalidCycle, cycle)
	}
	plan, ok := s.catalog.Get(planID)
	if !ok {
		return plans.Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, planID)
	}
	return plan, nil
}

func applyPlan(t *tenant.Tenant, plan plans.Plan, cycle plans.BillingCycle) {
	t.PlanID = plan.ID
	t.BillingCycle = cycle
	t.Limits = plan.Limits()
}

// mutate runs one copy-on-write update with tracing, metrics and an event.
func (s *Service) mutate(ctx context.Context, op, id string, version int64, subject string, fn func(*tenant.Tenant) error) (tenant.Tenant, error) {
	ctx = logging.WithTenantID(ctx, id)
	ctx, span := traces.StartSpan(ctx, "subscription."+op, traces.TenantID(id))
	updated, err := s.store.Update(ctx, id, version, fn)
	traces.End(span, err)
	metrics.TenantMutationsTotal.WithLabelValues(op, metrics.Result(err)).Inc()
	if err != nil {
		return tenant.Tenant{}, err
	}

	logging.L(ctx).Debug("tenant updated", "op", op, "version", updated.Version)
	s.publish(ctx, subject, updated)
	s.refreshGauges()
	return updated, nil
}

// publish announces a change. Delivery failures are logged; the mutation has
// already been persisted.
func (s *Service) publish(ctx context.Context, subject string, t tenant.Tenant) {
	ev, err := events.New(subject, t.ID, t.Version, t)
	if err == nil {
		err = s.events.Publish(ctx, ev)
	}
	metrics.EventsPublishedTotal.WithLabelValues(subject, metrics.Result(err)).Inc()
	if err != nil {
		logging.L(ctx).Warn("failed to publish event", "subject", subject, "tenant_id", t.ID, "error", err)
	}
}

func (s *Service) refreshGauges() {
	dashboard.RecordGauges(s.store.List(), s.catalog)
}
