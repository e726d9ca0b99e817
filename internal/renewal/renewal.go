// Package renewal finds tenants whose billing date has passed and announces
// them. It never changes a tenant's status; demotion is an operator decision.
package renewal

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/firstgrade/hms/internal/billing"
	"github.com/firstgrade/hms/internal/events"
	"github.com/firstgrade/hms/internal/metrics"
	"github.com/firstgrade/hms/internal/plans"
	"github.com/firstgrade/hms/internal/tenant"
	"github.com/firstgrade/hms/internal/traces"
)

// TenantLister supplies the current tenant snapshot.
type TenantLister interface {
	List() []tenant.Tenant
}

// DueTenant is one tenant past its billing date.
type DueTenant struct {
	TenantID        string             `json:"tenantId"`
	Name            string             `json:"name"`
	PlanID          plans.ID           `json:"planId"`
	BillingCycle    plans.BillingCycle `json:"billingCycle"`
	Status          tenant.Status      `json:"subscriptionStatus"`
	NextBillingDate billing.Date       `json:"nextBillingDate"`
	DaysOverdue     int                `json:"daysOverdue"`
}

// Report is the outcome of one scan.
type Report struct {
	Date billing.Date `json:"date"`
	Due  []DueTenant  `json:"due"`
}

// Scanner checks billing dates against the clock.
type Scanner struct {
	tenants TenantLister
	clock   billing.Clock
	events  events.Publisher
	logger  *slog.Logger

	mu   sync.Mutex
	last *Report
}

// NewScanner creates a scanner. A nil publisher drops events.
func NewScanner(tenants TenantLister, clock billing.Clock, pub events.Publisher, logger *slog.Logger) *Scanner {
	if clock == nil {
		clock = billing.SystemClock{}
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{tenants: tenants, clock: clock, events: pub, logger: logger}
}

// Due lists tenants whose next billing date is strictly before today,
// without publishing anything.
func (s *Scanner) Due() Report {
	today := s.clock.Today()
	r := Report{Date: today, Due: []DueTenant{}}
	for _, t := range s.tenants.List() {
		if !t.BillingDue(today) {
			continue
		}
		r.Due = append(r.Due, DueTenant{
			TenantID:        t.ID,
			Name:            t.Profile.Name,
			PlanID:          t.PlanID,
			BillingCycle:    t.BillingCycle,
			Status:          t.SubscriptionStatus,
			NextBillingDate: t.NextBillingDate,
			DaysOverdue:     t.NextBillingDate.DaysUntil(today),
		})
	}
	return r
}

// Scan computes the due list, publishes a billing.due event per tenant and
// updates the due gauge. Publish failures are joined into the returned error
// but do not stop the scan.
func (s *Scanner) Scan(ctx context.Context) (Report, error) {
	ctx, span := traces.StartSpan(ctx, "renewal.Scan")
	r := s.Due()

	var errs []error
	for _, d := range r.Due {
		ev, err := events.New(events.SubjectBillingDue, d.TenantID, 0, d)
		if err == nil {
			err = s.events.Publish(ctx, ev)
		}
		metrics.EventsPublishedTotal.WithLabelValues(events.SubjectBillingDue, metrics.Result(err)).Inc()
		if err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)

	metrics.TenantsBillingDue.Set(float64(len(r.Due)))
	metrics.RenewalScansTotal.WithLabelValues(metrics.Result(err)).Inc()
	traces.End(span, err)

	s.mu.Lock()
	s.last = &r
	s.mu.Unlock()

	s.logger.Info("renewal scan complete", "date", r.Date.String(), "due", len(r.Due))
	return r, err
}

// Last returns the most recent scan report, if any.
func (s *Scanner) Last() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}
