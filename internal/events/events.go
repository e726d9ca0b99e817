// Package events publishes tenant lifecycle events to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subjects
const (
	SubjectTenantCreated       = "tenant.created"
	SubjectProfileUpdated      = "tenant.profile.updated"
	SubjectSubscriptionUpdated = "tenant.subscription.updated"
	SubjectStatusChanged       = "tenant.status.changed"
	SubjectBillingRescheduled  = "tenant.billing.rescheduled"
	SubjectUsageUpdated        = "tenant.usage.updated"
	SubjectTenantSwitched      = "tenant.switched"
	SubjectBillingDue          = "tenant.billing.due"
	SubjectPrefix              = "tenant."
	SubjectWildcard            = "tenant.>"
)

// Event is a single change notification. Data carries the tenant snapshot or
// a small payload specific to the subject.
type Event struct {
	ID       string          `json:"id"`
	Subject  string          `json:"subject"`
	TenantID string          `json:"tenantId"`
	Version  int64           `json:"version,omitempty"`
	Time     time.Time       `json:"time"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// New builds an event, encoding data as JSON.
func New(subject, tenantID string, version int64, data any) (Event, error) {
	ev := Event{
		ID:       uuid.NewString(),
		Subject:  subject,
		TenantID: tenantID,
		Version:  version,
		Time:     time.Now().UTC(),
	}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		ev.Data = b
	}
	return ev, nil
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemoryPublisher records events, for tests and single-process demos.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher creates an empty recorder.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (m *MemoryPublisher) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Subjects returns the subjects published so far, in order.
func (m *MemoryPublisher) Subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Subject
	}
	return out
}

var (
	_ Publisher = Nop{}
	_ Publisher = Multi(nil)
	_ Publisher = (*MemoryPublisher)(nil)
)
