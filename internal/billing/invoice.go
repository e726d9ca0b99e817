package billing

import (
	"context"
	"sort"
	"sync"

	"github.com/firstgrade/hms/internal/plans"
)

// Currency is the only settlement currency.
const Currency = "NGN"

// InvoiceStatus is the payment state of an invoice.
type InvoiceStatus string

const (
	InvoicePaid    InvoiceStatus = "paid"
	InvoicePending InvoiceStatus = "pending"
	InvoiceFailed  InvoiceStatus = "failed"
)

// Invoice is one billing period charged to a tenant.
type Invoice struct {
	ID           string             `json:"id"`
	TenantID     string             `json:"tenantId"`
	PlanID       plans.ID           `json:"planId"`
	BillingCycle plans.BillingCycle `json:"billingCycle"`
	Amount       int64              `json:"amount"`
	Currency     string             `json:"currency"`
	Status       InvoiceStatus      `json:"status"`
	InvoiceDate  Date               `json:"invoiceDate"`
	PeriodStart  Date               `json:"periodStart"`
	PeriodEnd    Date               `json:"periodEnd"`
	PaidAt       *Date              `json:"paidAt,omitempty"`
	PaymentRef   string             `json:"paymentRef,omitempty"`
}

// InvoiceStore persists invoices.
type InvoiceStore interface {
	Create(ctx context.Context, inv *Invoice) error
	ListByTenant(ctx context.Context, tenantID string) ([]*Invoice, error)
	ListAll(ctx context.Context) ([]*Invoice, error)
}

// Summary aggregates invoice totals for the platform billing view.
type Summary struct {
	TotalPaid    int64 `json:"totalPaid"`
	PaidCount    int   `json:"paidCount"`
	PendingCount int   `json:"pendingCount"`
}

// Summarize totals paid invoices and counts pending ones. Failed invoices
// are ignored.
func Summarize(invoices []*Invoice) Summary {
	var s Summary
	for _, inv := range invoices {
		switch inv.Status {
		case InvoicePaid:
			s.TotalPaid += inv.Amount
			s.PaidCount++
		case InvoicePending:
			s.PendingCount++
		}
	}
	return s
}

// SeedInvoices returns the invoice history of the default tenant.
func SeedInvoices() []*Invoice {
	mk := func(id, start, end string) *Invoice {
		paid := MustParseDate(start)
		return &Invoice{
			ID:           id,
			TenantID:     "TEN-001",
			PlanID:       plans.Professional,
			BillingCycle: plans.Monthly,
			Amount:       99999,
			Currency:     Currency,
			Status:       InvoicePaid,
			InvoiceDate:  MustParseDate(start),
			PeriodStart:  MustParseDate(start),
			PeriodEnd:    MustParseDate(end),
			PaidAt:       &paid,
		}
	}
	return []*Invoice{
		mk("INV-2026-001", "2026-01-15", "2026-02-14"),
		mk("INV-2025-012", "2025-12-15", "2026-01-14"),
		mk("INV-2025-011", "2025-11-15", "2025-12-14"),
	}
}

// MemoryInvoiceStore is an in-memory invoice store for demo/development.
type MemoryInvoiceStore struct {
	mu       sync.RWMutex
	invoices []*Invoice
}

// NewMemoryInvoiceStore creates a store holding the given invoices.
func NewMemoryInvoiceStore(seed ...*Invoice) *MemoryInvoiceStore {
	m := &MemoryInvoiceStore{}
	for _, inv := range seed {
		cp := *inv
		m.invoices = append(m.invoices, &cp)
	}
	return m
}

func (m *MemoryInvoiceStore) Create(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *inv
	m.invoices = append(m.invoices, &cp)
	return nil
}

func (m *MemoryInvoiceStore) ListByTenant(_ context.Context, tenantID string) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Invoice
	for _, inv := range m.invoices {
		if inv.TenantID == tenantID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryInvoiceStore) ListAll(_ context.Context) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Invoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		cp := *inv
		out = append(out, &cp)
	}
	sortNewestFirst(out)
	return out, nil
}

// sortNewestFirst matches the Postgres ORDER BY invoice_date DESC, id DESC.
func sortNewestFirst(invs []*Invoice) {
	sort.SliceStable(invs, func(i, j int) bool {
		a, b := invs[i], invs[j]
		if !a.InvoiceDate.Equal(b.InvoiceDate) {
			return a.InvoiceDate.After(b.InvoiceDate)
		}
		return a.ID > b.ID
	})
}

var _ InvoiceStore = (*MemoryInvoiceStore)(nil)
