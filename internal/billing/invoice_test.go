package billing

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/firstgrade/hms/internal/plans"
	"github.com/firstgrade/hms/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	invs := SeedInvoices()
	invs = append(invs,
		&Invoice{ID: "p", Status: InvoicePending, Amount: 5},
		&Invoice{ID: "f", Status: InvoiceFailed, Amount: 7},
	)
	s := Summarize(invs)
	assert.Equal(t, int64(3*99999), s.TotalPaid)
	assert.Equal(t, 3, s.PaidCount)
	assert.Equal(t, 1, s.PendingCount)

	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestSeedInvoices(t *testing.T) {
	invs := SeedInvoices()
	require.Len(t, invs, 3)
	assert.Equal(t, "INV-2026-001", invs[0].ID)
	assert.Equal(t, "2026-02-14", invs[0].PeriodEnd.String())
	require.NotNil(t, invs[0].PaidAt)
	assert.Equal(t, "2026-01-15", invs[0].PaidAt.String())

	b, err := json.Marshal(invs[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"paidAt":"2026-01-15"`)
	assert.Contains(t, string(b), `"currency":"NGN"`)
}

func TestMemoryInvoiceStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryInvoiceStore(SeedInvoices()...)

	require.NoError(t, store.Create(ctx, &Invoice{
		ID: "PAY-1", TenantID: "TEN-002", PlanID: plans.Enterprise, Status: InvoicePaid,
		InvoiceDate: MustParseDate("2026-03-01"),
	}))

	mine, err := store.ListByTenant(ctx, "TEN-001")
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, "INV-2026-001", mine[0].ID)
	assert.Equal(t, "INV-2025-011", mine[2].ID)

	none, err := store.ListByTenant(ctx, "TEN-404")
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "PAY-1", all[0].ID)

	// Returned values are copies.
	all[0].Amount = 1
	again, _ := store.ListAll(ctx)
	assert.Equal(t, int64(0), again[0].Amount)
}

func TestPostgresInvoiceStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresInvoiceStore(db)
	for _, inv := range SeedInvoices() {
		require.NoError(t, store.Create(ctx, inv))
	}
	require.NoError(t, store.Create(ctx, &Invoice{
		ID: "PAY-2", TenantID: "TEN-001", PlanID: plans.Professional, BillingCycle: plans.Yearly,
		Amount: 999999, Currency: Currency, Status: InvoicePending,
		InvoiceDate: MustParseDate("2026-02-15"), PeriodStart: MustParseDate("2026-02-15"),
		PeriodEnd: MustParseDate("2027-02-14"),
	}))

	got, err := store.ListByTenant(ctx, "TEN-001")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "PAY-2", got[0].ID)
	assert.Nil(t, got[0].PaidAt)
	assert.Equal(t, plans.Yearly, got[0].BillingCycle)
	require.NotNil(t, got[1].PaidAt)
	assert.Equal(t, "2026-01-15", got[1].PaidAt.String())

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	s := Summarize(all)
	assert.Equal(t, 3, s.PaidCount)
	assert.Equal(t, 1, s.PendingCount)
}
