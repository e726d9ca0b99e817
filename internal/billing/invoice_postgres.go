package billing

import (
	"context"
	"database/sql"

	"github.com/firstgrade/hms/internal/plans"
)

// PostgresInvoiceStore persists invoices in PostgreSQL.
type PostgresInvoiceStore struct {
	db *sql.DB
}

// NewPostgresInvoiceStore creates a new PostgreSQL-backed invoice store.
func NewPostgresInvoiceStore(db *sql.DB) *PostgresInvoiceStore {
	return &PostgresInvoiceStore{db: db}
}

const invoiceColumns = `id, tenant_id, plan_id, billing_cycle, amount, currency, status,
	invoice_date, period_start, period_end, paid_at, payment_ref`

func (p *PostgresInvoiceStore) Create(ctx context.Context, inv *Invoice) error {
	var paidAt any
	if inv.PaidAt != nil {
		paidAt = inv.PaidAt.Time()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		inv.ID, inv.TenantID, string(inv.PlanID), string(inv.BillingCycle), inv.Amount,
		inv.Currency, string(inv.Status), inv.InvoiceDate, inv.PeriodStart, inv.PeriodEnd,
		paidAt, inv.PaymentRef,
	)
	return err
}

func (p *PostgresInvoiceStore) ListByTenant(ctx context.Context, tenantID string) ([]*Invoice, error) {
	return p.query(ctx, `SELECT `+invoiceColumns+` FROM invoices
		WHERE tenant_id = $1 ORDER BY invoice_date DESC, id DESC`, tenantID)
}

func (p *PostgresInvoiceStore) ListAll(ctx context.Context) ([]*Invoice, error) {
	return p.query(ctx, `SELECT `+invoiceColumns+` FROM invoices
		ORDER BY invoice_date DESC, id DESC`)
}

func (p *PostgresInvoiceStore) query(ctx context.Context, q string, args ...any) ([]*Invoice, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Invoice
	for rows.Next() {
		inv := &Invoice{}
		var (
			planID, cycle, status string
			paidAt                sql.NullTime
		)
		if err := rows.Scan(&inv.ID, &inv.TenantID, &planID, &cycle, &inv.Amount, &inv.Currency,
			&status, &inv.InvoiceDate, &inv.PeriodStart, &inv.PeriodEnd, &paidAt, &inv.PaymentRef); err != nil {
			return nil, err
		}
		inv.PlanID = plans.ID(planID)
		inv.BillingCycle = plans.BillingCycle(cycle)
		inv.Status = InvoiceStatus(status)
		if paidAt.Valid {
			d := DateOf(paidAt.Time)
			inv.PaidAt = &d
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

var _ InvoiceStore = (*PostgresInvoiceStore)(nil)
