// Package dashboard provides the platform operator's revenue and tenant
// health overview.
package dashboard

import (
	"net/http"

	"github.com/firstgrade/hms/internal/billing"
	"github.com/firstgrade/hms/internal/logging"
	"github.com/firstgrade/hms/internal/plans"
	"github.com/firstgrade/hms/internal/tenant"
	"github.com/gin-gonic/gin"
)

// TenantLister supplies the current tenant snapshot.
type TenantLister interface {
	List() []tenant.Tenant
}

// Handler provides dashboard API endpoints.
type Handler struct {
	tenants  TenantLister
	catalog  *plans.Catalog
	invoices billing.InvoiceStore
}

// NewHandler creates a new dashboard handler.
func NewHandler(tenants TenantLister, catalog *plans.Catalog, invoices billing.InvoiceStore) *Handler {
	return &Handler{tenants: tenants, catalog: catalog, invoices: invoices}
}

// RegisterRoutes sets up dashboard routes under the given group.
// Routes require the platform operator role (enforced by caller middleware).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/dashboard", h.Overview)
	r.GET("/billing/summary", h.BillingSummary)
}

// Overview handles GET /v1/admin/dashboard
func (h *Handler) Overview(c *gin.Context) {
	c.JSON(http.StatusOK, Compute(h.tenants.List(), h.catalog))
}

// BillingSummary handles GET /v1/admin/billing/summary
func (h *Handler) BillingSummary(c *gin.Context) {
	ctx := c.Request.Context()
	invoices, err := h.invoices.ListAll(ctx)
	if err != nil {
		logging.L(ctx).Error("failed to list invoices", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load invoices",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary":  billing.Summarize(invoices),
		"invoices": invoices,
	})
}
