package subscription

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/firstgrade/hms/internal/auth"
	"github.com/firstgrade/hms/internal/billing"
	"github.com/firstgrade/hms/internal/entitlement"
	"github.com/firstgrade/hms/internal/logging"
	"github.com/firstgrade/hms/internal/pagination"
	"github.com/firstgrade/hms/internal/plans"
	"github.com/firstgrade/hms/internal/tenant"
	"github.com/firstgrade/hms/internal/validation"
	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for tenants and subscriptions.
type Handler struct {
	service *Service
	guards  *entitlement.Guards
}

// NewHandler creates a new subscription handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service: service,
		guards:  entitlement.NewGuards(service, service.Catalog(), "id"),
	}
}

// RegisterRoutes sets up public routes: the plan catalog and onboarding.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/plans", h.ListPlans)
	r.POST("/onboarding", h.Onboard)
}

// RegisterTenantRoutes sets up routes scoped to one tenant. The caller must
// belong to the tenant or be a platform operator.
func (h *Handler) RegisterTenantRoutes(r *gin.RouterGroup) {
	t := r.Group("/tenants/:id", validation.TenantParamMiddleware(), auth.RequireTenantAccess("id"))
	t.GET("", h.GetTenant)
	t.GET("/entitlements", h.GetEntitlements)
	t.GET("/features/:feature", h.GetFeature)
	t.PATCH("/profile",
		entitlement.RequireRole(auth.RoleSaaSOwner, auth.RoleHospitalAdmin),
		h.guards.BlockWritesWhenReadOnly(),
		h.UpdateProfile)
	t.PATCH("/usage", h.UpdateUsage)
	t.POST("/subscribe",
		entitlement.RequireRole(auth.RoleSaaSOwner, auth.RoleHospitalAdmin),
		h.Subscribe)
	t.GET("/invoices", h.guards.RequireFeature(plans.FeatureWallet), h.ListInvoices)
}

// RegisterAdminRoutes sets up platform operator routes. The caller applies
// the role check.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/tenants", h.ListTenants)
	r.PUT("/tenants/:id/subscription", h.UpdateSubscription)
	r.PUT("/tenants/:id/status", h.UpdateStatus)
	r.POST("/tenants/:id/billing-date", h.UpdateBillingDate)
	r.GET("/active-tenant", h.GetActiveTenant)
	r.PUT("/active-tenant", h.SwitchTenant)
}

// OnboardRequest is the body of POST /v1/onboarding.
type OnboardRequest struct {
	Profile      tenant.Profile     `json:"profile"`
	PlanID       plans.ID           `json:"planId"`
	BillingCycle plans.BillingCycle `json:"billingCycle"`
}

// SubscriptionRequest is the body of PUT /v1/admin/tenants/:id/subscription.
type SubscriptionRequest struct {
	PlanID       plans.ID           `json:"planId" binding:"required"`
	BillingCycle plans.BillingCycle `json:"billingCycle" binding:"required"`
}

// StatusRequest is the body of PUT /v1/admin/tenants/:id/status.
type StatusRequest struct {
	Status tenant.Status `json:"status" binding:"required"`
}

// BillingDateRequest is the body of POST /v1/admin/tenants/:id/billing-date.
type BillingDateRequest struct {
	BillingCycle plans.BillingCycle `json:"billingCycle"`
	TrialDays    int                `json:"trialDays"`
}

// ActiveTenantRequest is the body of PUT /v1/admin/active-tenant.
type ActiveTenantRequest struct {
	TenantID string `json:"tenantId" binding:"required"`
}

// ListPlans handles GET /v1/plans
func (h *Handler) ListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"plans":    h.service.Catalog().All(),
		"features": plans.AllFeatures(),
	})
}

// Onboard handles POST /v1/onboarding
func (h *Handler) Onboard(c *gin.Context) {
	var req OnboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if errs := validateProfile(req.Profile); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"fields":  errs,
		})
		return
	}
	if req.BillingCycle == "" {
		req.BillingCycle = plans.Monthly
	}

	t, err := h.service.CreateTenant(c.Request.Context(), req.Profile, req.PlanID, req.BillingCycle)
	if err != nil {
		writeError(c, err)
		return
	}
	respondTenant(c, http.StatusCreated, t)
}

func validateProfile(p tenant.Profile) validation.ValidationErrors {
	return validation.Validate(
		validation.Required("profile.name", p.Name),
		validation.MaxLength("profile.name", p.Name, validation.MaxFieldLength),
		validation.ValidEmail("profile.email", p.Email),
		validation.MaxLength("profile.website", p.Website, validation.MaxFieldLength),
	)
}

// GetTenant handles GET /v1/tenants/:id
func (h *Handler) GetTenant(c *gin.Context) {
	t, err := h.service.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respondTenant(c, http.StatusOK, t)
}

// GetEntitlements handles GET /v1/tenants/:id/entitlements
func (h *Handler) GetEntitlements(c *gin.Context) {
	t, err := h.service.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entitlements": entitlement.Evaluate(&t, h.service.Catalog())})
}

// GetFeature handles GET /v1/tenants/:id/features/:feature
func (h *Handler) GetFeature(c *gin.Context) {
	feature := c.Param("feature")
	if !plans.IsFeature(feature) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unknown_feature",
			"message": "Unknown feature: " + feature,
		})
		return
	}
	t, err := h.service.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenantId": t.ID,
		"feature":  feature,
		"enabled":  entitlement.IsFeatureEnabled(&t, entitlement.PlanFor(&t, h.service.Catalog()), feature),
		"readOnly": entitlement.IsReadOnly(&t),
	})
}

// UpdateProfile handles PATCH /v1/tenants/:id/profile
func (h *Handler) UpdateProfile(c *gin.Context) {
	version, ok := ifMatch(c)
	if !ok {
		return
	}
	var patch tenant.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	t, err := h.service.UpdateTenantProfile(c.Request.Context(), c.Param("id"), version, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	respondTenant(c, http.StatusOK, t)
}

// UpdateUsage handles PATCH /v1/tenants/:id/usage
func (h *Handler) UpdateUsage(c *gin.Context) {
	version, ok := ifMatch(c)
	if !ok {
		return
	}
	var patch tenant.UsagePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	for _, v := range []*int{patch.Staff, patch.Patients, patch.StorageGB} {
		if v != nil && *v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "usage counters cannot be negative",
			})
			return
		}
	}
	t, err := h.service.UpdateUsage(c.Request.Context(), c.Param("id"), version, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	respondTenant(c, http.StatusOK, t)
}

// Subscribe handles POST /v1/tenants/:id/subscribe
func (h *Handler) Subscribe(c *gin.Context) {
	version, ok := ifMatch(c)
	if !ok {
		return
	}
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if req.BillingCycle == "" {
		req.BillingCycle = plans.Monthly
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	res, err := h.service.Checkout(c.Request.Context(), c.Param("id"), version, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("ETag", etag(res.Tenant.Version))
	c.JSON(http.StatusOK, res)
}

// ListInvoices handles GET /v1/tenants/:id/invoices
func (h *Handler) ListInvoices(c *gin.Context) {
	ctx := c.Request.Context()
	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		badRequest(c, "limit must be a positive integer")
		return
	}
	after, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		badRequest(c, "Invalid cursor")
		return
	}

	invoices, err := h.service.Invoices().ListByTenant(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	page, next := pagination.Page(invoices, after, limit, func(inv *billing.Invoice) (time.Time, string) {
		return inv.InvoiceDate.Time(), inv.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"invoices":   page,
		"nextCursor": next,
		"hasMore":    next != "",
		"summary":    billing.Summarize(invoices),
	})
}

// ListTenants handles GET /v1/admin/tenants
func (h *Handler) ListTenants(c *gin.Context) {
	tenants := h.service.List()
	c.JSON(http.StatusOK, gin.H{
		"tenants":        tenants,
		"count":          len(tenants),
		"activeTenantId": h.service.ActiveTenantID(),
	})
}

// UpdateSubscription handles PUT /v1/admin/tenants/:id/subscription
func (h *Handler) UpdateSubscription(c *gin.Context) {
	version, ok := ifMatch(c)
	if !ok {
		return
	}
	var req SubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "planId and billingCycle are required")
		return
	}
	t, err := h.service.UpdateSubscription(c.Request.Context(), c.Param("id"), version, req.PlanID, req.BillingCycle)
	if err != nil {
		writeError(c, err)
		return
	}
	respondTenant(c, http.StatusOK, t)
}

// UpdateStatus handles PUT /v1/admin/tenants/:id/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	version, ok := ifMatch(c)
	if !ok {
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}
	t, err := h.service.UpdateSubscriptionStatus(c.Request.Context(), c.Param("id"), version, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	respondTenant(c, http.StatusOK, t)
}

// UpdateBillingDate handles POST /v1/admin/tenants/:id/billing-date
func (h *Handler) UpdateBillingDate(c *gin.Context) {
	version, ok := ifMatch(c)
	if !ok {
		return
	}
	var req BillingDateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if req.TrialDays < 0 {
		badRequest(c, "trialDays cannot be negative")
		return
	}
	if req.BillingCycle == "" {
		current, err := h.service.Get(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		req.BillingCycle = current.BillingCycle
	}
	t, err := h.service.UpdateNextBillingDate(c.Request.Context(), c.Param("id"), version, req.BillingCycle, req.TrialDays)
	if err != nil {
		writeError(c, err)
		return
	}
	respondTenant(c, http.StatusOK, t)
}

// GetActiveTenant handles GET /v1/admin/active-tenant
func (h *Handler) GetActiveTenant(c *gin.Context) {
	t, ok := h.service.Current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No tenants exist",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"activeTenantId": h.service.ActiveTenantID(),
		"tenant":         t,
	})
}

// SwitchTenant handles PUT /v1/admin/active-tenant
func (h *Handler) SwitchTenant(c *gin.Context) {
	var req ActiveTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "tenantId is required")
		return
	}
	t, err := h.service.SwitchTenant(c.Request.Context(), req.TenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"activeTenantId": t.ID,
		"tenant":         t,
	})
}

func respondTenant(c *gin.Context, status int, t tenant.Tenant) {
	c.Header("ETag", etag(t.Version))
	c.JSON(status, gin.H{"tenant": t})
}

func etag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

// ifMatch reads the expected version from If-Match. A missing header or "*"
// means any version.
func ifMatch(c *gin.Context) (int64, bool) {
	raw := strings.TrimSpace(c.GetHeader("If-Match"))
	if raw == "" || raw == "*" {
		return tenant.AnyVersion, true
	}
	raw = strings.TrimPrefix(raw, "W/")
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		badRequest(c, "If-Match must carry a tenant version")
		return 0, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": msg,
	})
}

// writeError maps service errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	msg := err.Error()
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		status, code, msg = http.StatusNotFound, "not_found", "Tenant not found"
	case errors.Is(err, tenant.ErrVersionConflict):
		status, code = http.StatusPreconditionFailed, "version_conflict"
	case errors.Is(err, ErrUnknownPlan):
		status, code = http.StatusBadRequest, "unknown_plan"
	case errors.Is(err, ErrInvalidStatus):
		status, code = http.StatusBadRequest, "invalid_status"
	case errors.Is(err, ErrInvalidCycle):
		status, code = http.StatusBadRequest, "invalid_billing_cycle"
	case errors.Is(err, ErrNotTrialPlan):
		status, code = http.StatusBadRequest, "payment_required"
	case errors.Is(err, billing.ErrPaymentDeclined):
		status, code = http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, billing.ErrProviderUnavailable):
		status, code = http.StatusServiceUnavailable, "payment_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "request_cancelled"
	}
	if status >= http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{
		"error":   code,
		"message": msg,
	})
}
