package entitlement

import (
	"errors"
	"net/http"

	"github.com/firstgrade/hms/internal/auth"
	"github.com/firstgrade/hms/internal/plans"
	"github.com/firstgrade/hms/internal/tenant"
	"github.com/gin-gonic/gin"
)

// TenantSource looks up tenants by id.
type TenantSource interface {
	Get(id string) (tenant.Tenant, error)
}

// Guards enforce entitlements on tenant-scoped routes. The tenant id is read
// from the route param.
type Guards struct {
	tenants TenantSource
	catalog *plans.Catalog
	param   string
}

// NewGuards creates guards reading the tenant id from param (usually "id").
func NewGuards(tenants TenantSource, catalog *plans.Catalog, param string) *Guards {
	if param == "" {
		param = "id"
	}
	return &Guards{tenants: tenants, catalog: catalog, param: param}
}

// RequireRole rejects callers whose role is not in roles.
func RequireRole(roles ...auth.Role) gin.HandlerFunc {
	allowed := make(map[auth.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		id, ok := auth.GetIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authentication required.",
			})
			return
		}
		if !allowed[id.Role] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden_role",
				"message": "Your role cannot perform this action.",
			})
			return
		}
		c.Next()
	}
}

func (g *Guards) load(c *gin.Context) (*tenant.Tenant, bool) {
	t, err := g.tenants.Get(c.Param(g.param))
	if errors.Is(err, tenant.ErrTenantNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
		return nil, false
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load tenant"})
		return nil, false
	}
	return &t, true
}

// RequireFeature rejects requests for tenants that do not have feature
// enabled. Unknown plans and non-active tenants fail closed.
func (g *Guards) RequireFeature(feature string) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := g.load(c)
		if !ok {
			return
		}
		if !IsFeatureEnabled(t, PlanFor(t, g.catalog), feature) {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":   "feature_disabled",
				"message": "This feature is not available on the current subscription.",
				"feature": feature,
				"status":  t.SubscriptionStatus,
			})
			return
		}
		c.Next()
	}
}

// BlockWritesWhenReadOnly rejects mutating requests for suspended and expired
// tenants. Platform operators are exempt.
func (g *Guards) BlockWritesWhenReadOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if id, ok := auth.GetIdentity(c); ok && id.IsPlatformOperator() {
			c.Next()
			return
		}
		t, ok := g.load(c)
		if !ok {
			return
		}
		if IsReadOnly(t) {
			c.AbortWithStatusJSON(http.StatusLocked, gin.H{
				"error":   "read_only",
				"message": "The workspace is read-only until the subscription is renewed.",
				"status":  t.SubscriptionStatus,
			})
			return
		}
		c.Next()
	}
}
