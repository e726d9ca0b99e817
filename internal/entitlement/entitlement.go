// Package entitlement decides which features a tenant may use and whether
// its workspace is read-only.
package entitlement

import (
	"github.com/firstgrade/hms/internal/plans"
	"github.com/firstgrade/hms/internal/tenant"
)

// IsFeatureEnabled is true only for an active tenant whose plan includes
// feature. A nil tenant or plan enables nothing.
func IsFeatureEnabled(t *tenant.Tenant, p *plans.Plan, feature string) bool {
	if t == nil || p == nil {
		return false
	}
	if t.SubscriptionStatus != tenant.StatusActive {
		return false
	}
	return p.HasFeature(feature)
}

// IsReadOnly is true for suspended and expired tenants. Grace is not
// read-only even though it enables no features.
func IsReadOnly(t *tenant.Tenant) bool {
	return t.IsReadOnly()
}

// PlanFor resolves the tenant's plan. Unknown plan ids yield nil so that
// evaluation fails closed.
func PlanFor(t *tenant.Tenant, catalog *plans.Catalog) *plans.Plan {
	if t == nil || catalog == nil {
		return nil
	}
	p, ok := catalog.Get(t.PlanID)
	if !ok {
		return nil
	}
	return &p
}

// Entitlements is the evaluated view of one tenant.
type Entitlements struct {
	TenantID  string          `json:"tenantId"`
	PlanID    plans.ID        `json:"planId"`
	PlanKnown bool            `json:"planKnown"`
	Status    tenant.Status   `json:"status"`
	ReadOnly  bool            `json:"readOnly"`
	Features  map[string]bool `json:"features"`
	Limits    plans.Limits    `json:"limits"`
	Usage     tenant.Usage    `json:"usage"`
}

// Evaluate answers every known feature for t.
func Evaluate(t *tenant.Tenant, catalog *plans.Catalog) Entitlements {
	p := PlanFor(t, catalog)
	e := Entitlements{
		PlanKnown: p != nil,
		ReadOnly:  IsReadOnly(t),
		Features:  make(map[string]bool, len(plans.AllFeatures())),
	}
	if t != nil {
		e.TenantID = t.ID
		e.PlanID = t.PlanID
		e.Status = t.SubscriptionStatus
		e.Limits = t.Limits
		e.Usage = t.Usage
	}
	for _, f := range plans.AllFeatures() {
		e.Features[f] = IsFeatureEnabled(t, p, f)
	}
	return e
}
