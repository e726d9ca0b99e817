package dashboard

import (
	"math"

	"github.com/firstgrade/hms/internal/metrics"
	"github.com/firstgrade/hms/internal/plans"
	"github.com/firstgrade/hms/internal/tenant"
)

// Risk buckets a tenant's peak usage ratio.
type Risk string

const (
	RiskLow    Risk = "Low"
	RiskMedium Risk = "Medium"
	RiskHigh   Risk = "High"
)

// RiskFor maps a peak usage ratio to a risk bucket: above 0.9 is High,
// above 0.75 Medium.
func RiskFor(peak float64) Risk {
	switch {
	case peak > 0.9:
		return RiskHigh
	case peak > 0.75:
		return RiskMedium
	default:
		return RiskLow
	}
}

// HealthRow is the capacity picture for one tenant.
type HealthRow struct {
	TenantID     string        `json:"tenantId"`
	Name         string        `json:"name"`
	PlanID       plans.ID      `json:"planId"`
	Status       tenant.Status `json:"subscriptionStatus"`
	StaffRatio   float64       `json:"staffRatio"`
	PatientRatio float64       `json:"patientRatio"`
	StorageRatio float64       `json:"storageRatio"`
	PeakUsage    float64       `json:"peakUsage"`
	Risk         Risk          `json:"risk"`
}

// Stats is the platform operator overview.
type Stats struct {
	TotalTenants    int              `json:"totalTenants"`
	ActiveTenants   int              `json:"activeTenants"`
	InactiveTenants int              `json:"inactiveTenants"`
	AtRiskTenants   int              `json:"atRiskTenants"`
	MRR             int64            `json:"mrr"`
	PlanMix         map[plans.ID]int `json:"planMix"`
	Health          []HealthRow      `json:"health"`
}

// counts reports whether a status contributes to revenue.
func counts(s tenant.Status) bool {
	return s == tenant.StatusActive || s == tenant.StatusGrace
}

// MRR sums the monthly equivalent of every active or grace tenant's plan.
// Tenants on unknown plans contribute nothing.
func MRR(tenants []tenant.Tenant, catalog *plans.Catalog) int64 {
	var total int64
	for _, t := range tenants {
		if !counts(t.SubscriptionStatus) {
			continue
		}
		p, ok := catalog.Get(t.PlanID)
		if !ok {
			continue
		}
		total += p.MonthlyEquivalent(t.BillingCycle)
	}
	return total
}

// usageRatio is used/limit. A zero limit counts as full once anything is used.
func usageRatio(used, limit int) float64 {
	if limit <= 0 {
		if used > 0 {
			return 1
		}
		return 0
	}
	return float64(used) / float64(limit)
}

// Health builds one row per tenant in store order.
func Health(tenants []tenant.Tenant) []HealthRow {
	rows := make([]HealthRow, 0, len(tenants))
	for _, t := range tenants {
		row := HealthRow{
			TenantID:     t.ID,
			Name:         t.Profile.Name,
			PlanID:       t.PlanID,
			Status:       t.SubscriptionStatus,
			StaffRatio:   usageRatio(t.Usage.Staff, t.Limits.Staff),
			PatientRatio: usageRatio(t.Usage.Patients, t.Limits.Patients),
			StorageRatio: usageRatio(t.Usage.StorageGB, t.Limits.StorageGB),
		}
		row.PeakUsage = math.Max(row.StaffRatio, math.Max(row.PatientRatio, row.StorageRatio))
		row.Risk = RiskFor(row.PeakUsage)
		rows = append(rows, row)
	}
	return rows
}

// Compute derives the overview from a tenant snapshot.
func Compute(tenants []tenant.Tenant, catalog *plans.Catalog) Stats {
	st := Stats{
		TotalTenants: len(tenants),
		MRR:          MRR(tenants, catalog),
		PlanMix:      make(map[plans.ID]int),
		Health:       Health(tenants),
	}
	for _, p := range catalog.All() {
		st.PlanMix[p.ID] = 0
	}
	for _, t := range tenants {
		if counts(t.SubscriptionStatus) {
			st.ActiveTenants++
			st.PlanMix[t.PlanID]++
		} else {
			st.InactiveTenants++
		}
	}
	for _, row := range st.Health {
		if row.Risk != RiskLow {
			st.AtRiskTenants++
		}
	}
	return st
}

// RecordGauges publishes tenant counts by status and MRR to Prometheus.
func RecordGauges(tenants []tenant.Tenant, catalog *plans.Catalog) {
	byStatus := map[tenant.Status]int{
		tenant.StatusActive:    0,
		tenant.StatusGrace:     0,
		tenant.StatusSuspended: 0,
		tenant.StatusExpired:   0,
	}
	for _, t := range tenants {
		byStatus[t.SubscriptionStatus]++
	}
	for status, n := range byStatus {
		metrics.TenantsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
	metrics.MonthlyRecurringRevenue.Set(float64(MRR(tenants, catalog)))
}
