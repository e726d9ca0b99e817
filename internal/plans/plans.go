// Package plans holds the compiled-in subscription plan catalogue.
package plans

import "math"

// ID identifies a pricing tier.
type ID string

const (
	Starter      ID = "starter"
	Professional ID = "professional"
	Enterprise   ID = "enterprise"
)

// BillingCycle is how often a tenant is charged.
type BillingCycle string

const (
	Monthly BillingCycle = "monthly"
	Yearly  BillingCycle = "yearly"
)

// Valid reports whether the cycle is one of the known values.
func (c BillingCycle) Valid() bool {
	return c == Monthly || c == Yearly
}

// Feature tokens gate product capabilities.
const (
	FeatureCore         = "core"
	FeatureWallet       = "wallet"
	FeatureReports      = "reports"
	FeatureAnalytics    = "analytics"
	FeatureIntegrations = "integrations"
)

// Limits are the provisioned resource caps of a plan.
type Limits struct {
	Staff     int `json:"staff"`
	Patients  int `json:"patients"`
	StorageGB int `json:"storageGb"`
}

// Plan is one immutable catalogue entry.
type Plan struct {
	ID             ID       `json:"id"`
	Name           string   `json:"name"`
	PriceMonthly   int64    `json:"priceMonthly"`
	PriceYearly    int64    `json:"priceYearly"`
	StaffLimit     int      `json:"staffLimit"`
	PatientLimit   int      `json:"patientLimit"`
	StorageGBLimit int      `json:"storageGb"`
	Features       []string `json:"features"`
}

// IsTrial is true when the plan costs nothing on either cycle.
func (p Plan) IsTrial() bool {
	return p.PriceMonthly == 0 && p.PriceYearly == 0
}

// Price returns the charge for one period of the given cycle.
func (p Plan) Price(cycle BillingCycle) int64 {
	if cycle == Yearly {
		return p.PriceYearly
	}
	return p.PriceMonthly
}

// MonthlyEquivalent normalises the price to one month (yearly/12, rounded).
func (p Plan) MonthlyEquivalent(cycle BillingCycle) int64 {
	if cycle == Yearly {
		return int64(math.Round(float64(p.PriceYearly) / 12))
	}
	return p.PriceMonthly
}

// Limits snapshots the plan's resource caps.
func (p Plan) Limits() Limits {
	return Limits{
		Staff:     p.StaffLimit,
		Patients:  p.PatientLimit,
		StorageGB: p.StorageGBLimit,
	}
}

// HasFeature reports whether the plan includes the feature token.
func (p Plan) HasFeature(feature string) bool {
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}

var allFeatures = []string{
	FeatureCore,
	FeatureWallet,
	FeatureReports,
	FeatureAnalytics,
	FeatureIntegrations,
}

// AllFeatures lists every feature token in display order.
func AllFeatures() []string {
	out := make([]string, len(allFeatures))
	copy(out, allFeatures)
	return out
}

// IsFeature reports whether f is a known feature token.
func IsFeature(f string) bool {
	for _, known := range allFeatures {
		if known == f {
			return true
		}
	}
	return false
}

// Catalog is an ordered, read-only list of plans. The first entry is the
// fallback used by fail-open resolution.
type Catalog struct {
	plans []Plan
}

// NewCatalog builds a catalogue from the given plans, keeping their order.
// At least one plan is required since First must always have a fallback; it
// panics otherwise.
func NewCatalog(ps ...Plan) *Catalog {
	if len(ps) == 0 {
		panic("plans: catalogue needs at least one plan")
	}
	cp := make([]Plan, len(ps))
	for i, p := range ps {
		p.Features = append([]string(nil), p.Features...)
		cp[i] = p
	}
	return &Catalog{plans: cp}
}

// Default is the compiled-in catalogue.
var Default = NewCatalog(
	Plan{
		ID:             Starter,
		Name:           "Start 7 days Free Trial",
		PriceMonthly:   0,
		PriceYearly:    0,
		StaffLimit:     25,
		PatientLimit:   2500,
		StorageGBLimit: 50,
		Features:       allFeatures,
	},
	Plan{
		ID:             Professional,
		Name:           "Professional",
		PriceMonthly:   99999,
		PriceYearly:    999999,
		StaffLimit:     150,
		PatientLimit:   20000,
		StorageGBLimit: 250,
		Features:       allFeatures,
	},
	Plan{
		ID:             Enterprise,
		Name:           "Enterprise",
		PriceMonthly:   149999,
		PriceYearly:    1499999,
		StaffLimit:     1000,
		PatientLimit:   200000,
		StorageGBLimit: 2000,
		Features:       allFeatures,
	},
)

// All returns a copy of every plan in catalogue order.
func (c *Catalog) All() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Get looks a plan up by id.
func (c *Catalog) Get(id ID) (Plan, bool) {
	for _, p := range c.plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// First returns the fallback plan. NewCatalog guarantees there is one.
func (c *Catalog) First() Plan {
	return c.plans[0]
}

// Resolve returns the plan for id, or the first plan when id is unknown.
func (c *Catalog) Resolve(id ID) Plan {
	if p, ok := c.Get(id); ok {
		return p
	}
	return c.First()
}

// Valid reports whether id names a catalogue plan.
func (c *Catalog) Valid(id ID) bool {
	_, ok := c.Get(id)
	return ok
}
