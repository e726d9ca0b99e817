package plans

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultCatalogOrder(t *testing.T) {
	all := Default.All()
	assert.Len(t, all, 3)
	assert.Equal(t, Starter, all[0].ID)
	assert.Equal(t, Professional, all[1].ID)
	assert.Equal(t, Enterprise, all[2].ID)
	assert.Equal(t, Starter, Default.First().ID)
}

func TestIsTrial(t *testing.T) {
	starter, _ := Default.Get(Starter)
	pro, _ := Default.Get(Professional)
	assert.True(t, starter.IsTrial())
	assert.False(t, pro.IsTrial())
}

func TestResolveFallsBackToFirst(t *testing.T) {
	p := Default.Resolve(ID("doesnotexist"))
	assert.Equal(t, Starter, p.ID)

	p = Default.Resolve(Enterprise)
	assert.Equal(t, Enterprise, p.ID)
	assert.False(t, Default.Valid(ID("platinum")))
}

func TestPriceAndMonthlyEquivalent(t *testing.T) {
	pro, _ := Default.Get(Professional)
	assert.Equal(t, int64(99999), pro.Price(Monthly))
	assert.Equal(t, int64(999999), pro.Price(Yearly))
	assert.Equal(t, int64(99999), pro.MonthlyEquivalent(Monthly))
	assert.Equal(t, int64(83333), pro.MonthlyEquivalent(Yearly))
}

func TestLimitsAndFeatures(t *testing.T) {
	ent, _ := Default.Get(Enterprise)
	assert.Equal(t, Limits{Staff: 1000, Patients: 200000, StorageGB: 2000}, ent.Limits())
	assert.True(t, ent.HasFeature(FeatureWallet))
	assert.False(t, ent.HasFeature("telemedicine"))
}

func TestCatalogIsolatedFromCallerSlices(t *testing.T) {
	features := []string{FeatureCore}
	c := NewCatalog(Plan{ID: "x", Features: features})
	features[0] = "mutated"

	p, ok := c.Get("x")
	assert.True(t, ok)
	assert.Equal(t, []string{FeatureCore}, p.Features)
}

func TestNewCatalog_RequiresAPlan(t *testing.T) {
	assert.PanicsWithValue(t, "plans: catalogue needs at least one plan", func() { NewCatalog() })

	c := NewCatalog(Plan{ID: "only"})
	assert.Equal(t, ID("only"), c.First().ID)
	assert.Equal(t, ID("only"), c.Resolve("missing").ID)
}

func TestBillingCycleValid(t *testing.T) {
	assert.True(t, Monthly.Valid())
	assert.True(t, Yearly.Valid())
	assert.False(t, BillingCycle("weekly").Valid())
}
