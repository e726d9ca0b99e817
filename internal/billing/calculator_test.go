package billing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/firstgrade/hms/internal/plans"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextBillingDate(t *testing.T) {
	tests := []struct {
		name  string
		today string
		cycle plans.BillingCycle
		trial int
		want  string
	}{
		{"monthly", "2026-01-15", plans.Monthly, 0, "2026-02-15"},
		{"trial overrides monthly", "2026-01-15", plans.Monthly, 7, "2026-01-22"},
		{"trial overrides yearly", "2026-01-15", plans.Yearly, 7, "2026-01-22"},
		{"yearly", "2026-01-15", plans.Yearly, 0, "2027-01-15"},
		{"month end clamps", "2026-01-31", plans.Monthly, 0, "2026-02-28"},
		{"leap month end clamps", "2028-01-31", plans.Monthly, 0, "2028-02-29"},
		{"december rolls year", "2026-12-31", plans.Monthly, 0, "2027-01-31"},
		{"leap day yearly", "2024-02-29", plans.Yearly, 0, "2025-02-28"},
		{"trial crosses month", "2026-01-28", plans.Monthly, 7, "2026-02-04"},
		{"negative trial ignored", "2026-01-15", plans.Monthly, -3, "2026-02-15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextBillingDate(MustParseDate(tt.today), tt.cycle, tt.trial)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFixedClock(t *testing.T) {
	c := FixedClock(MustParseDate("2026-01-15"))
	assert.Equal(t, "2026-01-15", c.Today().String())
}

func TestDateJSON(t *testing.T) {
	d := MustParseDate("2026-02-15")
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2026-02-15"`, string(b))

	var back Date
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back.Equal(d))

	var zero Date
	b, _ = json.Marshal(zero)
	assert.Equal(t, `""`, string(b))

	var fromISO Date
	require.NoError(t, json.Unmarshal([]byte(`"2026-02-15T09:30:00.000Z"`), &fromISO))
	assert.Equal(t, "2026-02-15", fromISO.String())

	var bad Date
	assert.Error(t, json.Unmarshal([]byte(`"15/02/2026"`), &bad))
}

func TestDateArithmetic(t *testing.T) {
	d := MustParseDate("2026-01-15")
	assert.Equal(t, 7, d.DaysUntil(d.AddDays(7)))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.AddDays(1).After(d))
	assert.Equal(t, "2026-01-15", DateOf(time.Date(2026, 1, 15, 23, 59, 0, 0, time.UTC)).String())
}

func TestDateScan(t *testing.T) {
	var d Date
	require.NoError(t, d.Scan(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-03-01", d.String())
	require.NoError(t, d.Scan("2026-03-02"))
	assert.Equal(t, "2026-03-02", d.String())
	require.NoError(t, d.Scan(nil))
	assert.True(t, d.IsZero())
	assert.Error(t, d.Scan(42))
}
