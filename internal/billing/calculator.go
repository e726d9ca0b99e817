package billing

import (
	"time"

	"github.com/firstgrade/hms/internal/plans"
)

// TrialDays is the grace/trial window granted at tenant creation and when a
// free plan is started.
const TrialDays = 7

// Clock supplies "today". Tests pin it; production uses SystemClock.
type Clock interface {
	Today() Date
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Today() Date { return DateOf(time.Now()) }

// FixedClock always returns the same date.
type FixedClock Date

func (c FixedClock) Today() Date { return Date(c) }

// NextBillingDate computes when a tenant is next charged.
//
// A positive trialDays wins over the cycle. Otherwise monthly adds one
// calendar month and yearly one calendar year; when the target month is
// shorter, the result is its last day (Jan 31 -> Feb 28, Feb 29 -> Feb 28).
func NextBillingDate(today Date, cycle plans.BillingCycle, trialDays int) Date {
	if trialDays > 0 {
		return today.AddDays(trialDays)
	}
	if cycle == plans.Monthly {
		return addMonthsClamped(today, 1)
	}
	return addMonthsClamped(today, 12)
}

func addMonthsClamped(d Date, months int) Date {
	y, m, day := d.t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return NewDate(first.Year(), first.Month(), day)
}
