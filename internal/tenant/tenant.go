// Package tenant models hospital accounts and keeps the tenant collection.
package tenant

import (
	"errors"

	"github.com/firstgrade/hms/internal/billing"
	"github.com/firstgrade/hms/internal/plans"
)

// Errors
var (
	ErrTenantNotFound  = errors.New("tenant: not found")
	ErrVersionConflict = errors.New("tenant: version conflict")
	ErrNoTenants       = errors.New("tenant: store is empty")
)

// Status is a tenant's payment standing.
type Status string

const (
	StatusActive    Status = "active"
	StatusGrace     Status = "grace"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusGrace, StatusSuspended, StatusExpired:
		return true
	}
	return false
}

// Profile is display and contact metadata. Fields are free text.
type Profile struct {
	Name       string `json:"name"`
	ShortName  string `json:"shortName"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	Website    string `json:"website"`
	LogoText   string `json:"logoText"`
	BrandColor string `json:"brandColor"`
}

// ProfilePatch carries the fields to overwrite; nil fields are left alone.
type ProfilePatch struct {
	Name       *string `json:"name,omitempty"`
	ShortName  *string `json:"shortName,omitempty"`
	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Address    *string `json:"address,omitempty"`
	City       *string `json:"city,omitempty"`
	State      *string `json:"state,omitempty"`
	Country    *string `json:"country,omitempty"`
	Website    *string `json:"website,omitempty"`
	LogoText   *string `json:"logoText,omitempty"`
	BrandColor *string `json:"brandColor,omitempty"`
}

// Apply shallow-merges the patch into p.
func (pp ProfilePatch) Apply(p Profile) Profile {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.Name, pp.Name)
	set(&p.ShortName, pp.ShortName)
	set(&p.Email, pp.Email)
	set(&p.Phone, pp.Phone)
	set(&p.Address, pp.Address)
	set(&p.City, pp.City)
	set(&p.State, pp.State)
	set(&p.Country, pp.Country)
	set(&p.Website, pp.Website)
	set(&p.LogoText, pp.LogoText)
	set(&p.BrandColor, pp.BrandColor)
	return p
}

// Usage is observed consumption, reported by external callers.
type Usage struct {
	Staff     int `json:"staff"`
	Patients  int `json:"patients"`
	StorageGB int `json:"storageGb"`
}

// UsagePatch overwrites the non-nil counters.
type UsagePatch struct {
	Staff     *int `json:"staff,omitempty"`
	Patients  *int `json:"patients,omitempty"`
	StorageGB *int `json:"storageGb,omitempty"`
}

// Apply shallow-merges the patch into u. Values are not clamped to limits.
func (up UsagePatch) Apply(u Usage) Usage {
	if up.Staff != nil {
		u.Staff = *up.Staff
	}
	if up.Patients != nil {
		u.Patients = *up.Patients
	}
	if up.StorageGB != nil {
		u.StorageGB = *up.StorageGB
	}
	return u
}

// Tenant is one hospital account.
type Tenant struct {
	ID                 string             `json:"id"`
	Slug               string             `json:"slug"`
	Profile            Profile            `json:"profile"`
	PlanID             plans.ID           `json:"planId"`
	BillingCycle       plans.BillingCycle `json:"billingCycle"`
	SubscriptionStatus Status             `json:"subscriptionStatus"`
	NextBillingDate    billing.Date       `json:"nextBillingDate"`
	CreatedAt          billing.Date       `json:"createdAt"`
	Usage              Usage              `json:"usage"`
	// Limits is a snapshot of the plan taken when the plan was last assigned.
	Limits  plans.Limits `json:"limits"`
	Version int64        `json:"version"`
}

// IsReadOnly is true for suspended and expired tenants. Grace tenants stay
// interactive even though they have no features.
func (t *Tenant) IsReadOnly() bool {
	if t == nil {
		return false
	}
	return t.SubscriptionStatus == StatusSuspended || t.SubscriptionStatus == StatusExpired
}

// BillingDue reports whether the next billing date is strictly before today.
func (t *Tenant) BillingDue(today billing.Date) bool {
	return !t.NextBillingDate.IsZero() && t.NextBillingDate.Before(today)
}
