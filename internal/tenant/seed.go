package tenant

import (
	"github.com/firstgrade/hms/internal/billing"
	"github.com/firstgrade/hms/internal/plans"
)

// DefaultTenants is the built-in single-tenant seed used when no usable
// persisted collection exists.
func DefaultTenants() []Tenant {
	return []Tenant{
		{
			ID:   "TEN-001",
			Slug: "shirbaline",
			Profile: Profile{
				Name:       "FirstGrade Hospital Management System",
				ShortName:  "SHIMS",
				Email:      "info@shirbalinehospital.com",
				Phone:      "+234 803 456 7890",
				Address:    "Hospital Road, Dutse",
				City:       "Dutse",
				State:      "Jigawa",
				Country:    "Nigeria",
				Website:    "www.shirbalinehospital.com",
				LogoText:   "SH",
				BrandColor: "hsl(152, 69%, 31%)",
			},
			PlanID:             plans.Professional,
			BillingCycle:       plans.Monthly,
			SubscriptionStatus: StatusActive,
			NextBillingDate:    billing.MustParseDate("2026-02-15"),
			CreatedAt:          billing.MustParseDate("2024-09-12"),
			Usage: Usage{
				Staff:     24,
				Patients:  1247,
				StorageGB: 32,
			},
			Limits: plans.Limits{
				Staff:     150,
				Patients:  20000,
				StorageGB: 250,
			},
		},
	}
}
