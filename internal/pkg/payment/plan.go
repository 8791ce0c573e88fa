package payment

import (
	"strings"

	"github.com/zelera/booknest/app/models"
	"github.com/zelera/booknest/internal/pkg/env"
)

// DriveLinks is the static plan -> deliverable URL table supplied at
// startup.
type DriveLinks map[string]string

// NewDriveLinksFromEnv loads the per-plan download links.
func NewDriveLinksFromEnv() DriveLinks {
	return DriveLinks{
		models.PlanBasic:    strings.TrimSpace(env.GetEnv("DRIVE_LINK_BASIC", "")),
		models.PlanStandard: strings.TrimSpace(env.GetEnv("DRIVE_LINK_STANDARD", "")),
		models.PlanPremium:  strings.TrimSpace(env.GetEnv("DRIVE_LINK_PREMIUM", "")),
	}
}

// Resolve returns the drive link for a plan. Unknown plan keys resolve
// to the premium link. That fallback mirrors long-standing checkout
// behavior and is intentional until product says otherwise; do not
// "fix" it to an error here.
func (d DriveLinks) Resolve(plan string) string {
	if link, ok := d[normalizePlan(plan)]; ok && link != "" {
		return link
	}
	return d[models.PlanPremium]
}

func normalizePlan(plan string) string {
	return strings.ToLower(strings.TrimSpace(plan))
}

// IsKnownPlan reports whether the plan key is one of the sellable plans.
func IsKnownPlan(plan string) bool {
	switch normalizePlan(plan) {
	case models.PlanBasic, models.PlanStandard, models.PlanPremium:
		return true
	default:
		return false
	}
}
