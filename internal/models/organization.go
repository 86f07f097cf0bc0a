package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan is the organization's subscription plan.
type Plan string

const (
	PlanFree       Plan = "FREE"
	PlanPro        Plan = "PRO"
	PlanEnterprise Plan = "ENTERPRISE"
)

// Valid reports whether the plan is a known variant.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// MemberLimit returns the maximum member count for the plan.
// bounded is false for plans with no limit.
func (p Plan) MemberLimit() (limit int, bounded bool) {
	switch p {
	case PlanFree:
		return 3, true
	case PlanPro:
		return 10, true
	case PlanEnterprise:
		return 0, false
	}
	// Unknown plans admit nobody; Valid() is checked before any write.
	return 0, true
}

// Organization represents a tenant: the unit of data isolation and
// plan-based capacity limiting.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Plan      Plan      `json:"subscription_plan"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
