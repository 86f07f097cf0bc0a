package models

import (
	"time"

	"github.com/google/uuid"
)

// Invite is a single-use, time-boxed credential permitting one new member
// to join an organization with a pre-assigned role. Rows are never deleted;
// acceptance flips Accepted exactly once.
type Invite struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Role           Role      `json:"role"`
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expires_at"`
	Accepted       bool      `json:"accepted"`
	CreatedAt      time.Time `json:"created_at"`
}

// Expired reports whether the invite is past its validity window.
func (i *Invite) Expired(now time.Time) bool {
	return i.ExpiresAt.Before(now)
}
