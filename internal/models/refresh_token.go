package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the persisted record of an issued refresh token.
// Exactly one active record exists per session; rotation replaces it
// atomically and logout/expiry destroys it.
type RefreshToken struct {
	ID        uuid.UUID `json:"id"`
	Token     string    `json:"token"`
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
