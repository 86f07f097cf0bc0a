// Package store defines the persistence contract for the backend and its
// PostgreSQL and in-memory implementations. Multi-step mutations that must
// be atomic run inside WithTx; the transaction boundary is the unit of
// atomicity for capacity checks, invite redemption, and session rotation.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/teamloop/backend/internal/models"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence contract consumed by the service layer.
type Store interface {
	// Users
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserInOrganization(ctx context.Context, orgID uuid.UUID, email string) (*models.User, error)
	InsertUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	CountUsersInOrganization(ctx context.Context, orgID uuid.UUID) (int, error)
	ListUsersInOrganization(ctx context.Context, orgID uuid.UUID) ([]models.UserPublic, error)

	// Organizations
	InsertOrganization(ctx context.Context, org *models.Organization) error
	FindOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	// FindOrganizationForUpdate locks the organization row for the rest of
	// the transaction. Admission paths take this lock before counting
	// members so concurrent admissions serialize and the plan limit holds.
	FindOrganizationForUpdate(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	FindOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error)
	UpdateOrganizationPlan(ctx context.Context, id uuid.UUID, plan models.Plan) (*models.Organization, error)

	// Refresh tokens (session registry)
	FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	InsertRefreshToken(ctx context.Context, rec *models.RefreshToken) error
	// DeleteRefreshToken reports whether a record was removed, so a
	// concurrent rotation race has exactly one winner.
	DeleteRefreshToken(ctx context.Context, token string) (bool, error)

	// Invites
	FindInviteByToken(ctx context.Context, token string) (*models.Invite, error)
	FindLiveInvite(ctx context.Context, orgID uuid.UUID, email string) (*models.Invite, error)
	InsertInvite(ctx context.Context, inv *models.Invite) error
	// MarkInviteAccepted flips accepted false->true and reports whether
	// this call performed the flip. The transition is irreversible.
	MarkInviteAccepted(ctx context.Context, id uuid.UUID) (bool, error)

	// Activities (audit log)
	InsertActivity(ctx context.Context, a *models.Activity) error
	ListActivities(ctx context.Context, orgID uuid.UUID) ([]models.ActivityEntry, error)

	// WithTx runs fn against a transaction-scoped store. On error the
	// transaction rolls back fully; nested calls reuse the open transaction.
	WithTx(ctx context.Context, fn func(Store) error) error
}
