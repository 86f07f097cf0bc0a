package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamloop/backend/internal/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Store = (*Postgres)(nil)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	db   querier
	pool *pgxpool.Pool // nil when transaction-scoped
}

// NewPostgres creates a PostgreSQL-backed store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{db: pool, pool: pool}
}

// WithTx begins a transaction and runs fn against a tx-scoped store.
// Any error rolls the whole transaction back. Nested calls run in the
// already-open transaction.
func (s *Postgres) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(&Postgres{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const userColumns = `id, email, password_hash, name, role, organization_id, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.OrganizationID, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByEmail returns the user with the given email, in any organization.
func (s *Postgres) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// FindUserByID returns a user by ID.
func (s *Postgres) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// FindUserInOrganization returns the user with the given email inside one organization.
func (s *Postgres) FindUserInOrganization(ctx context.Context, orgID uuid.UUID, email string) (*models.User, error) {
	return scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE organization_id = $1 AND email = $2`, orgID, email))
}

// InsertUser inserts a new user and fills server-assigned fields.
func (s *Postgres) InsertUser(ctx context.Context, u *models.User) error {
	const q = `INSERT INTO users (id, email, password_hash, name, role, organization_id)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	return s.db.QueryRow(ctx, q, u.Email, u.PasswordHash, u.Name, string(u.Role), u.OrganizationID).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
}

// DeleteUser removes a user row.
func (s *Postgres) DeleteUser(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

// CountUsersInOrganization returns the current member count for an organization.
func (s *Postgres) CountUsersInOrganization(ctx context.Context, orgID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE organization_id = $1`, orgID).Scan(&n)
	return n, err
}

// ListUsersInOrganization returns all members of an organization without password hashes.
func (s *Postgres) ListUsersInOrganization(ctx context.Context, orgID uuid.UUID) ([]models.UserPublic, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, email, name, role, organization_id, created_at FROM users WHERE organization_id = $1 ORDER BY created_at ASC`,
		orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.UserPublic
	for rows.Next() {
		var u models.UserPublic
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.OrganizationID, &u.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

// InsertOrganization inserts a new organization and fills server-assigned fields.
func (s *Postgres) InsertOrganization(ctx context.Context, org *models.Organization) error {
	const q = `INSERT INTO organizations (id, name, slug, subscription_plan)
		VALUES (gen_random_uuid(), $1, $2, $3)
		RETURNING id, subscription_plan, created_at, updated_at`
	if org.Plan == "" {
		org.Plan = models.PlanFree
	}
	return s.db.QueryRow(ctx, q, org.Name, org.Slug, string(org.Plan)).
		Scan(&org.ID, &org.Plan, &org.CreatedAt, &org.UpdatedAt)
}

const orgColumns = `id, name, slug, subscription_plan, created_at, updated_at`

func scanOrg(row pgx.Row) (*models.Organization, error) {
	var o models.Organization
	err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.Plan, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// FindOrganization returns an organization by ID.
func (s *Postgres) FindOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	return scanOrg(s.db.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id))
}

// FindOrganizationForUpdate returns an organization by ID with its row
// locked until the transaction ends. A plain COUNT takes no lock, so
// admission paths lock the organization first; a second admission blocks
// here and re-reads the member count after the first commits.
func (s *Postgres) FindOrganizationForUpdate(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	return scanOrg(s.db.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1 FOR UPDATE`, id))
}

// FindOrganizationBySlug returns an organization by slug.
func (s *Postgres) FindOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	return scanOrg(s.db.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE slug = $1`, slug))
}

// UpdateOrganizationPlan sets the subscription plan and returns the updated row.
func (s *Postgres) UpdateOrganizationPlan(ctx context.Context, id uuid.UUID, plan models.Plan) (*models.Organization, error) {
	const q = `UPDATE organizations SET subscription_plan = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + orgColumns
	return scanOrg(s.db.QueryRow(ctx, q, id, string(plan)))
}

// FindRefreshToken returns a refresh token record by token value.
func (s *Postgres) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var r models.RefreshToken
	err := s.db.QueryRow(ctx,
		`SELECT id, token, user_id, expires_at, created_at FROM refresh_tokens WHERE token = $1`, token).
		Scan(&r.ID, &r.Token, &r.UserID, &r.ExpiresAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertRefreshToken persists a refresh token record. A unique violation on
// the token value is a store error: tokens are cryptographically random and
// a collision is an integrity failure, not a business outcome.
func (s *Postgres) InsertRefreshToken(ctx context.Context, rec *models.RefreshToken) error {
	const q = `INSERT INTO refresh_tokens (id, token, user_id, expires_at)
		VALUES (gen_random_uuid(), $1, $2, $3)
		RETURNING id, created_at`
	return s.db.QueryRow(ctx, q, rec.Token, rec.UserID, rec.ExpiresAt).Scan(&rec.ID, &rec.CreatedAt)
}

// DeleteRefreshToken removes a refresh token record, reporting whether a
// row was deleted. Deleting an absent token is not an error.
func (s *Postgres) DeleteRefreshToken(ctx context.Context, token string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const inviteColumns = `id, email, organization_id, role, token, expires_at, accepted, created_at`

func scanInvite(row pgx.Row) (*models.Invite, error) {
	var i models.Invite
	err := row.Scan(&i.ID, &i.Email, &i.OrganizationID, &i.Role, &i.Token, &i.ExpiresAt, &i.Accepted, &i.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// FindInviteByToken returns an invite by its token value.
func (s *Postgres) FindInviteByToken(ctx context.Context, token string) (*models.Invite, error) {
	return scanInvite(s.db.QueryRow(ctx, `SELECT `+inviteColumns+` FROM invites WHERE token = $1`, token))
}

// FindLiveInvite returns the non-accepted, non-expired invite for a
// (organization, email) pair, if one exists.
func (s *Postgres) FindLiveInvite(ctx context.Context, orgID uuid.UUID, email string) (*models.Invite, error) {
	const q = `SELECT ` + inviteColumns + ` FROM invites
		WHERE organization_id = $1 AND email = $2 AND accepted = FALSE AND expires_at > NOW()`
	return scanInvite(s.db.QueryRow(ctx, q, orgID, email))
}

// InsertInvite persists a new invite and fills server-assigned fields.
func (s *Postgres) InsertInvite(ctx context.Context, inv *models.Invite) error {
	const q = `INSERT INTO invites (id, email, organization_id, role, token, expires_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, accepted, created_at`
	return s.db.QueryRow(ctx, q, inv.Email, inv.OrganizationID, string(inv.Role), inv.Token, inv.ExpiresAt).
		Scan(&inv.ID, &inv.Accepted, &inv.CreatedAt)
}

// MarkInviteAccepted flips accepted to true. The WHERE accepted = FALSE
// guard makes concurrent redemption attempts resolve to a single winner.
func (s *Postgres) MarkInviteAccepted(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE invites SET accepted = TRUE WHERE id = $1 AND accepted = FALSE`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// InsertActivity writes a durable audit-log entry.
func (s *Postgres) InsertActivity(ctx context.Context, a *models.Activity) error {
	const q = `INSERT INTO activities (id, organization_id, actor_id, target_id, type, message, metadata)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, NULLIF($5, ''), $6)
		RETURNING id, created_at`
	return s.db.QueryRow(ctx, q, a.OrganizationID, a.ActorID, a.TargetID, string(a.Type), a.Message, a.Metadata).
		Scan(&a.ID, &a.CreatedAt)
}

// ListActivities returns an organization's audit log, newest first, with
// actor and target summaries.
func (s *Postgres) ListActivities(ctx context.Context, orgID uuid.UUID) ([]models.ActivityEntry, error) {
	const q = `SELECT a.id, a.organization_id, a.actor_id, a.target_id, a.type,
			COALESCE(a.message, ''), a.metadata, a.created_at,
			actor.id, actor.name, actor.email,
			target.id, target.name, target.email
		FROM activities a
		LEFT JOIN users actor ON actor.id = a.actor_id
		LEFT JOIN users target ON target.id = a.target_id
		WHERE a.organization_id = $1
		ORDER BY a.created_at DESC`
	rows, err := s.db.Query(ctx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ActivityEntry
	for rows.Next() {
		var e models.ActivityEntry
		var actorID, targetID *uuid.UUID
		var actorName, actorEmail, targetName, targetEmail *string
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.ActorID, &e.TargetID, &e.Type,
			&e.Message, &e.Metadata, &e.CreatedAt,
			&actorID, &actorName, &actorEmail,
			&targetID, &targetName, &targetEmail); err != nil {
			return nil, err
		}
		if actorID != nil {
			e.Actor = &models.ActorSummary{ID: *actorID, Name: *actorName, Email: *actorEmail}
		}
		if targetID != nil {
			e.Target = &models.ActorSummary{ID: *targetID, Name: *targetName, Email: *targetEmail}
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
