// Package members implements the invite lifecycle and member management:
// time-boxed single-use invites, transactional acceptance, and removal
// with an audit trail.
package members

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teamloop/backend/internal/events"
	"github.com/teamloop/backend/internal/models"
	"github.com/teamloop/backend/internal/store"
	"github.com/teamloop/backend/pkg/utils"
)

var (
	// ErrOrgNotFound means the organization does not exist.
	ErrOrgNotFound = errors.New("organization not found")
	// ErrMemberLimitReached means the plan's member capacity is exhausted.
	ErrMemberLimitReached = errors.New("member limit reached for plan")
	// ErrAlreadyMember means the email already belongs to a member of the organization.
	ErrAlreadyMember = errors.New("user already exists in this organization")
	// ErrDuplicateInvite means a live invite already exists for the email.
	ErrDuplicateInvite = errors.New("invite already sent to this email")
	// ErrInviteNotFound means the token is unknown or already redeemed.
	ErrInviteNotFound = errors.New("invalid or already used invite token")
	// ErrInviteExpired means the invite is past its validity window.
	ErrInviteExpired = errors.New("invite has expired")
	// ErrEmailTaken means the invited email acquired an account through
	// another path; acceptance never merges accounts.
	ErrEmailTaken = errors.New("an account with this email already exists")
	// ErrSelfRemoval means an actor tried to remove themself.
	ErrSelfRemoval = errors.New("cannot remove yourself from the organization")
	// ErrCannotRemoveAdmin means the removal target is an admin.
	ErrCannotRemoveAdmin = errors.New("cannot remove an admin from the organization")
	// ErrMemberNotFound means the target user is not in the organization.
	ErrMemberNotFound = errors.New("user not found in this organization")
)

// Broadcaster pushes a domain event to an organization's room.
type Broadcaster interface {
	Broadcast(orgID uuid.UUID, evt events.Event)
}

// InviteMailer enqueues invite delivery. May be nil; delivery failure
// never fails the invite itself.
type InviteMailer interface {
	EnqueueInviteEmail(ctx context.Context, email, orgName, token string, expiresAt time.Time) error
}

// Service implements the invite lifecycle and member removal.
type Service struct {
	store     store.Store
	hub       Broadcaster
	mailer    InviteMailer
	inviteTTL time.Duration
	logger    *zap.Logger
}

// NewService creates a members service. mailer may be nil.
func NewService(st store.Store, hub Broadcaster, mailer InviteMailer, inviteTTL time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if inviteTTL <= 0 {
		inviteTTL = 24 * time.Hour
	}
	return &Service{store: st, hub: hub, mailer: mailer, inviteTTL: inviteTTL, logger: logger}
}

// ListMembers returns all members of an organization without password hashes.
func (s *Service) ListMembers(ctx context.Context, orgID uuid.UUID) ([]models.UserPublic, error) {
	return s.store.ListUsersInOrganization(ctx, orgID)
}

// CreateInvite creates a time-boxed single-use invite. Capacity, existing
// membership, and live-invite checks all run inside the transaction that
// inserts the invite, so concurrent creations cannot admit more members
// than the plan allows.
func (s *Service) CreateInvite(ctx context.Context, orgID, actorID uuid.UUID, email string, role models.Role) (*models.Invite, error) {
	if role == "" {
		role = models.RoleMember
	}
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	invite := &models.Invite{
		Email:          email,
		OrganizationID: orgID,
		Role:           role,
		Token:          uuid.NewString(),
		ExpiresAt:      time.Now().Add(s.inviteTTL),
	}
	var org *models.Organization
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		org, err = tx.FindOrganizationForUpdate(ctx, orgID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrOrgNotFound
			}
			return err
		}
		if err := checkCapacity(ctx, tx, org); err != nil {
			return err
		}
		if _, err := tx.FindUserInOrganization(ctx, orgID, email); err == nil {
			return ErrAlreadyMember
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if _, err := tx.FindLiveInvite(ctx, orgID, email); err == nil {
			return ErrDuplicateInvite
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := tx.InsertInvite(ctx, invite); err != nil {
			return err
		}
		return tx.InsertActivity(ctx, &models.Activity{
			OrganizationID: orgID,
			ActorID:        &actorID,
			Type:           models.ActivityInviteSent,
			Metadata:       mustMetadata(map[string]any{"invitedEmail": email, "role": role}),
		})
	})
	if err != nil {
		return nil, err
	}

	if s.mailer != nil {
		if err := s.mailer.EnqueueInviteEmail(ctx, email, org.Name, invite.Token, invite.ExpiresAt); err != nil {
			s.logger.Warn("invite email enqueue failed",
				zap.String("invite_id", invite.ID.String()),
				zap.Error(err),
			)
		}
	}
	s.logger.Info("invite created",
		zap.String("org_id", orgID.String()),
		zap.String("invite_id", invite.ID.String()),
	)
	return invite, nil
}

// AcceptInvite redeems an invite exactly once: the guarded accepted flip,
// the capacity re-check, the user insert, and the USER_JOINED audit entry
// are one atomic unit. The USER_JOINED event fans out only after commit.
func (s *Service) AcceptInvite(ctx context.Context, token, name, password string) (*models.User, error) {
	invite, err := s.store.FindInviteByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}
	if invite.Accepted {
		return nil, ErrInviteNotFound
	}
	if invite.Expired(time.Now()) {
		return nil, ErrInviteExpired
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Email:          invite.Email,
		PasswordHash:   hash,
		Name:           name,
		Role:           invite.Role,
		OrganizationID: invite.OrganizationID,
	}
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		flipped, err := tx.MarkInviteAccepted(ctx, invite.ID)
		if err != nil {
			return err
		}
		if !flipped {
			return ErrInviteNotFound
		}
		org, err := tx.FindOrganizationForUpdate(ctx, invite.OrganizationID)
		if err != nil {
			return err
		}
		if err := checkCapacity(ctx, tx, org); err != nil {
			return err
		}
		if _, err := tx.FindUserByEmail(ctx, invite.Email); err == nil {
			return ErrEmailTaken
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := tx.InsertUser(ctx, user); err != nil {
			return err
		}
		return tx.InsertActivity(ctx, &models.Activity{
			OrganizationID: invite.OrganizationID,
			ActorID:        &user.ID,
			TargetID:       &user.ID,
			Type:           models.ActivityUserJoined,
			Metadata:       mustMetadata(map[string]any{"role": user.Role}),
		})
	})
	if err != nil {
		return nil, err
	}

	if s.hub != nil {
		s.hub.Broadcast(invite.OrganizationID, events.UserJoined(user))
	}
	s.logger.Info("invite accepted",
		zap.String("org_id", invite.OrganizationID.String()),
		zap.String("user_id", user.ID.String()),
	)
	return user, nil
}

// RemoveMember removes a non-admin member. The USER_REMOVED audit entry is
// written before the user row is deleted, in the same transaction, so a
// failure never leaves a silent disappearance.
func (s *Service) RemoveMember(ctx context.Context, orgID, actorID, targetID uuid.UUID) error {
	if actorID == targetID {
		return ErrSelfRemoval
	}

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		target, err := tx.FindUserByID(ctx, targetID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrMemberNotFound
			}
			return err
		}
		if target.OrganizationID != orgID {
			return ErrMemberNotFound
		}
		if target.Role == models.RoleAdmin {
			return ErrCannotRemoveAdmin
		}
		err = tx.InsertActivity(ctx, &models.Activity{
			OrganizationID: orgID,
			ActorID:        &actorID,
			TargetID:       &targetID,
			Type:           models.ActivityUserRemoved,
			Metadata:       mustMetadata(map[string]any{"removedEmail": target.Email}),
		})
		if err != nil {
			return err
		}
		return tx.DeleteUser(ctx, targetID)
	})
	if err != nil {
		return err
	}

	if s.hub != nil {
		s.hub.Broadcast(orgID, events.UserRemoved(targetID, actorID))
	}
	s.logger.Info("member removed",
		zap.String("org_id", orgID.String()),
		zap.String("target_id", targetID.String()),
	)
	return nil
}

// checkCapacity fails when the organization is at or over its plan limit.
// Callers must hold the organization row lock (FindOrganizationForUpdate)
// so the count cannot move under a concurrent admission.
func checkCapacity(ctx context.Context, tx store.Store, org *models.Organization) error {
	limit, bounded := org.Plan.MemberLimit()
	if !bounded {
		return nil
	}
	count, err := tx.CountUsersInOrganization(ctx, org.ID)
	if err != nil {
		return err
	}
	if count >= limit {
		return ErrMemberLimitReached
	}
	return nil
}

func mustMetadata(m map[string]any) json.RawMessage {
	b, _ := json.Marshal(m)
	return b
}
