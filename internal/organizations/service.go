// Package organizations implements tenant-level operations: the
// organization summary, subscription plan changes, and admin broadcasts.
package organizations

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teamloop/backend/internal/events"
	"github.com/teamloop/backend/internal/models"
	"github.com/teamloop/backend/internal/store"
)

var (
	// ErrOrgNotFound means the organization does not exist.
	ErrOrgNotFound = errors.New("organization not found")
	// ErrSamePlan means the organization is already on the requested plan.
	ErrSamePlan = errors.New("organization is already on this plan")
)

// Broadcaster pushes a domain event to an organization's room.
type Broadcaster interface {
	Broadcast(orgID uuid.UUID, evt events.Event)
	RoomSize(orgID uuid.UUID) int
}

// Summary is the organization overview returned by GET /organizations.
type Summary struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Slug        string      `json:"slug"`
	Plan        models.Plan `json:"subscription_plan"`
	MemberCount int         `json:"member_count"`
	MemberLimit *int        `json:"member_limit,omitempty"` // nil for unbounded plans
	CreatedAt   time.Time   `json:"created_at"`
}

// Service implements organization operations.
type Service struct {
	store  store.Store
	hub    Broadcaster
	logger *zap.Logger
}

// NewService creates an organizations service.
func NewService(st store.Store, hub Broadcaster, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, hub: hub, logger: logger}
}

// Get returns the organization summary with member count and plan limit.
func (s *Service) Get(ctx context.Context, orgID uuid.UUID) (*Summary, error) {
	org, err := s.store.FindOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrgNotFound
		}
		return nil, err
	}
	count, err := s.store.CountUsersInOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		ID:          org.ID,
		Name:        org.Name,
		Slug:        org.Slug,
		Plan:        org.Plan,
		MemberCount: count,
		CreatedAt:   org.CreatedAt,
	}
	if limit, bounded := org.Plan.MemberLimit(); bounded {
		summary.MemberLimit = &limit
	}
	return summary, nil
}

// UpgradePlan changes the subscription plan. The plan update and its
// PLAN_UPGRADED audit entry commit together; the event fans out after.
func (s *Service) UpgradePlan(ctx context.Context, orgID, actorID uuid.UUID, plan models.Plan) (*models.Organization, error) {
	var from models.Plan
	var updated *models.Organization
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		org, err := tx.FindOrganization(ctx, orgID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrOrgNotFound
			}
			return err
		}
		if org.Plan == plan {
			return ErrSamePlan
		}
		from = org.Plan
		updated, err = tx.UpdateOrganizationPlan(ctx, orgID, plan)
		if err != nil {
			return err
		}
		meta, _ := json.Marshal(map[string]any{"from": from, "to": plan})
		return tx.InsertActivity(ctx, &models.Activity{
			OrganizationID: orgID,
			ActorID:        &actorID,
			Type:           models.ActivityPlanUpgraded,
			Metadata:       meta,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.hub != nil {
		s.hub.Broadcast(orgID, events.PlanUpgraded(from, plan, updated.UpdatedAt))
	}
	s.logger.Info("plan upgraded",
		zap.String("org_id", orgID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(plan)),
	)
	return updated, nil
}

// BroadcastMessage records a BROADCAST_MESSAGE activity and fans the event
// out to the organization's room. The audit write is durable before any
// socket delivery, so the feed always reflects every broadcast.
func (s *Service) BroadcastMessage(ctx context.Context, orgID, actorID uuid.UUID, message string) (*models.Activity, error) {
	activity := &models.Activity{
		OrganizationID: orgID,
		ActorID:        &actorID,
		Type:           models.ActivityBroadcastMessage,
		Message:        message,
	}
	if err := s.store.InsertActivity(ctx, activity); err != nil {
		return nil, err
	}

	if s.hub != nil {
		s.hub.Broadcast(orgID, events.BroadcastMessage(message, actorID, activity.CreatedAt))
	}
	return activity, nil
}

// RoomSize reports how many connections are currently joined to the
// organization's room.
func (s *Service) RoomSize(orgID uuid.UUID) int {
	if s.hub == nil {
		return 0
	}
	return s.hub.RoomSize(orgID)
}
