package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActivityType identifies the kind of audit event recorded for an organization.
type ActivityType string

const (
	ActivityUserJoined       ActivityType = "USER_JOINED"
	ActivityUserRemoved      ActivityType = "USER_REMOVED"
	ActivityUserRoleChanged  ActivityType = "USER_ROLE_CHANGED"
	ActivityPlanUpgraded     ActivityType = "PLAN_UPGRADED"
	ActivityPlanDowngraded   ActivityType = "PLAN_DOWNGRADED"
	ActivityInviteSent       ActivityType = "INVITE_SENT"
	ActivityInviteAccepted   ActivityType = "INVITE_ACCEPTED"
	ActivityInviteRevoked    ActivityType = "INVITE_REVOKED"
	ActivityBroadcastMessage ActivityType = "BROADCAST_MESSAGE"
)

// Activity is a durable audit-log entry. The feed is the REST read path
// clients use to reconstruct state independent of any missed socket event.
type Activity struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	ActorID        *uuid.UUID      `json:"actor_id,omitempty"`
	TargetID       *uuid.UUID      `json:"target_id,omitempty"`
	Type           ActivityType    `json:"type"`
	Message        string          `json:"message,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ActorSummary is the minimal user projection embedded in feed entries.
type ActorSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// ActivityEntry is an Activity with actor/target summaries for the feed.
type ActivityEntry struct {
	Activity
	Actor  *ActorSummary `json:"actor,omitempty"`
	Target *ActorSummary `json:"target,omitempty"`
}
