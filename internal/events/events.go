// Package events defines the typed real-time events pushed to organization
// rooms. Constructors are pure: they are called only after the corresponding
// persistence write has committed, so an observer receiving an event can
// assume a subsequent read will reflect it.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/teamloop/backend/internal/models"
)

// Type identifies the event variant on the wire.
type Type string

const (
	TypeConnected        Type = "CONNECTED"
	TypePong             Type = "PONG"
	TypeUserJoined       Type = "USER_JOINED"
	TypeUserRemoved      Type = "USER_REMOVED"
	TypePlanUpgraded     Type = "PLAN_UPGRADED"
	TypeBroadcastMessage Type = "BROADCAST_MESSAGE"
)

// Event is the wire envelope: {"type": ..., "payload": {...}}.
type Event struct {
	Type    Type        `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// UserJoinedPayload carries the new member's identity.
type UserJoinedPayload struct {
	UserID uuid.UUID   `json:"userId"`
	Name   string      `json:"name"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role"`
}

// UserRemovedPayload carries the removed member and the acting admin.
type UserRemovedPayload struct {
	UserID    uuid.UUID `json:"userId"`
	RemovedBy uuid.UUID `json:"removedBy"`
}

// PlanUpgradedPayload carries the plan transition.
type PlanUpgradedPayload struct {
	From       models.Plan `json:"from"`
	To         models.Plan `json:"to"`
	UpgradedAt time.Time   `json:"upgradedAt"`
}

// BroadcastMessagePayload carries an admin broadcast.
type BroadcastMessagePayload struct {
	Message string    `json:"message"`
	SentBy  uuid.UUID `json:"sentBy"`
	SentAt  time.Time `json:"sentAt"`
}

// ConnectedPayload greets a freshly attached connection.
type ConnectedPayload struct {
	Message string `json:"message"`
}

// UserJoined is emitted after an invite acceptance commits.
func UserJoined(u *models.User) Event {
	return Event{Type: TypeUserJoined, Payload: UserJoinedPayload{
		UserID: u.ID,
		Name:   u.Name,
		Email:  u.Email,
		Role:   u.Role,
	}}
}

// UserRemoved is emitted after a member removal commits.
func UserRemoved(userID, removedBy uuid.UUID) Event {
	return Event{Type: TypeUserRemoved, Payload: UserRemovedPayload{
		UserID:    userID,
		RemovedBy: removedBy,
	}}
}

// PlanUpgraded is emitted after a subscription change commits.
func PlanUpgraded(from, to models.Plan, at time.Time) Event {
	return Event{Type: TypePlanUpgraded, Payload: PlanUpgradedPayload{
		From:       from,
		To:         to,
		UpgradedAt: at,
	}}
}

// BroadcastMessage is emitted after the broadcast activity row commits.
func BroadcastMessage(message string, sentBy uuid.UUID, at time.Time) Event {
	return Event{Type: TypeBroadcastMessage, Payload: BroadcastMessagePayload{
		Message: message,
		SentBy:  sentBy,
		SentAt:  at,
	}}
}

// Connected is sent to a single connection immediately after upgrade.
func Connected() Event {
	return Event{Type: TypeConnected, Payload: ConnectedPayload{Message: "Connected to real-time channel"}}
}

// Pong answers a client PING control message.
func Pong() Event {
	return Event{Type: TypePong}
}
