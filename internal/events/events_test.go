package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/teamloop/backend/internal/models"
)

func TestWireFormat(t *testing.T) {
	t.Parallel()

	t.Run("broadcast message", func(t *testing.T) {
		sentBy := uuid.New()
		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		data, err := json.Marshal(BroadcastMessage("hello", sentBy, at))
		require.NoError(t, err)

		var wire map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &wire))
		require.JSONEq(t, `"BROADCAST_MESSAGE"`, string(wire["type"]))

		var payload map[string]any
		require.NoError(t, json.Unmarshal(wire["payload"], &payload))
		require.Equal(t, "hello", payload["message"])
		require.Equal(t, sentBy.String(), payload["sentBy"])
		require.Equal(t, "2026-03-01T12:00:00Z", payload["sentAt"])
	})

	t.Run("user joined", func(t *testing.T) {
		u := &models.User{ID: uuid.New(), Name: "Ada", Email: "ada@example.com", Role: models.RoleMember}
		data, err := json.Marshal(UserJoined(u))
		require.NoError(t, err)

		var wire struct {
			Type    Type              `json:"type"`
			Payload UserJoinedPayload `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &wire))
		require.Equal(t, TypeUserJoined, wire.Type)
		require.Equal(t, u.ID, wire.Payload.UserID)
		require.Equal(t, "ada@example.com", wire.Payload.Email)
	})

	t.Run("user removed", func(t *testing.T) {
		userID := uuid.New()
		removedBy := uuid.New()
		data, err := json.Marshal(UserRemoved(userID, removedBy))
		require.NoError(t, err)

		var wire struct {
			Payload map[string]string `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &wire))
		require.Equal(t, userID.String(), wire.Payload["userId"])
		require.Equal(t, removedBy.String(), wire.Payload["removedBy"])
	})

	t.Run("pong omits payload", func(t *testing.T) {
		data, err := json.Marshal(Pong())
		require.NoError(t, err)
		require.JSONEq(t, `{"type":"PONG"}`, string(data))
	})

	t.Run("connected greets", func(t *testing.T) {
		data, err := json.Marshal(Connected())
		require.NoError(t, err)
		require.Contains(t, string(data), `"type":"CONNECTED"`)
		require.Contains(t, string(data), "Connected to real-time channel")
	})

	t.Run("plan upgraded", func(t *testing.T) {
		at := time.Now()
		data, err := json.Marshal(PlanUpgraded(models.PlanFree, models.PlanPro, at))
		require.NoError(t, err)

		var wire struct {
			Type    Type                `json:"type"`
			Payload PlanUpgradedPayload `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &wire))
		require.Equal(t, TypePlanUpgraded, wire.Type)
		require.Equal(t, models.PlanFree, wire.Payload.From)
		require.Equal(t, models.PlanPro, wire.Payload.To)
	})
}
