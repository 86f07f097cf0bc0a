package organizations

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/teamloop/backend/internal/events"
	"github.com/teamloop/backend/internal/models"
	"github.com/teamloop/backend/internal/store"
)

type recordingHub struct {
	mu     sync.Mutex
	events []events.Event
	size   int
}

func (r *recordingHub) Broadcast(orgID uuid.UUID, evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingHub) RoomSize(orgID uuid.UUID) int { return r.size }

func (r *recordingHub) last(t *testing.T) events.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.events)
	return r.events[len(r.events)-1]
}

func seed(t *testing.T, plan models.Plan, members int) (*store.Memory, *models.Organization, *models.User) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	org := &models.Organization{Name: "Acme", Slug: "acme", Plan: plan}
	require.NoError(t, st.InsertOrganization(ctx, org))
	admin := &models.User{
		Email:          "admin@acme.test",
		PasswordHash:   "x",
		Name:           "Admin",
		Role:           models.RoleAdmin,
		OrganizationID: org.ID,
	}
	require.NoError(t, st.InsertUser(ctx, admin))
	for i := 1; i < members; i++ {
		require.NoError(t, st.InsertUser(ctx, &models.User{
			Email:          uuid.NewString() + "@acme.test",
			PasswordHash:   "x",
			Name:           "Member",
			Role:           models.RoleMember,
			OrganizationID: org.ID,
		}))
	}
	return st, org, admin
}

func TestGetSummary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("bounded plan reports its limit", func(t *testing.T) {
		st, org, _ := seed(t, models.PlanFree, 2)
		svc := NewService(st, nil, nil)

		sum, err := svc.Get(ctx, org.ID)
		require.NoError(t, err)
		require.Equal(t, org.Slug, sum.Slug)
		require.Equal(t, 2, sum.MemberCount)
		require.NotNil(t, sum.MemberLimit)
		require.Equal(t, 3, *sum.MemberLimit)
	})

	t.Run("enterprise has no limit", func(t *testing.T) {
		st, org, _ := seed(t, models.PlanEnterprise, 1)
		svc := NewService(st, nil, nil)

		sum, err := svc.Get(ctx, org.ID)
		require.NoError(t, err)
		require.Nil(t, sum.MemberLimit)
	})

	t.Run("unknown org", func(t *testing.T) {
		svc := NewService(store.NewMemory(), nil, nil)
		_, err := svc.Get(ctx, uuid.New())
		require.ErrorIs(t, err, ErrOrgNotFound)
	})
}

func TestUpgradePlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("upgrade records audit and fans out", func(t *testing.T) {
		st, org, admin := seed(t, models.PlanFree, 1)
		hub := &recordingHub{}
		svc := NewService(st, hub, nil)

		updated, err := svc.UpgradePlan(ctx, org.ID, admin.ID, models.PlanPro)
		require.NoError(t, err)
		require.Equal(t, models.PlanPro, updated.Plan)

		feed, err := st.ListActivities(ctx, org.ID)
		require.NoError(t, err)
		require.Len(t, feed, 1)
		require.Equal(t, models.ActivityPlanUpgraded, feed[0].Type)

		evt := hub.last(t)
		require.Equal(t, events.TypePlanUpgraded, evt.Type)
		payload, ok := evt.Payload.(events.PlanUpgradedPayload)
		require.True(t, ok)
		require.Equal(t, models.PlanFree, payload.From)
		require.Equal(t, models.PlanPro, payload.To)
	})

	t.Run("same plan rejected without audit", func(t *testing.T) {
		st, org, admin := seed(t, models.PlanPro, 1)
		svc := NewService(st, nil, nil)

		_, err := svc.UpgradePlan(ctx, org.ID, admin.ID, models.PlanPro)
		require.ErrorIs(t, err, ErrSamePlan)

		feed, err := st.ListActivities(ctx, org.ID)
		require.NoError(t, err)
		require.Empty(t, feed)
	})

	t.Run("unknown org", func(t *testing.T) {
		svc := NewService(store.NewMemory(), nil, nil)
		_, err := svc.UpgradePlan(ctx, uuid.New(), uuid.New(), models.PlanPro)
		require.ErrorIs(t, err, ErrOrgNotFound)
	})
}

func TestBroadcastMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, org, admin := seed(t, models.PlanPro, 1)
	hub := &recordingHub{}
	svc := NewService(st, hub, nil)

	activity, err := svc.BroadcastMessage(ctx, org.ID, admin.ID, "maintenance at noon")
	require.NoError(t, err)
	require.Equal(t, models.ActivityBroadcastMessage, activity.Type)
	require.Equal(t, "maintenance at noon", activity.Message)

	evt := hub.last(t)
	require.Equal(t, events.TypeBroadcastMessage, evt.Type)
	payload, ok := evt.Payload.(events.BroadcastMessagePayload)
	require.True(t, ok)
	require.Equal(t, "maintenance at noon", payload.Message)
	require.Equal(t, admin.ID, payload.SentBy)

	feed, err := st.ListActivities(ctx, org.ID)
	require.NoError(t, err)
	require.Len(t, feed, 1)
}

func TestRoomSize(t *testing.T) {
	t.Parallel()

	hub := &recordingHub{size: 4}
	svc := NewService(store.NewMemory(), hub, nil)
	require.Equal(t, 4, svc.RoomSize(uuid.New()))

	nilSvc := NewService(store.NewMemory(), nil, nil)
	require.Equal(t, 0, nilSvc.RoomSize(uuid.New()))
}
