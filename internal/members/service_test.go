package members

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/teamloop/backend/internal/events"
	"github.com/teamloop/backend/internal/models"
	"github.com/teamloop/backend/internal/store"
)

// recordingHub captures broadcast events for assertions.
type recordingHub struct {
	mu     sync.Mutex
	events []events.Event
	orgIDs []uuid.UUID
}

func (r *recordingHub) Broadcast(orgID uuid.UUID, evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	r.orgIDs = append(r.orgIDs, orgID)
}

func (r *recordingHub) last() (events.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return events.Event{}, false
	}
	return r.events[len(r.events)-1], true
}

// recordingMailer captures invite email enqueues.
type recordingMailer struct {
	mu     sync.Mutex
	emails []string
}

func (r *recordingMailer) EnqueueInviteEmail(ctx context.Context, email, orgName, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emails = append(r.emails, email)
	return nil
}

func seedOrg(t *testing.T, st *store.Memory, plan models.Plan, memberCount int) (*models.Organization, *models.User) {
	t.Helper()
	ctx := context.Background()
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
	for i := 1; i < memberCount; i++ {
		u := &models.User{
			Email:          "member" + string(rune('a'+i)) + "@acme.test",
			PasswordHash:   "x",
			Name:           "Member",
			Role:           models.RoleMember,
			OrganizationID: org.ID,
		}
		require.NoError(t, st.InsertUser(ctx, u))
	}
	return org, admin
}

func TestCreateInvite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("creates a live invite and enqueues delivery", func(t *testing.T) {
		st := store.NewMemory()
		mailer := &recordingMailer{}
		svc := NewService(st, nil, mailer, time.Hour, nil)
		org, admin := seedOrg(t, st, models.PlanFree, 1)

		inv, err := svc.CreateInvite(ctx, org.ID, admin.ID, "new@acme.test", "")
		require.NoError(t, err)
		require.Equal(t, models.RoleMember, inv.Role)
		require.NotEmpty(t, inv.Token)
		require.False(t, inv.Accepted)
		require.WithinDuration(t, time.Now().Add(time.Hour), inv.ExpiresAt, 5*time.Second)
		require.Equal(t, []string{"new@acme.test"}, mailer.emails)

		feed, err := st.ListActivities(ctx, org.ID)
		require.NoError(t, err)
		require.Len(t, feed, 1)
		require.Equal(t, models.ActivityInviteSent, feed[0].Type)
	})

	t.Run("capacity exhausted", func(t *testing.T) {
		st := store.NewMemory()
		svc := NewService(st, nil, nil, time.Hour, nil)
		org, admin := seedOrg(t, st, models.PlanFree, 3)

		_, err := svc.CreateInvite(ctx, org.ID, admin.ID, "fourth@acme.test", "")
		require.ErrorIs(t, err, ErrMemberLimitReached)
	})

	t.Run("enterprise is unbounded", func(t *testing.T) {
		st := store.NewMemory()
		svc := NewService(st, nil, nil, time.Hour, nil)
		org, admin := seedOrg(t, st, models.PlanEnterprise, 50)

		_, err := svc.CreateInvite(ctx, org.ID, admin.ID, "more@acme.test", "")
		require.NoError(t, err)
	})

	t.Run("duplicate live invite rejected", func(t *testing.T) {
		st := store.NewMemory()
		svc := NewService(st, nil, nil, time.Hour, nil)
		org, admin := seedOrg(t, st, models.PlanPro, 1)

		_, err := svc.CreateInvite(ctx, org.ID, admin.ID, "new@acme.test", "")
		require.NoError(t, err)
		_, err = svc.CreateInvite(ctx, org.ID, admin.ID, "new@acme.test", "")
		require.ErrorIs(t, err, ErrDuplicateInvite)
	})

	t.Run("expired invite does not block a new one", func(t *testing.T) {
		st := store.NewMemory()
		svc := NewService(st, nil, nil, time.Hour, nil)
		org, admin := seedOrg(t, st, models.PlanPro, 1)

		stale := &models.Invite{
			Email:          "new@acme.test",
			OrganizationID: org.ID,
			Role:           models.RoleMember,
			Token:          uuid.NewString(),
			ExpiresAt:      time.Now().Add(-time.Minute),
		}
		require.NoError(t, st.InsertInvite(ctx, stale))

		_, err := svc.CreateInvite(ctx, org.ID, admin.ID, "new@acme.test", "")
		require.NoError(t, err)
	})

	t.Run("existing member rejected", func(t *testing.T) {
		st := store.NewMemory()
		svc := NewService(st, nil, nil, time.Hour, nil)
		org, admin := seedOrg(t, st, models.PlanPro, 1)

		_, err := svc.CreateInvite(ctx, org.ID, admin.ID, admin.Email, "")
		require.ErrorIs(t, err, ErrAlreadyMember)
	})

	t.Run("unknown org rejected", func(t *testing.T) {
		st := store.NewMemory()
		svc := NewService(st, nil, nil, time.Hour, nil)

		_, err := svc.CreateInvite(ctx, uuid.New(), uuid.New(), "new@acme.test", "")
		require.ErrorIs(t, err, ErrOrgNotFound)
	})
}

func TestAcceptInvite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("happy path joins the member and fans out", func(t *testing.T) {
		st := store.NewMemory()
		hub := &recordingHub{}
		svc := NewService(st, hub, nil, time.Hour, nil)
		org, admin := seedOrg(t, st, models.PlanFree, 1)

		inv, err := svc.CreateInvite(ctx, org.ID, admin.ID, "new@acme.test", "")
		require.NoError(t, err)

		user, err := svc.AcceptInvite(ctx, inv.Token, "New Member", "password1")
		require.NoError(t, err)
		require.Equal(t, org.ID, user.OrganizationID)
		require.Equal(t, models.RoleMember, user.Role)

		evt, ok := hub.last()
		require.True(t, ok)
		require.Equal(t, events.TypeUserJoined, evt.Type)

		count, err := st.CountUsersInOrganization(ctx, org.ID)
		require.NoError(t, err)
		require.Equal(t, 2, count)
	})

	t.Run("token redeems exactly once", func(t *testing.T) {
		st := store.NewMemory()
		svc := NewService(st, nil, nil, time.Hour, nil)
		org, admin := seedOrg(t, st, models.PlanPro, 1)

		inv, err := svc.CreateInvite(ctx, org.ID, admin.ID, "new@acme.test", "")
		require.NoError(t, err)

		_, err = svc.AcceptInvite(ctx, inv.Token, "New Member", "password1")
		require.NoError(t, err)
		_, err = svc.AcceptInvite(ctx, inv.Token, "Someone Else", "password2")
		require.ErrorIs(t, err, ErrInviteNotFound)
	})

	t.Run("expired invite rejected", func(t *testing.T) {
		st := store.NewMemory()
		svc := NewService(st, nil, nil, time.Hour, nil)
		org, _ := seedOrg(t, st, models.PlanPro, 1)

		inv := &models.Invite{
			Email:          "late@acme.test",
			OrganizationID: org.ID,
			Role:           models.RoleMember,
			Token:          uuid.NewString(),
			ExpiresAt:      time.Now().Add(-time.Minute),
		}
		require.NoError(t, st.InsertInvite(ctx, inv))

		_, err := svc.AcceptInvite(ctx, inv.Token, "Late", "password1")
		require.ErrorIs(t, err, ErrInviteExpired)
	})

	t.Run("unknown token rejected", func(t *testing.T) {
		st := store.NewMemory()
		svc := NewService(st, nil, nil, time.Hour, nil)

		_, err := svc.AcceptInvite(ctx, "no-such-token", "Ghost", "password1")
		require.ErrorIs(t, err, ErrInviteNotFound)
	})

	t.Run("capacity re-checked at acceptance", func(t *testing.T) {
		st := store.NewMemory()
		svc := NewService(st, nil, nil, time.Hour, nil)
		org, admin := seedOrg(t, st, models.PlanFree, 2)

		inv, err := svc.CreateInvite(ctx, org.ID, admin.ID, "new@acme.test", "")
		require.NoError(t, err)

		// a third member arrives between invite and acceptance
		require.NoError(t, st.InsertUser(ctx, &models.User{
			Email:          "third@acme.test",
			PasswordHash:   "x",
			Name:           "Third",
			Role:           models.RoleMember,
			OrganizationID: org.ID,
		}))

		_, err = svc.AcceptInvite(ctx, inv.Token, "New Member", "password1")
		require.ErrorIs(t, err, ErrMemberLimitReached)

		count, err := st.CountUsersInOrganization(ctx, org.ID)
		require.NoError(t, err)
		require.Equal(t, 3, count)
	})

	t.Run("email taken elsewhere rejected", func(t *testing.T) {
		st := store.NewMemory()
		svc := NewService(st, nil, nil, time.Hour, nil)
		org, admin := seedOrg(t, st, models.PlanPro, 1)

		inv, err := svc.CreateInvite(ctx, org.ID, admin.ID, "new@acme.test", "")
		require.NoError(t, err)

		other := &models.Organization{Name: "Other", Slug: "other", Plan: models.PlanFree}
		require.NoError(t, st.InsertOrganization(ctx, other))
		require.NoError(t, st.InsertUser(ctx, &models.User{
			Email:          "new@acme.test",
			PasswordHash:   "x",
			Name:           "Elsewhere",
			Role:           models.RoleAdmin,
			OrganizationID: other.ID,
		}))

		_, err = svc.AcceptInvite(ctx, inv.Token, "New Member", "password1")
		require.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("distinct invites racing the last slot admit only one", func(t *testing.T) {
		st := store.NewMemory()
		svc := NewService(st, nil, nil, time.Hour, nil)
		org, admin := seedOrg(t, st, models.PlanFree, 2)

		invA, err := svc.CreateInvite(ctx, org.ID, admin.ID, "a@acme.test", "")
		require.NoError(t, err)
		invB, err := svc.CreateInvite(ctx, org.ID, admin.ID, "b@acme.test", "")
		require.NoError(t, err)

		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i, token := range []string{invA.Token, invB.Token} {
			wg.Add(1)
			go func(i int, token string) {
				defer wg.Done()
				_, errs[i] = svc.AcceptInvite(ctx, token, "Racer", "password1")
			}(i, token)
		}
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
			} else {
				require.ErrorIs(t, err, ErrMemberLimitReached)
			}
		}
		require.Equal(t, 1, winners)

		count, err := st.CountUsersInOrganization(ctx, org.ID)
		require.NoError(t, err)
		require.Equal(t, 3, count)
	})

	t.Run("concurrent acceptances resolve to one winner", func(t *testing.T) {
		st := store.NewMemory()
		svc := NewService(st, nil, nil, time.Hour, nil)
		org, admin := seedOrg(t, st, models.PlanPro, 1)

		inv, err := svc.CreateInvite(ctx, org.ID, admin.ID, "new@acme.test", "")
		require.NoError(t, err)

		const attempts = 8
		errs := make([]error, attempts)
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.AcceptInvite(ctx, inv.Token, "Racer", "password1")
			}(i)
		}
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
			} else {
				require.ErrorIs(t, err, ErrInviteNotFound)
			}
		}
		require.Equal(t, 1, winners)

		count, err := st.CountUsersInOrganization(ctx, org.ID)
		require.NoError(t, err)
		require.Equal(t, 2, count)
	})
}

func TestRemoveMember(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	setup := func(t *testing.T) (*Service, *store.Memory, *recordingHub, *models.Organization, *models.User, *models.User) {
		st := store.NewMemory()
		hub := &recordingHub{}
		svc := NewService(st, hub, nil, time.Hour, nil)
		org, admin := seedOrg(t, st, models.PlanPro, 1)
		member := &models.User{
			Email:          "member@acme.test",
			PasswordHash:   "x",
			Name:           "Member",
			Role:           models.RoleMember,
			OrganizationID: org.ID,
		}
		require.NoError(t, st.InsertUser(ctx, member))
		return svc, st, hub, org, admin, member
	}

	t.Run("removes member with audit trail and event", func(t *testing.T) {
		svc, st, hub, org, admin, member := setup(t)

		require.NoError(t, svc.RemoveMember(ctx, org.ID, admin.ID, member.ID))

		_, err := st.FindUserByID(ctx, member.ID)
		require.ErrorIs(t, err, store.ErrNotFound)

		feed, err := st.ListActivities(ctx, org.ID)
		require.NoError(t, err)
		require.Equal(t, models.ActivityUserRemoved, feed[0].Type)

		evt, ok := hub.last()
		require.True(t, ok)
		require.Equal(t, events.TypeUserRemoved, evt.Type)
		payload, ok := evt.Payload.(events.UserRemovedPayload)
		require.True(t, ok)
		require.Equal(t, member.ID, payload.UserID)
		require.Equal(t, admin.ID, payload.RemovedBy)
	})

	t.Run("self removal rejected", func(t *testing.T) {
		svc, _, _, org, admin, _ := setup(t)
		require.ErrorIs(t, svc.RemoveMember(ctx, org.ID, admin.ID, admin.ID), ErrSelfRemoval)
	})

	t.Run("admin target rejected", func(t *testing.T) {
		svc, st, _, org, _, member := setup(t)
		other := &models.User{
			Email:          "admin2@acme.test",
			PasswordHash:   "x",
			Name:           "Second Admin",
			Role:           models.RoleAdmin,
			OrganizationID: org.ID,
		}
		require.NoError(t, st.InsertUser(ctx, other))
		require.ErrorIs(t, svc.RemoveMember(ctx, org.ID, member.ID, other.ID), ErrCannotRemoveAdmin)
	})

	t.Run("cross-tenant target invisible", func(t *testing.T) {
		svc, st, _, org, admin, _ := setup(t)
		other := &models.Organization{Name: "Other", Slug: "other"}
		require.NoError(t, st.InsertOrganization(ctx, other))
		outsider := &models.User{
			Email:          "outsider@other.test",
			PasswordHash:   "x",
			Name:           "Outsider",
			Role:           models.RoleMember,
			OrganizationID: other.ID,
		}
		require.NoError(t, st.InsertUser(ctx, outsider))

		require.ErrorIs(t, svc.RemoveMember(ctx, org.ID, admin.ID, outsider.ID), ErrMemberNotFound)
		_, err := st.FindUserByID(ctx, outsider.ID)
		require.NoError(t, err)
	})

	t.Run("unknown target", func(t *testing.T) {
		svc, _, _, org, admin, _ := setup(t)
		require.ErrorIs(t, svc.RemoveMember(ctx, org.ID, admin.ID, uuid.New()), ErrMemberNotFound)
	})
}
