package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teamloop/backend/internal/models"
)

// memState holds all tables. Kept behind a pointer so WithTx can swap in a
// snapshot on rollback.
type memState struct {
	users      map[uuid.UUID]models.User
	orgs       map[uuid.UUID]models.Organization
	tokens     map[string]models.RefreshToken
	invites    map[uuid.UUID]models.Invite
	activities []models.Activity
}

func newMemState() *memState {
	return &memState{
		users:   make(map[uuid.UUID]models.User),
		orgs:    make(map[uuid.UUID]models.Organization),
		tokens:  make(map[string]models.RefreshToken),
		invites: make(map[uuid.UUID]models.Invite),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.orgs {
		c.orgs[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.invites {
		c.invites[k] = v
	}
	c.activities = append(c.activities, s.activities...)
	return c
}

var _ Store = (*Memory)(nil)

// Memory is an in-memory Store used by tests and local development.
// WithTx holds the store lock for the whole callback, giving the same
// serialized check-then-act semantics a database transaction provides,
// and restores a snapshot on error so failed transactions roll back fully.
type Memory struct {
	mu   sync.Mutex
	st   *memState
	inTx bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{st: newMemState()}
}

// lock acquires the store lock unless already inside a transaction.
func (m *Memory) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// WithTx serializes fn against all other store access and rolls the state
// back if fn fails. Nested calls reuse the open transaction.
func (m *Memory) WithTx(ctx context.Context, fn func(Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.st.clone()
	tx := &Memory{st: m.st, inTx: true}
	if err := fn(tx); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *Memory) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	defer m.lock()()
	for _, u := range m.st.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	defer m.lock()()
	if u, ok := m.st.users[id]; ok {
		return &u, nil
	}
	return nil, ErrNotFound
}

func (m *Memory) FindUserInOrganization(ctx context.Context, orgID uuid.UUID, email string) (*models.User, error) {
	defer m.lock()()
	for _, u := range m.st.users {
		if u.OrganizationID == orgID && u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) InsertUser(ctx context.Context, u *models.User) error {
	defer m.lock()()
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.st.users[u.ID] = *u
	return nil
}

func (m *Memory) DeleteUser(ctx context.Context, id uuid.UUID) error {
	defer m.lock()()
	delete(m.st.users, id)
	return nil
}

func (m *Memory) CountUsersInOrganization(ctx context.Context, orgID uuid.UUID) (int, error) {
	defer m.lock()()
	n := 0
	for _, u := range m.st.users {
		if u.OrganizationID == orgID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListUsersInOrganization(ctx context.Context, orgID uuid.UUID) ([]models.UserPublic, error) {
	defer m.lock()()
	var list []models.UserPublic
	for _, u := range m.st.users {
		if u.OrganizationID == orgID {
			list = append(list, u.ToPublic())
		}
	}
	return list, nil
}

func (m *Memory) InsertOrganization(ctx context.Context, org *models.Organization) error {
	defer m.lock()()
	org.ID = uuid.New()
	if org.Plan == "" {
		org.Plan = models.PlanFree
	}
	org.CreatedAt = time.Now()
	org.UpdatedAt = org.CreatedAt
	m.st.orgs[org.ID] = *org
	return nil
}

func (m *Memory) FindOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	defer m.lock()()
	if o, ok := m.st.orgs[id]; ok {
		return &o, nil
	}
	return nil, ErrNotFound
}

// FindOrganizationForUpdate matches FindOrganization: the WithTx lock
// already serializes the whole transaction, so no extra locking is needed.
func (m *Memory) FindOrganizationForUpdate(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	return m.FindOrganization(ctx, id)
}

func (m *Memory) FindOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	defer m.lock()()
	for _, o := range m.st.orgs {
		if o.Slug == slug {
			o := o
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateOrganizationPlan(ctx context.Context, id uuid.UUID, plan models.Plan) (*models.Organization, error) {
	defer m.lock()()
	o, ok := m.st.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	o.Plan = plan
	o.UpdatedAt = time.Now()
	m.st.orgs[id] = o
	return &o, nil
}

func (m *Memory) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	defer m.lock()()
	if r, ok := m.st.tokens[token]; ok {
		return &r, nil
	}
	return nil, ErrNotFound
}

func (m *Memory) InsertRefreshToken(ctx context.Context, rec *models.RefreshToken) error {
	defer m.lock()()
	rec.ID = uuid.New()
	rec.CreatedAt = time.Now()
	m.st.tokens[rec.Token] = *rec
	return nil
}

func (m *Memory) DeleteRefreshToken(ctx context.Context, token string) (bool, error) {
	defer m.lock()()
	if _, ok := m.st.tokens[token]; !ok {
		return false, nil
	}
	delete(m.st.tokens, token)
	return true, nil
}

func (m *Memory) FindInviteByToken(ctx context.Context, token string) (*models.Invite, error) {
	defer m.lock()()
	for _, i := range m.st.invites {
		if i.Token == token {
			i := i
			return &i, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FindLiveInvite(ctx context.Context, orgID uuid.UUID, email string) (*models.Invite, error) {
	defer m.lock()()
	now := time.Now()
	for _, i := range m.st.invites {
		if i.OrganizationID == orgID && i.Email == email && !i.Accepted && i.ExpiresAt.After(now) {
			i := i
			return &i, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) InsertInvite(ctx context.Context, inv *models.Invite) error {
	defer m.lock()()
	inv.ID = uuid.New()
	inv.CreatedAt = time.Now()
	m.st.invites[inv.ID] = *inv
	return nil
}

func (m *Memory) MarkInviteAccepted(ctx context.Context, id uuid.UUID) (bool, error) {
	defer m.lock()()
	i, ok := m.st.invites[id]
	if !ok || i.Accepted {
		return false, nil
	}
	i.Accepted = true
	m.st.invites[id] = i
	return true, nil
}

func (m *Memory) InsertActivity(ctx context.Context, a *models.Activity) error {
	defer m.lock()()
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	m.st.activities = append(m.st.activities, *a)
	return nil
}

func (m *Memory) ListActivities(ctx context.Context, orgID uuid.UUID) ([]models.ActivityEntry, error) {
	defer m.lock()()
	var list []models.ActivityEntry
	for idx := len(m.st.activities) - 1; idx >= 0; idx-- {
		a := m.st.activities[idx]
		if a.OrganizationID != orgID {
			continue
		}
		e := models.ActivityEntry{Activity: a}
		if a.ActorID != nil {
			if u, ok := m.st.users[*a.ActorID]; ok {
				e.Actor = &models.ActorSummary{ID: u.ID, Name: u.Name, Email: u.Email}
			}
		}
		if a.TargetID != nil {
			if u, ok := m.st.users[*a.TargetID]; ok {
				e.Target = &models.ActorSummary{ID: u.ID, Name: u.Name, Email: u.Email}
			}
		}
		list = append(list, e)
	}
	return list, nil
}
