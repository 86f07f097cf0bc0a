package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teamloop/backend/internal/events"
)

const (
	// PingInterval and PongWait (seconds) drive the connection heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Publisher publishes an event to other instances (for multi-node fan-out).
type Publisher interface {
	PublishOrgEvent(orgID uuid.UUID, payload []byte) error
}

// Subscriber subscribes to an organization's channel and invokes handler
// for events published by other instances.
type Subscriber interface {
	SubscribeOrg(orgID uuid.UUID, handler func(payload []byte)) (cancel func(), err error)
}

// room is the set of live connections for one organization. Each room has
// its own lock so broadcasts to one tenant never contend with another's.
type room struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// Hub maps organization ID to its room of live connections and fans events
// out to them. Delivery is best-effort: clients reconstruct missed state
// via the activity feed. Single-process scope; the optional Redis bridge
// relays events across instances.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]*room
	subs   map[uuid.UUID]func() // cancel bridge subscription per org
	logger *zap.Logger
	pub    Publisher
	sub    Subscriber
}

// NewHub creates a broadcast hub. pub and sub may be nil for
// single-process deployments.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[uuid.UUID]*room),
		subs:   make(map[uuid.UUID]func()),
		logger: logger,
		pub:    pub,
		sub:    sub,
	}
}

// Join adds a client to its organization's room, creating the room on
// first use. The first client in a room starts the bridge subscription.
// The client is inserted while the hub lock is still held: releasing it
// first would let a concurrent last-client Leave tear the room out of the
// map and strand the newcomer in an orphaned room.
func (h *Hub) Join(c *Client) {
	h.mu.Lock()
	r, ok := h.rooms[c.OrgID]
	if !ok {
		r = &room{clients: make(map[string]*Client)}
		h.rooms[c.OrgID] = r
		if h.sub != nil {
			orgID := c.OrgID
			cancel, err := h.sub.SubscribeOrg(orgID, func(payload []byte) {
				h.deliverLocal(orgID, payload)
			})
			if err != nil {
				h.logger.Warn("org channel subscribe failed", zap.String("org_id", orgID.String()), zap.Error(err))
			} else {
				h.subs[orgID] = cancel
			}
		}
	}
	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()
	h.mu.Unlock()

	h.logger.Debug("client joined org room",
		zap.String("client_id", c.ID),
		zap.String("org_id", c.OrgID.String()),
		zap.String("user_id", c.UserID.String()),
	)
}

// Leave removes a client from its organization's room. Idempotent:
// removing an absent client is a no-op. The last client out tears the
// room and its bridge subscription down.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	r, ok := h.rooms[c.OrgID]
	if !ok {
		h.mu.Unlock()
		return
	}
	r.mu.Lock()
	delete(r.clients, c.ID)
	empty := len(r.clients) == 0
	r.mu.Unlock()
	if empty {
		delete(h.rooms, c.OrgID)
		if cancel, ok := h.subs[c.OrgID]; ok {
			cancel()
			delete(h.subs, c.OrgID)
		}
	}
	h.mu.Unlock()

	h.logger.Debug("client left org room",
		zap.String("client_id", c.ID),
		zap.String("org_id", c.OrgID.String()),
	)
}

// Broadcast serializes the event once and sends it to every connection
// currently in the organization's room, then relays it through the bridge
// for other instances. Connections with a full send buffer are skipped.
func (h *Hub) Broadcast(orgID uuid.UUID, evt events.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("marshal event", zap.String("type", string(evt.Type)), zap.Error(err))
		return
	}
	h.deliverLocal(orgID, payload)
	if h.pub != nil {
		if err := h.pub.PublishOrgEvent(orgID, payload); err != nil {
			h.logger.Warn("bridge publish failed", zap.String("org_id", orgID.String()), zap.Error(err))
		}
	}
}

// deliverLocal fans a serialized event out to the local room only.
func (h *Hub) deliverLocal(orgID uuid.UUID, payload []byte) {
	h.mu.RLock()
	r := h.rooms[orgID]
	h.mu.RUnlock()
	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		select {
		case c.send <- payload:
		default:
			// slow consumer, drop
		}
	}
}

// RoomSize returns the point-in-time number of connections for an
// organization. Used for diagnostics.
func (h *Hub) RoomSize(orgID uuid.UUID) int {
	h.mu.RLock()
	r := h.rooms[orgID]
	h.mu.RUnlock()
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
