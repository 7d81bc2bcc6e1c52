// Package hub manages per-agent connections, room subscriptions, and fan-out
// delivery of room events.
package hub

import (
	"sync"

	"go.uber.org/zap"
)

// Hub tracks the single active connection per agent and the room each agent
// is subscribed to. All methods are safe for concurrent use. The mutex is
// never held across Send or Close calls; broadcasts snapshot membership under
// the lock and deliver outside it.
//
// Invariant: an agent appears in the member set of room r iff its current
// room is r. An agent is in at most one room. A room with no members has no
// entry at all.
type Hub struct {
	logger *zap.Logger

	mu         sync.Mutex
	conns      map[string]Conn
	agentRoom  map[string]string
	roomAgents map[string]map[string]struct{}
}

// NewHub creates an empty Hub.
//
// Precondition: logger must be non-nil.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		conns:      make(map[string]Conn),
		agentRoom:  make(map[string]string),
		roomAgents: make(map[string]map[string]struct{}),
	}
}

// Connect installs conn as the agent's active connection. Any previous
// connection for the same agent is closed best-effort; close failures are
// swallowed. Room membership is unaffected.
//
// Precondition: agentID must be non-empty; conn must be non-nil.
func (h *Hub) Connect(agentID string, conn Conn) {
	h.mu.Lock()
	old := h.conns[agentID]
	h.conns[agentID] = conn
	h.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			h.logger.Debug("closing replaced connection",
				zap.String("agent_id", agentID),
				zap.Error(err),
			)
		}
	}
}

// Disconnect removes the agent's connection and its room membership. The
// room entry is deleted when the agent was its last member. Unknown agents
// are a no-op.
func (h *Hub) Disconnect(agentID string) {
	h.mu.Lock()
	delete(h.conns, agentID)
	h.removeMembershipLocked(agentID)
	h.mu.Unlock()
}

// DisconnectConn removes the agent only if conn is still its installed
// connection. Used by transports whose per-connection cleanup may race with
// a replacement Connect for the same agent.
func (h *Hub) DisconnectConn(agentID string, conn Conn) {
	h.mu.Lock()
	if h.conns[agentID] == conn {
		delete(h.conns, agentID)
		h.removeMembershipLocked(agentID)
	}
	h.mu.Unlock()
}

// Subscribe places the agent in roomID, moving it out of any previous room
// first. Subscribing to the current room is a no-op. A connection is not
// required to subscribe.
//
// Precondition: agentID and roomID must be non-empty.
func (h *Hub) Subscribe(agentID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.agentRoom[agentID]; ok {
		if old == roomID {
			return
		}
		h.removeMembershipLocked(agentID)
	}
	h.agentRoom[agentID] = roomID
	if h.roomAgents[roomID] == nil {
		h.roomAgents[roomID] = make(map[string]struct{})
	}
	h.roomAgents[roomID][agentID] = struct{}{}
}

// BroadcastToRoom delivers event to every member of roomID. Delivery is
// two-phase: membership and connections are snapshotted under the lock, sends
// happen outside it, and agents whose connection is missing, dead, or failed
// the send are removed afterward. One recipient's failure never aborts
// delivery to the others.
func (h *Hub) BroadcastToRoom(roomID string, event Event) {
	type target struct {
		agentID string
		conn    Conn
	}

	h.mu.Lock()
	members := h.roomAgents[roomID]
	targets := make([]target, 0, len(members))
	for agentID := range members {
		targets = append(targets, target{agentID: agentID, conn: h.conns[agentID]})
	}
	h.mu.Unlock()

	var stale []string
	for _, tg := range targets {
		if tg.conn == nil || !tg.conn.Alive() {
			stale = append(stale, tg.agentID)
			continue
		}
		if err := tg.conn.Send(event); err != nil {
			h.logger.Debug("send failed, marking agent stale",
				zap.String("agent_id", tg.agentID),
				zap.String("room_id", roomID),
				zap.Error(err),
			)
			stale = append(stale, tg.agentID)
		}
	}

	if len(stale) > 0 {
		h.mu.Lock()
		for _, agentID := range stale {
			delete(h.conns, agentID)
			h.removeMembershipLocked(agentID)
		}
		h.mu.Unlock()
	}
}

// SendToAgent delivers event directly to one agent. Missing, dead, or failing
// connections are logged and dropped; no error reaches the caller.
func (h *Hub) SendToAgent(agentID string, event Event) {
	h.mu.Lock()
	conn := h.conns[agentID]
	h.mu.Unlock()

	if conn == nil || !conn.Alive() {
		return
	}
	if err := conn.Send(event); err != nil {
		h.logger.Debug("direct send failed",
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
	}
}

// BroadcastAll delivers event to every connected agent regardless of room.
// Send failures are swallowed.
func (h *Hub) BroadcastAll(event Event) {
	h.mu.Lock()
	conns := make(map[string]Conn, len(h.conns))
	for agentID, conn := range h.conns {
		conns[agentID] = conn
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if conn == nil || !conn.Alive() {
			continue
		}
		_ = conn.Send(event)
	}
}

// RoomMembers returns a snapshot of the agents subscribed to roomID.
//
// Postcondition: Returns a slice of agent IDs (may be empty).
func (h *Hub) RoomMembers(roomID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.roomAgents[roomID]
	out := make([]string, 0, len(members))
	for agentID := range members {
		out = append(out, agentID)
	}
	return out
}

// Room returns the room the agent is subscribed to.
//
// Postcondition: Returns (roomID, true) if subscribed, or ("", false) otherwise.
func (h *Hub) Room(agentID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	roomID, ok := h.agentRoom[agentID]
	return roomID, ok
}

// ConnectedCount returns the number of agents with an installed connection.
func (h *Hub) ConnectedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// RoomCount returns the number of rooms with at least one member.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.roomAgents)
}

// removeMembershipLocked drops the agent from its current room, deleting the
// room entry when the member set becomes empty. Caller holds h.mu.
func (h *Hub) removeMembershipLocked(agentID string) {
	roomID, ok := h.agentRoom[agentID]
	if !ok {
		return
	}
	delete(h.agentRoom, agentID)
	if members := h.roomAgents[roomID]; members != nil {
		delete(members, agentID)
		if len(members) == 0 {
			delete(h.roomAgents, roomID)
		}
	}
}
