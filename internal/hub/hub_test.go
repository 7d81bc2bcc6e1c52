package hub

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// fakeConn is an in-memory Conn for tests.
type fakeConn struct {
	mu       sync.Mutex
	sent     []Event
	alive    bool
	failSend bool
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{alive: true}
}

func (c *fakeConn) Send(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("send failed")
	}
	c.sent = append(c.sent, event)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.alive = false
	return nil
}

func (c *fakeConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *fakeConn) sentEvents() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newTestHub() *Hub {
	return NewHub(zap.NewNop())
}

func TestHub_ConnectSubscribeBroadcast(t *testing.T) {
	h := newTestHub()
	c1 := newFakeConn()
	c2 := newFakeConn()

	h.Connect("agent-a", c1)
	h.Connect("agent-b", c2)
	h.Subscribe("agent-a", "room-1")
	h.Subscribe("agent-b", "room-1")

	h.BroadcastToRoom("room-1", Event{"type": "test", "msg": "hello"})

	require.Len(t, c1.sentEvents(), 1)
	assert.Equal(t, "test", c1.sentEvents()[0]["type"])
	assert.Len(t, c2.sentEvents(), 1)
}

func TestHub_ReconnectClosesOldConnection(t *testing.T) {
	h := newTestHub()
	c1 := newFakeConn()
	c2 := newFakeConn()

	h.Connect("agent-a", c1)
	h.Connect("agent-a", c2)

	assert.True(t, c1.isClosed(), "replaced connection must be closed")

	h.Subscribe("agent-a", "room-1")
	h.BroadcastToRoom("room-1", Event{"type": "ping"})

	assert.Empty(t, c1.sentEvents())
	assert.Len(t, c2.sentEvents(), 1)
}

func TestHub_DisconnectRemovesSubscription(t *testing.T) {
	h := newTestHub()
	c := newFakeConn()

	h.Connect("agent-x", c)
	h.Subscribe("agent-x", "room-2")
	h.Disconnect("agent-x")

	assert.Equal(t, 0, h.RoomCount(), "last member leaving must delete the room")
	assert.Equal(t, 0, h.ConnectedCount())

	h.BroadcastToRoom("room-2", Event{"type": "ping"})
	assert.Empty(t, c.sentEvents())
}

func TestHub_DisconnectConnOnlyMatching(t *testing.T) {
	h := newTestHub()
	c1 := newFakeConn()
	c2 := newFakeConn()

	h.Connect("agent-a", c1)
	h.Subscribe("agent-a", "room-1")
	h.Connect("agent-a", c2)

	// The replaced connection's cleanup must not tear down the replacement.
	h.DisconnectConn("agent-a", c1)
	assert.Equal(t, 1, h.ConnectedCount())
	assert.Equal(t, []string{"agent-a"}, h.RoomMembers("room-1"))

	h.DisconnectConn("agent-a", c2)
	assert.Equal(t, 0, h.ConnectedCount())
	assert.Empty(t, h.RoomMembers("room-1"))
}

func TestHub_RoomSwitch(t *testing.T) {
	h := newTestHub()
	c := newFakeConn()

	h.Connect("agent-s", c)
	h.Subscribe("agent-s", "room-old")
	h.Subscribe("agent-s", "room-new")

	assert.Empty(t, h.RoomMembers("room-old"))
	assert.Equal(t, []string{"agent-s"}, h.RoomMembers("room-new"))

	h.BroadcastToRoom("room-old", Event{"type": "old"})
	h.BroadcastToRoom("room-new", Event{"type": "new"})

	sent := c.sentEvents()
	require.Len(t, sent, 1)
	assert.Equal(t, "new", sent[0]["type"])
}

func TestHub_SubscribeSameRoomNoop(t *testing.T) {
	h := newTestHub()
	h.Subscribe("agent-a", "room-1")
	h.Subscribe("agent-a", "room-1")

	assert.Equal(t, []string{"agent-a"}, h.RoomMembers("room-1"))
	room, ok := h.Room("agent-a")
	require.True(t, ok)
	assert.Equal(t, "room-1", room)
}

func TestHub_SubscribeWithoutConnection(t *testing.T) {
	h := newTestHub()
	h.Subscribe("agent-ghost", "room-1")

	assert.Equal(t, []string{"agent-ghost"}, h.RoomMembers("room-1"))

	// Broadcast reaps the member since it has no connection.
	h.BroadcastToRoom("room-1", Event{"type": "ping"})
	assert.Empty(t, h.RoomMembers("room-1"))
}

func TestHub_BroadcastEmptyRoom(t *testing.T) {
	h := newTestHub()
	assert.NotPanics(t, func() {
		h.BroadcastToRoom("nowhere", Event{"type": "ping"})
	})
}

func TestHub_PartialFailureIsolation(t *testing.T) {
	h := newTestHub()
	good1 := newFakeConn()
	good2 := newFakeConn()
	bad := newFakeConn()
	bad.failSend = true

	h.Connect("agent-1", good1)
	h.Connect("agent-2", bad)
	h.Connect("agent-3", good2)
	h.Subscribe("agent-1", "room-1")
	h.Subscribe("agent-2", "room-1")
	h.Subscribe("agent-3", "room-1")

	h.BroadcastToRoom("room-1", Event{"type": "news"})

	assert.Len(t, good1.sentEvents(), 1)
	assert.Len(t, good2.sentEvents(), 1)

	members := h.RoomMembers("room-1")
	assert.ElementsMatch(t, []string{"agent-1", "agent-3"}, members)
	_, ok := h.Room("agent-2")
	assert.False(t, ok, "failed agent must lose its membership")
	assert.Equal(t, 2, h.ConnectedCount())
}

func TestHub_StaleConnectionCleanup(t *testing.T) {
	h := newTestHub()
	c := newFakeConn()
	c.alive = false

	h.Connect("agent-stale", c)
	h.Subscribe("agent-stale", "room-3")
	h.BroadcastToRoom("room-3", Event{"type": "ping"})

	assert.Empty(t, c.sentEvents())
	assert.Empty(t, h.RoomMembers("room-3"))
	assert.Equal(t, 0, h.ConnectedCount())
}

func TestHub_SendToAgent(t *testing.T) {
	h := newTestHub()
	c := newFakeConn()

	h.Connect("agent-dm", c)
	h.SendToAgent("agent-dm", Event{"type": "direct", "msg": "hi"})

	sent := c.sentEvents()
	require.Len(t, sent, 1)
	assert.Equal(t, "direct", sent[0]["type"])
}

func TestHub_SendToAgentMissing(t *testing.T) {
	h := newTestHub()
	assert.NotPanics(t, func() {
		h.SendToAgent("nobody", Event{"type": "direct"})
	})
}

func TestHub_SendToAgentFailureSwallowed(t *testing.T) {
	h := newTestHub()
	c := newFakeConn()
	c.failSend = true

	h.Connect("agent-a", c)
	assert.NotPanics(t, func() {
		h.SendToAgent("agent-a", Event{"type": "direct"})
	})
}

func TestHub_BroadcastAll(t *testing.T) {
	h := newTestHub()
	c1 := newFakeConn()
	c2 := newFakeConn()
	dead := newFakeConn()
	dead.alive = false

	h.Connect("agent-1", c1)
	h.Connect("agent-2", c2)
	h.Connect("agent-3", dead)
	h.Subscribe("agent-1", "room-1")
	// agent-2 has no room at all.

	h.BroadcastAll(Event{"type": "announce"})

	assert.Len(t, c1.sentEvents(), 1)
	assert.Len(t, c2.sentEvents(), 1)
	assert.Empty(t, dead.sentEvents())
}

func TestHub_ConcurrentOperations(t *testing.T) {
	h := newTestHub()
	var wg sync.WaitGroup
	agents := []string{"a", "b", "c", "d", "e"}
	rooms := []string{"r1", "r2", "r3"}

	for _, agent := range agents {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h.Connect(agent, newFakeConn())
				h.Subscribe(agent, rooms[i%len(rooms)])
				h.BroadcastToRoom(rooms[i%len(rooms)], Event{"i": i})
				if i%10 == 9 {
					h.Disconnect(agent)
				}
			}
		}(agent)
	}
	wg.Wait()

	h.checkInvariant(t)
}

// checkInvariant asserts the bidirectional membership invariant at a
// quiescent point: agent ∈ roomAgents[r] iff agentRoom[agent] == r, and no
// room entry has an empty member set.
func (h *Hub) checkInvariant(t interface {
	Fatalf(format string, args ...any)
}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID, members := range h.roomAgents {
		if len(members) == 0 {
			t.Fatalf("room %q kept with empty member set", roomID)
		}
		for agentID := range members {
			if h.agentRoom[agentID] != roomID {
				t.Fatalf("agent %q in room set %q but agentRoom says %q", agentID, roomID, h.agentRoom[agentID])
			}
		}
	}
	for agentID, roomID := range h.agentRoom {
		if _, ok := h.roomAgents[roomID][agentID]; !ok {
			t.Fatalf("agentRoom maps %q to %q but room set lacks the agent", agentID, roomID)
		}
	}
}

// Property-based test: any interleaving of hub operations preserves the
// membership invariant.
func TestHub_PropertyMembershipInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newTestHub()
		agents := []string{"a1", "a2", "a3", "a4"}
		rooms := []string{"r1", "r2", "r3"}

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			agent := rapid.SampledFrom(agents).Draw(rt, "agent")
			switch rapid.IntRange(0, 4).Draw(rt, "op") {
			case 0:
				h.Connect(agent, newFakeConn())
			case 1:
				h.Disconnect(agent)
			case 2:
				h.Subscribe(agent, rapid.SampledFrom(rooms).Draw(rt, "room"))
			case 3:
				c := newFakeConn()
				c.failSend = rapid.Bool().Draw(rt, "fail")
				h.Connect(agent, c)
				h.Subscribe(agent, rapid.SampledFrom(rooms).Draw(rt, "room"))
			case 4:
				h.BroadcastToRoom(rapid.SampledFrom(rooms).Draw(rt, "room"), Event{"i": i})
			}
			h.checkInvariant(rt)
		}
	})
}
