package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatcher_FireBeforeStartIsSafe(t *testing.T) {
	h := newTestHub()
	d := NewDispatcher(h, 4, zap.NewNop())

	done := make(chan struct{})
	go func() {
		d.FireEvent("room-1", Event{"type": "early"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("FireEvent blocked before Start")
	}
}

func TestDispatcher_DeliversBufferedEvents(t *testing.T) {
	h := newTestHub()
	c := newFakeConn()
	h.Connect("agent-a", c)
	h.Subscribe("agent-a", "room-1")

	d := NewDispatcher(h, 4, zap.NewNop())
	d.FireEvent("room-1", Event{"type": "queued"})

	go func() { _ = d.Start() }()
	defer func() {
		d.Stop()
		d.Wait()
	}()

	require.Eventually(t, func() bool {
		return len(c.sentEvents()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "queued", c.sentEvents()[0]["type"])
}

func TestDispatcher_FullBufferDropsEvent(t *testing.T) {
	h := newTestHub()
	d := NewDispatcher(h, 1, zap.NewNop())

	// Not started: the first event fills the buffer, the rest must drop
	// without blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.FireEvent("room-1", Event{"i": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("FireEvent blocked on a full buffer")
	}
}

func TestDispatcher_StopTerminatesStart(t *testing.T) {
	h := newTestHub()
	d := NewDispatcher(h, 4, zap.NewNop())

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start() }()

	d.Stop()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestDispatcher_StopIdempotent(t *testing.T) {
	h := newTestHub()
	d := NewDispatcher(h, 4, zap.NewNop())

	go func() { _ = d.Start() }()
	d.Stop()
	assert.NotPanics(t, func() { d.Stop() })
	d.Wait()
}

func TestDispatcher_FireAfterStopIsSafe(t *testing.T) {
	h := newTestHub()
	d := NewDispatcher(h, 1, zap.NewNop())

	go func() { _ = d.Start() }()
	d.Stop()
	d.Wait()

	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			d.FireEvent("room-1", Event{"i": i})
		}
	})
}

func TestDispatcher_EndToEndFanout(t *testing.T) {
	h := newTestHub()
	c1 := newFakeConn()
	c2 := newFakeConn()
	other := newFakeConn()
	h.Connect("agent-1", c1)
	h.Connect("agent-2", c2)
	h.Connect("agent-3", other)
	h.Subscribe("agent-1", "room-1")
	h.Subscribe("agent-2", "room-1")
	h.Subscribe("agent-3", "room-2")

	d := NewDispatcher(h, 16, zap.NewNop())
	go func() { _ = d.Start() }()
	defer func() {
		d.Stop()
		d.Wait()
	}()

	// Fired from a foreign goroutine, as the workers do.
	go d.FireEvent("room-1", Event{"type": "stack_processed"})

	require.Eventually(t, func() bool {
		return len(c1.sentEvents()) == 1 && len(c2.sentEvents()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, other.sentEvents(), "other rooms must not receive the event")
}
