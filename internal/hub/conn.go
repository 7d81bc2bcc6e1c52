package hub

// Event is a JSON-serializable payload broadcast to connected agents.
// The hub enforces no schema; producers and consumers agree on contents.
type Event map[string]any

// Conn is the transport capability the hub requires from a connection.
// Implementations must be safe for concurrent Send and Close calls.
type Conn interface {
	// Send delivers one event to the peer. A non-nil error marks the
	// connection as unusable from the hub's perspective.
	Send(event Event) error
	// Close tears down the connection. Best-effort; errors are advisory.
	Close() error
	// Alive reports whether the connection is still usable.
	Alive() bool
}
