// Package store defines the shared game-state store consumed by the request
// path and the background workers, plus an in-memory implementation.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrAgentNotFound is returned when an agent lookup yields no results.
var ErrAgentNotFound = errors.New("agent not found")

// Agent is a registered participant of a game.
type Agent struct {
	// ID is the opaque unique agent identifier.
	ID string
	// BonfireID is the game (bonfire) the agent belongs to.
	BonfireID string
	// RoomID is the room the agent currently occupies, used to route
	// processing events back to spectators.
	RoomID string
}

// Game is one active bonfire game and its GM agent.
type Game struct {
	BonfireID string
	GMAgentID string
	Active    bool
}

// GameEvent is one entry in a game's append-only event log.
type GameEvent struct {
	ID        string
	BonfireID string
	Type      string
	Payload   map[string]any
	CreatedAt time.Time
}

// Store is the state collaborator shared between HTTP handlers and both
// periodic workers. Implementations must be safe under concurrent access
// from multiple goroutines; no caller holds an external lock.
type Store interface {
	// UpsertAgent registers or updates an agent.
	UpsertAgent(ctx context.Context, agent Agent) error
	// RemoveAgent deletes an agent. Unknown agents are a no-op.
	RemoveAgent(ctx context.Context, agentID string) error
	// Agent returns the agent with the given ID, or ErrAgentNotFound.
	Agent(ctx context.Context, agentID string) (Agent, error)
	// ListAgentIDs returns the IDs of every registered agent.
	ListAgentIDs(ctx context.Context) ([]string, error)

	// UpsertGame registers or updates a game.
	UpsertGame(ctx context.Context, game Game) error
	// ListActiveGames returns every game currently marked active.
	ListActiveGames(ctx context.Context) ([]Game, error)

	// AppendEvent appends an event to its game's log. An empty ID or zero
	// CreatedAt is filled in by the store.
	AppendEvent(ctx context.Context, event GameEvent) (GameEvent, error)
	// ListEvents returns up to limit most recent events for a game, oldest
	// first. limit <= 0 means no limit.
	ListEvents(ctx context.Context, bonfireID string, limit int) ([]GameEvent, error)
}
