package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxEventsPerGame bounds each game's in-memory event log; older entries
// are discarded.
const maxEventsPerGame = 200

// MemStore is a mutex-guarded in-memory Store. It is the default backend
// and the test double for the Postgres-backed store.
type MemStore struct {
	mu     sync.RWMutex
	agents map[string]Agent
	games  map[string]Game
	events map[string][]GameEvent
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		agents: make(map[string]Agent),
		games:  make(map[string]Game),
		events: make(map[string][]GameEvent),
	}
}

// UpsertAgent registers or updates an agent.
func (s *MemStore) UpsertAgent(_ context.Context, agent Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ID] = agent
	return nil
}

// RemoveAgent deletes an agent. Unknown agents are a no-op.
func (s *MemStore) RemoveAgent(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, agentID)
	return nil
}

// Agent returns the agent with the given ID, or ErrAgentNotFound.
func (s *MemStore) Agent(_ context.Context, agentID string) (Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return Agent{}, ErrAgentNotFound
	}
	return agent, nil
}

// ListAgentIDs returns the IDs of every registered agent.
func (s *MemStore) ListAgentIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	return ids, nil
}

// UpsertGame registers or updates a game.
func (s *MemStore) UpsertGame(_ context.Context, game Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[game.BonfireID] = game
	return nil
}

// ListActiveGames returns every game currently marked active.
func (s *MemStore) ListActiveGames(_ context.Context) ([]Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	games := make([]Game, 0, len(s.games))
	for _, game := range s.games {
		if game.Active {
			games = append(games, game)
		}
	}
	return games, nil
}

// AppendEvent appends an event to its game's log, filling in ID and
// CreatedAt when absent and trimming the log to its bound.
func (s *MemStore) AppendEvent(_ context.Context, event GameEvent) (GameEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	log := append(s.events[event.BonfireID], event)
	if len(log) > maxEventsPerGame {
		log = log[len(log)-maxEventsPerGame:]
	}
	s.events[event.BonfireID] = log
	return event, nil
}

// ListEvents returns up to limit most recent events for a game, oldest first.
func (s *MemStore) ListEvents(_ context.Context, bonfireID string, limit int) ([]GameEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.events[bonfireID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]GameEvent, len(log))
	copy(out, log)
	return out, nil
}
