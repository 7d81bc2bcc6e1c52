package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ataxia123/bonfire-hub/internal/game/store"
)

// Store is the Postgres-backed implementation of store.Store. Concurrency
// safety comes from the connection pool; no additional locking is needed.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
//
// Precondition: pool must be connected.
func NewStore(pool *Pool) *Store {
	return &Store{db: pool.DB()}
}

// UpsertAgent registers or updates an agent.
func (s *Store) UpsertAgent(ctx context.Context, agent store.Agent) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO agents (id, bonfire_id, room_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE
		 SET bonfire_id = EXCLUDED.bonfire_id,
		     room_id = EXCLUDED.room_id,
		     updated_at = NOW()`,
		agent.ID, agent.BonfireID, agent.RoomID,
	)
	if err != nil {
		return fmt.Errorf("upserting agent %s: %w", agent.ID, err)
	}
	return nil
}

// RemoveAgent deletes an agent. Unknown agents are a no-op.
func (s *Store) RemoveAgent(ctx context.Context, agentID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM agents WHERE id = $1`, agentID); err != nil {
		return fmt.Errorf("removing agent %s: %w", agentID, err)
	}
	return nil
}

// Agent returns the agent with the given ID, or store.ErrAgentNotFound.
func (s *Store) Agent(ctx context.Context, agentID string) (store.Agent, error) {
	var agent store.Agent
	err := s.db.QueryRow(ctx,
		`SELECT id, bonfire_id, room_id FROM agents WHERE id = $1`,
		agentID,
	).Scan(&agent.ID, &agent.BonfireID, &agent.RoomID)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Agent{}, store.ErrAgentNotFound
	}
	if err != nil {
		return store.Agent{}, fmt.Errorf("fetching agent %s: %w", agentID, err)
	}
	return agent, nil
}

// ListAgentIDs returns the IDs of every registered agent.
func (s *Store) ListAgentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning agent id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertGame registers or updates a game.
func (s *Store) UpsertGame(ctx context.Context, game store.Game) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO games (bonfire_id, gm_agent_id, active)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (bonfire_id) DO UPDATE
		 SET gm_agent_id = EXCLUDED.gm_agent_id,
		     active = EXCLUDED.active,
		     updated_at = NOW()`,
		game.BonfireID, game.GMAgentID, game.Active,
	)
	if err != nil {
		return fmt.Errorf("upserting game %s: %w", game.BonfireID, err)
	}
	return nil
}

// ListActiveGames returns every game currently marked active.
func (s *Store) ListActiveGames(ctx context.Context) ([]store.Game, error) {
	rows, err := s.db.Query(ctx,
		`SELECT bonfire_id, gm_agent_id, active FROM games WHERE active ORDER BY bonfire_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active games: %w", err)
	}
	defer rows.Close()

	var games []store.Game
	for rows.Next() {
		var game store.Game
		if err := rows.Scan(&game.BonfireID, &game.GMAgentID, &game.Active); err != nil {
			return nil, fmt.Errorf("scanning game: %w", err)
		}
		games = append(games, game)
	}
	return games, rows.Err()
}

// AppendEvent appends an event to its game's log, filling in ID and
// CreatedAt when absent.
func (s *Store) AppendEvent(ctx context.Context, event store.GameEvent) (store.GameEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return store.GameEvent{}, fmt.Errorf("encoding event payload: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO game_events (id, bonfire_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.BonfireID, event.Type, raw, event.CreatedAt,
	)
	if err != nil {
		return store.GameEvent{}, fmt.Errorf("appending event: %w", err)
	}
	return event, nil
}

// ListEvents returns up to limit most recent events for a game, oldest first.
func (s *Store) ListEvents(ctx context.Context, bonfireID string, limit int) ([]store.GameEvent, error) {
	query := `SELECT id, bonfire_id, event_type, payload, created_at
		 FROM game_events WHERE bonfire_id = $1
		 ORDER BY created_at DESC, id DESC`
	args := []any{bonfireID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []store.GameEvent
	for rows.Next() {
		var event store.GameEvent
		var raw []byte
		if err := rows.Scan(&event.ID, &event.BonfireID, &event.Type, &raw, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if err := json.Unmarshal(raw, &event.Payload); err != nil {
			return nil, fmt.Errorf("decoding event payload: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; callers expect oldest-first.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}
