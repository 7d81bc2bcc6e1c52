// Package stacks implements the batch stack-processing calls driven by the
// periodic workers: one pass over every registered agent, and a slower pass
// over each active game's GM agent.
package stacks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Ataxia123/bonfire-hub/internal/game/store"
	"github.com/Ataxia123/bonfire-hub/internal/hub"
	"github.com/Ataxia123/bonfire-hub/internal/worker"
)

// Notifier pushes a room event into the hub without blocking the caller.
// Satisfied by *hub.Dispatcher.
type Notifier interface {
	FireEvent(roomID string, event hub.Event)
}

// StackAPI is the upstream call that processes one agent's pending stack.
// Satisfied by *Client.
type StackAPI interface {
	PostJSON(ctx context.Context, path string, body map[string]any) (int, map[string]any, error)
}

// Processor implements worker.Processor against the delve API and the shared
// game store. Per-agent failures are recorded in the summary and never abort
// the pass.
type Processor struct {
	store    store.Store
	api      StackAPI
	notifier Notifier
	logger   *zap.Logger
}

// NewProcessor creates a Processor.
//
// Precondition: all arguments must be non-nil.
func NewProcessor(st store.Store, api StackAPI, notifier Notifier, logger *zap.Logger) *Processor {
	return &Processor{
		store:    st,
		api:      api,
		notifier: notifier,
		logger:   logger,
	}
}

// ProcessAgentStacks processes the pending stack of every registered agent.
//
// Postcondition: Returns a summary with "processed_count", per-agent
// "results", and an "at" timestamp, or an error if the agent list could not
// be read.
func (p *Processor) ProcessAgentStacks(ctx context.Context) (worker.Summary, error) {
	agentIDs, err := p.store.ListAgentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}

	results := make([]map[string]any, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		results = append(results, p.processOne(ctx, agentID))
	}
	return summarize(results), nil
}

// ProcessGMStacks processes the stack of every distinct GM agent across all
// active games.
func (p *Processor) ProcessGMStacks(ctx context.Context) (worker.Summary, error) {
	games, err := p.store.ListActiveGames(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active games: %w", err)
	}

	results := make([]map[string]any, 0, len(games))
	seen := make(map[string]struct{}, len(games))
	for _, game := range games {
		gmID := game.GMAgentID
		if gmID == "" {
			continue
		}
		if _, dup := seen[gmID]; dup {
			continue
		}
		seen[gmID] = struct{}{}
		results = append(results, p.processOne(ctx, gmID))
	}
	return summarize(results), nil
}

// processOne runs the upstream stack-process call for a single agent,
// journals the outcome, and notifies the agent's room.
func (p *Processor) processOne(ctx context.Context, agentID string) map[string]any {
	status, payload, err := p.api.PostJSON(ctx, "/agents/"+agentID+"/stack/process", map[string]any{})

	entry := map[string]any{"agent_id": agentID, "status": status}
	if err != nil {
		p.logger.Warn("stack processing call failed",
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
		entry["error"] = err.Error()
	} else {
		entry["payload"] = payload
	}
	success := err == nil && status == 200

	agent, lookupErr := p.store.Agent(ctx, agentID)
	if lookupErr != nil {
		return entry
	}

	if _, appendErr := p.store.AppendEvent(ctx, store.GameEvent{
		BonfireID: agent.BonfireID,
		Type:      "stack_processed",
		Payload: map[string]any{
			"agent_id": agentID,
			"status":   status,
			"success":  success,
		},
	}); appendErr != nil {
		p.logger.Warn("appending stack event",
			zap.String("agent_id", agentID),
			zap.Error(appendErr),
		)
	}

	if agent.RoomID != "" {
		p.notifier.FireEvent(agent.RoomID, hub.Event{
			"type":     "stack_processed",
			"agent_id": agentID,
			"success":  success,
		})
	}
	return entry
}

func summarize(results []map[string]any) worker.Summary {
	return worker.Summary{
		"processed_count": len(results),
		"results":         results,
		"at":              time.Now().UTC().Format(time.RFC3339),
	}
}
