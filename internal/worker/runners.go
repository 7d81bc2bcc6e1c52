package worker

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Interval floors for the two concrete workers. The agent-stack pass is
// cheap and may run often; the GM batch pass is heavier and floors higher.
const (
	StackFloor = 5 * time.Second
	GMFloor    = 30 * time.Second
)

// Processor exposes the two batch stack-processing calls the workers drive.
// Implementations must be safe for concurrent use: both workers and the
// request path may call into the shared store at once.
type Processor interface {
	// ProcessAgentStacks processes the pending stack of every registered
	// agent and returns an opaque summary.
	ProcessAgentStacks(ctx context.Context) (Summary, error)
	// ProcessGMStacks processes the stack of every distinct GM agent across
	// all active games.
	ProcessGMStacks(ctx context.Context) (Summary, error)
}

// NewStackWorker returns the agent-stack worker: runs immediately on start,
// then every interval (floor 5s).
func NewStackWorker(p Processor, interval, stopTimeout time.Duration, clock clockwork.Clock, logger *zap.Logger) *Worker {
	return New(Config{
		Name:        "agent-stacks",
		Interval:    interval,
		Floor:       StackFloor,
		Phase:       RunThenWait,
		Job:         p.ProcessAgentStacks,
		StopTimeout: stopTimeout,
		Clock:       clock,
		Logger:      logger,
	})
}

// NewGMWorker returns the GM batch worker: waits a full interval before the
// first run (floor 30s).
func NewGMWorker(p Processor, interval, stopTimeout time.Duration, clock clockwork.Clock, logger *zap.Logger) *Worker {
	return New(Config{
		Name:        "gm-batch",
		Interval:    interval,
		Floor:       GMFloor,
		Phase:       WaitThenRun,
		Job:         p.ProcessGMStacks,
		StopTimeout: stopTimeout,
		Clock:       clock,
		Logger:      logger,
	})
}
