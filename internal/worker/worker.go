// Package worker provides a generic periodic background worker that drives
// batch stack processing on a fixed interval.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Summary is the opaque result mapping returned by a batch job.
type Summary map[string]any

// Job is one unit of periodic work. The context is cancelled when the worker
// is stopped; a job may ignore it and run to completion.
type Job func(ctx context.Context) (Summary, error)

// Phase selects where in the loop the first run happens.
type Phase int

const (
	// RunThenWait executes the job immediately on start, then waits the
	// interval between iterations.
	RunThenWait Phase = iota
	// WaitThenRun waits a full interval before the first execution. A stop
	// during the wait exits without running.
	WaitThenRun
)

// DefaultStopTimeout bounds how long Stop waits for the loop to exit.
const DefaultStopTimeout = 2 * time.Second

// Config describes a Worker.
type Config struct {
	// Name identifies the worker in logs.
	Name string
	// Interval is the requested time between iterations. Clamped up to Floor.
	Interval time.Duration
	// Floor is the minimum allowed interval, guarding against accidental
	// busy-looping when misconfigured.
	Floor time.Duration
	// Phase selects run-then-wait or wait-then-run.
	Phase Phase
	// Job is the batch call to invoke each iteration.
	Job Job
	// StopTimeout bounds the join in Stop. Zero means DefaultStopTimeout.
	StopTimeout time.Duration
	// Clock drives waits between iterations. Nil means the real clock.
	Clock clockwork.Clock
	// Logger must be non-nil.
	Logger *zap.Logger
}

// Worker runs a Job periodically on its own goroutine. Start and Stop are
// idempotent; a stopped worker may be started again. Observability fields
// (LastRunAt, LastResult, LastErr) are written only by the loop and may be
// read from any goroutine.
//
// A job error does not terminate the loop: it is recorded and the job is
// retried on the next interval.
type Worker struct {
	name        string
	interval    time.Duration
	phase       Phase
	job         Job
	stopTimeout time.Duration
	clock       clockwork.Clock
	logger      *zap.Logger

	mu         sync.Mutex
	running    bool
	stop       chan struct{}
	stopOnce   *sync.Once
	done       chan struct{}
	lastRunAt  time.Time
	lastResult Summary
	lastErr    error
}

// New creates a Worker from cfg, clamping the interval to the floor.
//
// Precondition: cfg.Job and cfg.Logger must be non-nil; cfg.Floor must be > 0.
// Postcondition: Returns a stopped Worker with Interval() >= cfg.Floor.
func New(cfg Config) *Worker {
	interval := cfg.Interval
	if interval < cfg.Floor {
		cfg.Logger.Info("interval below floor, clamping",
			zap.String("worker", cfg.Name),
			zap.Duration("requested", interval),
			zap.Duration("floor", cfg.Floor),
		)
		interval = cfg.Floor
	}
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Worker{
		name:        cfg.Name,
		interval:    interval,
		phase:       cfg.Phase,
		job:         cfg.Job,
		stopTimeout: stopTimeout,
		clock:       clock,
		logger:      cfg.Logger,
	}
}

// Name returns the worker's log identifier.
func (w *Worker) Name() string { return w.name }

// Interval returns the effective (floor-clamped) interval.
func (w *Worker) Interval() time.Duration { return w.interval }

// IsRunning reports whether the loop goroutine has been launched and has not
// yet exited.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// LastRunAt returns the completion time of the most recent iteration, or the
// zero time if the job has never run.
func (w *Worker) LastRunAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastRunAt
}

// LastResult returns the summary recorded by the most recent iteration, or
// nil if the job has never run.
func (w *Worker) LastResult() Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastResult
}

// LastErr returns the error from the most recent iteration, or nil.
func (w *Worker) LastErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status returns an observability snapshot suitable for JSON encoding.
func (w *Worker) Status() Summary {
	w.mu.Lock()
	defer w.mu.Unlock()

	status := Summary{
		"running":     w.running,
		"interval":    w.interval.String(),
		"last_run_at": "",
		"last_result": w.lastResult,
	}
	if !w.lastRunAt.IsZero() {
		status["last_run_at"] = w.lastRunAt.UTC().Format(time.RFC3339)
	}
	if w.lastErr != nil {
		status["last_error"] = w.lastErr.Error()
	}
	return status
}

// Start launches the loop goroutine. No-op if already running.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true
	w.stop = make(chan struct{})
	w.stopOnce = new(sync.Once)
	w.done = make(chan struct{})

	w.logger.Info("worker starting",
		zap.String("worker", w.name),
		zap.Duration("interval", w.interval),
	)
	go w.loop(w.stop, w.done)
}

// Stop raises the stop signal and waits for the loop to exit, up to the
// configured stop timeout. If an iteration is still in flight when the
// timeout elapses, Stop returns anyway; the loop exits after the iteration
// completes. No-op if not running.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	stopOnce, done := w.stopOnce, w.done
	stop := w.stop
	w.mu.Unlock()

	stopOnce.Do(func() { close(stop) })

	select {
	case <-done:
		w.logger.Info("worker stopped", zap.String("worker", w.name))
	case <-time.After(w.stopTimeout):
		w.logger.Warn("worker did not stop within timeout, abandoning join",
			zap.String("worker", w.name),
			zap.Duration("timeout", w.stopTimeout),
		)
	}
}

func (w *Worker) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(done)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if w.phase == RunThenWait {
			w.runOnce(ctx)
		}

		select {
		case <-stop:
			return
		case <-w.clock.After(w.interval):
		}

		if w.phase == WaitThenRun {
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	result, err := w.job(ctx)
	now := w.clock.Now()

	w.mu.Lock()
	w.lastRunAt = now
	w.lastErr = err
	if err != nil {
		// Keep the loop alive: record the failure and retry next interval.
		w.lastResult = Summary{
			"error": err.Error(),
			"at":    now.UTC().Format(time.RFC3339),
		}
	} else {
		w.lastResult = result
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("worker iteration failed",
			zap.String("worker", w.name),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("worker iteration complete",
		zap.String("worker", w.name),
	)
}
