package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/evo-world/internal/config"
)

// Runner paces turns against an Orchestrator. Directives submitted between
// turns are queued and applied at the start of the next one.
type Runner struct {
	orch     *Orchestrator
	Interval time.Duration // Base turn interval
	MaxTurns int           // Stop after this many turns; 0 = unbounded

	// OnTurn is called after every committed turn.
	OnTurn func(r *TurnReport)

	mu      sync.Mutex
	speed   float64 // 1.0 = base interval, 0 = paused
	pending Directives
	cancel  context.CancelFunc // Cancels the in-flight turn
	stop    context.CancelFunc // Ends Run
	running bool
	ran     int
	lastErr error
}

// NewRunner creates a runner with settings from cfg.
func NewRunner(o *Orchestrator, cfg config.RunnerConfig) *Runner {
	return &Runner{
		orch:     o,
		Interval: cfg.Interval,
		MaxTurns: cfg.MaxTurns,
		speed:    1.0,
	}
}

// RunnerStatus is a point-in-time view of the runner.
type RunnerStatus struct {
	Running   bool    `json:"running"`
	Speed     float64 `json:"speed"`
	Turn      int     `json:"turn"`
	TurnsRun  int     `json:"turns_run"`
	InFlight  bool    `json:"in_flight"`
	Pending   int     `json:"pending_directives"`
	LastError string  `json:"last_error,omitempty"`
}

// Status reports the runner's state.
func (r *Runner) Status() RunnerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := RunnerStatus{
		Running:  r.running,
		Speed:    r.speed,
		Turn:     r.orch.Turn(),
		TurnsRun: r.ran,
		InFlight: r.cancel != nil,
		Pending:  len(r.pending.Pressures),
	}
	if r.pending.Watchlist != nil {
		s.Pending++
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}

// Submit queues directives for the next turn. Directives are validated
// against the current map so bad input is rejected up front.
func (r *Runner) Submit(d Directives) error {
	m := r.orch.State().World
	for _, p := range d.Pressures {
		if err := p.Validate(m); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.pending = r.pending.Merge(d)
	r.mu.Unlock()
	return nil
}

// SetSpeed changes the pacing multiplier. Zero or less pauses.
func (r *Runner) SetSpeed(speed float64) {
	r.mu.Lock()
	r.speed = speed
	r.mu.Unlock()
	slog.Info("runner speed changed", "speed", speed)
}

// CancelTurn aborts the in-flight turn, if any. Its results are discarded
// and its directives are requeued. Returns false if no turn was running.
func (r *Runner) CancelTurn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.cancel()
	return true
}

// Step runs one turn immediately with the pending directives.
func (r *Runner) Step(ctx context.Context) (*TurnReport, error) {
	r.mu.Lock()
	dir := r.pending
	r.pending = Directives{}
	tctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	report, err := r.orch.RunTurn(tctx, dir)
	cancel()

	r.mu.Lock()
	r.cancel = nil
	r.lastErr = err
	if err != nil {
		// Directives that were never committed go back in front of anything
		// submitted meanwhile.
		r.pending = dir.Merge(r.pending)
	} else {
		r.ran++
	}
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if r.OnTurn != nil {
		r.OnTurn(report)
	}
	return report, nil
}

// Run starts the turn loop. Blocks until ctx is done or MaxTurns is reached.
// A cancelled turn is logged and the loop carries on; other turn errors end
// the loop.
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	r.mu.Lock()
	r.running = true
	r.stop = stop
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.stop = nil
		r.mu.Unlock()
	}()
	slog.Info("runner started", "turn", r.orch.Turn(), "interval", r.Interval, "max_turns", r.MaxTurns)

	for {
		if ctx.Err() != nil {
			break
		}
		r.mu.Lock()
		speed, done := r.speed, r.MaxTurns > 0 && r.ran >= r.MaxTurns
		r.mu.Unlock()
		if done {
			break
		}
		if speed <= 0 {
			if !sleep(ctx, 100*time.Millisecond) {
				break
			}
			continue
		}

		start := time.Now()
		if _, err := r.Step(ctx); err != nil {
			if !errors.Is(err, ErrTurnCancelled) {
				slog.Error("turn failed", "turn", r.orch.Turn()+1, "error", err)
				return err
			}
			if ctx.Err() != nil {
				break
			}
			slog.Warn("turn cancelled by operator", "turn", r.orch.Turn()+1)
		}

		elapsed := time.Since(start)
		target := time.Duration(float64(r.Interval) / speed)
		if elapsed < target && !sleep(ctx, target-elapsed) {
			break
		}
	}

	slog.Info("runner stopped", "turn", r.orch.Turn())
	return nil
}

// Stop ends Run, cancelling the in-flight turn.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		r.stop()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
