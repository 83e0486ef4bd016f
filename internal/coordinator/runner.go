package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"coinscanner/internal/market"
)

// ErrSuperseded is returned to the caller of a run that a newer trigger replaced.
var ErrSuperseded = errors.New("run superseded by a newer run")

// Runner serializes user-triggered runs: a new trigger cancels the run in
// flight and only the newest run may publish its report.
type Runner struct {
	coord  *Coordinator
	logger *slog.Logger

	mu      sync.Mutex
	current *Run
	latest  *market.Report
}

// NewRunner creates a Runner over coord
func NewRunner(coord *Coordinator, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{coord: coord, logger: logger}
}

// Trigger starts a new run, superseding any run in flight, and waits for it.
func (r *Runner) Trigger(ctx context.Context) (*market.Report, error) {
	r.mu.Lock()
	if r.current != nil {
		r.logger.Info("superseding in-flight run", "run_id", r.current.ID)
		r.current.Cancel()
	}
	run := r.coord.Start(ctx)
	r.current = run
	r.mu.Unlock()

	report, err := run.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != run {
		return nil, ErrSuperseded
	}
	r.current = nil

	if err != nil {
		return nil, err
	}
	r.latest = report
	return report, nil
}

// Latest returns the most recent report that reached ready, or nil.
func (r *Runner) Latest() *market.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// Current returns the run in flight, or nil.
func (r *Runner) Current() *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
