package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"coinscanner/internal/enrich"
	"coinscanner/internal/market"
	"coinscanner/internal/observability"
)

// State is the lifecycle position of a run
type State string

const (
	StateIdle      State = "idle"
	StateFetching  State = "fetching"
	StateRanking   State = "ranking"
	StateEnriching State = "enriching"
	StateReady     State = "ready"
	StateFailed    State = "failed"
)

// MarketSource provides the market snapshot
type MarketSource interface {
	FetchMarkets(ctx context.Context) ([]market.Coin, error)
}

// RunError is returned when a run ends in the failed state
type RunError struct {
	RunID string
	Stage State
	Err   error
}

// Error implements the error interface
func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed while %s: %v", e.RunID, e.Stage, e.Err)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *RunError) Unwrap() error {
	return e.Err
}

// Options configures a Coordinator
type Options struct {
	Market      MarketSource
	Tradability *enrich.TradabilityChecker
	News        *enrich.NewsEnricher
	Rank        market.RankOptions
	Metrics     *observability.Metrics
	Logger      *slog.Logger
	// Timeout bounds a whole run. Zero means no bound beyond the caller's context.
	Timeout time.Duration
	// Now is the clock used for report timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Coordinator sequences snapshot, ranking and enrichment. It holds only
// read-only dependencies; every run's state lives in its own Run.
type Coordinator struct {
	market      MarketSource
	tradability *enrich.TradabilityChecker
	news        *enrich.NewsEnricher
	rank        market.RankOptions
	metrics     *observability.Metrics
	logger      *slog.Logger
	timeout     time.Duration
	now         func() time.Time
}

// New creates a new Coordinator
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	news := opts.News
	if news == nil {
		news = enrich.NewNewsEnricher(nil, 0, 0, logger)
	}
	return &Coordinator{
		market:      opts.Market,
		tradability: opts.Tradability,
		news:        news,
		rank:        opts.Rank,
		metrics:     opts.Metrics,
		logger:      logger,
		timeout:     opts.Timeout,
		now:         now,
	}
}

// Run is a single pipeline execution
type Run struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	state  State
	report *market.Report
	err    error
}

// State returns the run's current state
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Cancel abandons the run. In-flight requests are cancelled and the run ends failed.
func (r *Run) Cancel() {
	r.cancel()
}

// Done is closed once the run reaches ready or failed.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes and returns its outcome
func (r *Run) Wait() (*market.Report, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report, r.err
}

// Run executes one pipeline run and waits for it
func (c *Coordinator) Run(ctx context.Context) (*market.Report, error) {
	return c.Start(ctx).Wait()
}

// Start launches a run in the background
func (c *Coordinator) Start(ctx context.Context) *Run {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if c.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	run := &Run{
		ID:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateIdle,
	}

	go func() {
		defer cancel()
		report, err := c.execute(runCtx, run)

		run.mu.Lock()
		run.report, run.err = report, err
		run.mu.Unlock()
		close(run.done)
	}()

	return run
}

func (c *Coordinator) execute(ctx context.Context, run *Run) (*market.Report, error) {
	logger := c.logger.With("run_id", run.ID)
	started := c.now()

	transition := func(to State) {
		run.mu.Lock()
		from := run.state
		run.state = to
		run.mu.Unlock()
		logger.Debug("run state changed", "from", from, "to", to)
	}
	fail := func(stage State, err error) (*market.Report, error) {
		transition(StateFailed)
		c.metrics.ObserveRun(string(StateFailed), c.now().Sub(started), c.now())
		logger.Error("run failed", "stage", stage, "error", err)
		return nil, &RunError{RunID: run.ID, Stage: stage, Err: err}
	}

	if c.market == nil {
		return fail(StateIdle, fmt.Errorf("no market source configured"))
	}

	transition(StateFetching)
	stageStart := c.now()
	snapshot, err := c.market.FetchMarkets(ctx)
	c.metrics.ObserveStage(string(StateFetching), c.now().Sub(stageStart))
	if err != nil {
		return fail(StateFetching, err)
	}

	transition(StateRanking)
	ranked := market.Rank(snapshot, c.rank)
	c.metrics.ObserveSizes(len(snapshot), len(ranked))
	logger.Info("snapshot ranked", "snapshot", len(snapshot), "ranked", len(ranked))

	transition(StateEnriching)
	stageStart = c.now()
	var tradability []market.Tradability
	var news []market.NewsResult

	var wg conc.WaitGroup
	wg.Go(func() {
		if c.tradability == nil {
			tradability = unchecked(ranked)
			return
		}
		tradability = c.tradability.Check(ctx, ranked)
	})
	wg.Go(func() {
		news = c.news.Enrich(ctx, ranked)
	})
	wg.Wait()
	c.metrics.ObserveStage(string(StateEnriching), c.now().Sub(stageStart))

	// A cancelled run never publishes, even if every lookup happened to finish.
	if err := ctx.Err(); err != nil {
		return fail(StateEnriching, err)
	}

	c.metrics.ObserveTradability(tradability)
	c.metrics.ObserveNews(c.news.Enabled(), news)

	coins := make([]market.EnrichedCoin, len(ranked))
	for i, rc := range ranked {
		coins[i] = market.EnrichedCoin{
			RankedCoin:  rc,
			Tradability: tradability[i],
			News:        news[i],
		}
	}

	finished := c.now()
	report := &market.Report{
		RunID:       run.ID,
		FetchedAt:   finished.UTC(),
		NewsEnabled: c.news.Enabled(),
		Coins:       coins,
	}

	transition(StateReady)
	c.metrics.ObserveRun(string(StateReady), finished.Sub(started), finished)
	logger.Info("run ready", "coins", len(coins), "duration_ms", finished.Sub(started).Milliseconds())
	return report, nil
}

func unchecked(ranked []market.RankedCoin) []market.Tradability {
	out := make([]market.Tradability, len(ranked))
	for i := range out {
		out[i] = market.Tradability{Status: market.TradabilityUnknown}
	}
	return out
}
