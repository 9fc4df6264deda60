// Package engine wires together the dispatcher, HTTP client, worker
// pool, outcome channel, and aggregator into one benchmark run, enforcing
// the strict startup/shutdown ordering spec §4.6 requires.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/surge/internal/config"
	"github.com/example/surge/internal/dispatch"
	"github.com/example/surge/internal/httpreq"
	"github.com/example/surge/internal/metrics"
	"github.com/example/surge/internal/progress"
)

// outcomeChannelCapacity is the bounded MPSC capacity spec §4.4 fixes at
// 500: large enough to absorb a burst of worker completions without
// every worker stalling on every send, small enough to keep the
// aggregator's lag bounded.
const outcomeChannelCapacity = 500

// Result is everything a run produces: the summary plus the run ID used
// to correlate it with log lines emitted during the run.
type Result struct {
	RunID   string
	Summary Summary
}

// Orchestrator owns one benchmark run's lifecycle end to end.
type Orchestrator struct {
	cfg    config.Config
	logger zerolog.Logger
	metrics *metrics.Metrics
}

// New constructs an Orchestrator for cfg. logger is the base logger every
// goroutine spawned by Run logs through, tagged with a per-run ID. m is
// optional (nil disables metrics observation).
func New(cfg config.Config, logger zerolog.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{cfg: cfg, logger: logger, metrics: m}
}

// Run executes the full benchmark lifecycle and returns the final
// summary. It returns an error only for fatal conditions: HTTP client
// build failure or a worker's fail-fast request-build error.
func (o *Orchestrator) Run(ctx context.Context, reporter progress.Reporter) (Result, error) {
	runID := uuid.NewString()
	logger := o.logger.With().Str("run_id", runID).Logger()

	// Step 1: build HTTP client, fail-fast on misconfiguration.
	client, err := httpreq.BuildClient(o.cfg)
	if err != nil {
		return Result{}, fmt.Errorf("build http client: %w", err)
	}

	// Step 2: construct the dispatcher variant matching the budget.
	d, budget := o.buildDispatcher()

	// Step 3: construct statistics; step 5 (started_at) happens inside
	// NewStatistics.
	stats := NewStatistics(int(o.cfg.Connections))

	// Step 4: create the outcome channel.
	outcomes := make(chan Outcome, outcomeChannelCapacity)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// External cancellation (parent ctx done, or a worker's fail-fast
	// calling cancelRun) must reach the dispatcher, not just the workers'
	// suspension points: otherwise a dispatcher with no rate limiter would
	// keep admitting jobs and workers would keep issuing (now immediately
	// failing) requests until the budget was exhausted rather than
	// draining promptly, per spec §4.2's await_admission contract.
	go func() {
		<-runCtx.Done()
		d.Cancel()
	}()

	// Step 6: spawn the aggregator consumer.
	aggregatorDone := make(chan struct{})
	go func() {
		defer close(aggregatorDone)
		for outcome := range outcomes {
			stats.Fold(outcome)
			if o.metrics != nil {
				bucket := "other"
				if outcome.IsSuccess() {
					bucket = StatusBucket(outcome.Status)
				} else if outcome.ErrStatus != 0 {
					bucket = StatusBucket(outcome.ErrStatus)
				}
				o.metrics.ObserveBucket(bucket, outcome.Elapsed())
			}
		}
	}()

	// Step 7: spawn the progress updater.
	progressDone := make(chan struct{})
	go o.runProgressUpdater(runCtx, d, budget, reporter, progressDone)

	// Step 8: spawn C workers.
	if o.metrics != nil {
		o.metrics.ActiveWorkers.Add(float64(o.cfg.Connections))
	}
	var wg sync.WaitGroup
	fatalErrs := make(chan error, int(o.cfg.Connections))
	for i := 0; i < int(o.cfg.Connections); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if o.metrics != nil {
				defer o.metrics.ActiveWorkers.Add(-1)
			}
			if err := runWorker(runCtx, o.cfg, d, client, outcomes, logger); err != nil {
				select {
				case fatalErrs <- err:
				default:
				}
				cancelRun()
			}
		}()
	}

	// Step 9: spawn the per-second sampler.
	samplerDone := make(chan struct{})
	go func() {
		defer close(samplerDone)
		stats.RunSampler()
	}()

	// Shutdown step 1: await all workers.
	wg.Wait()

	// Shutdown step 2: workers_done, expressed as closing the channel so
	// the range loop above drains whatever remains, then exits.
	close(outcomes)

	// Shutdown step 3: stop statistics.
	stats.Stop()

	// Shutdown step 4: await aggregator completion.
	<-aggregatorDone

	// Shutdown step 5: await sampler completion.
	<-samplerDone

	// Shutdown step 6: finish progress.
	close(progressDone)
	reporter.Finish()

	select {
	case err := <-fatalErrs:
		return Result{RunID: runID}, &FatalError{Cause: err}
	default:
	}

	// Shutdown step 7: run summary computation.
	percentiles := o.cfg.Percentiles
	if len(percentiles) == 0 {
		percentiles = config.DefaultPercentiles
	}
	summary := stats.Summarize(percentiles)

	// Shutdown step 8: emit the final statistics (left to the caller,
	// which owns output formatting).
	return Result{RunID: runID, Summary: summary}, nil
}

// budget describes the terminal condition driving the progress updater's
// SetPosition cadence, per spec §6's progress contract.
type budget struct {
	isCount bool
	total   uint64 // count mode: N; duration mode: whole seconds
}

func (o *Orchestrator) buildDispatcher() (dispatch.Dispatcher, budget) {
	if o.cfg.Requests != nil {
		return dispatch.NewCountDispatcher(*o.cfg.Requests, o.cfg.Rate), budget{isCount: true, total: *o.cfg.Requests}
	}

	d := dispatch.NewDurationDispatcher(*o.cfg.Duration, o.cfg.Rate)
	return d, budget{isCount: false, total: uint64(o.cfg.Duration.Seconds())}
}

// runProgressUpdater calls reporter.SetPosition at roughly 10ms cadence
// until done is closed, per spec §6's progress contract.
func (o *Orchestrator) runProgressUpdater(ctx context.Context, d dispatch.Dispatcher, b budget, reporter progress.Reporter, done <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ticker.C:
			reporter.SetPosition(progressPosition(d, b, start))
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func progressPosition(d dispatch.Dispatcher, b budget, start time.Time) uint64 {
	if b.isCount {
		pos := uint64(d.Progress() * float64(b.total))
		if pos > b.total {
			pos = b.total
		}
		return pos
	}

	elapsed := uint64(time.Since(start).Seconds())
	if elapsed > b.total {
		elapsed = b.total
	}
	return elapsed
}
