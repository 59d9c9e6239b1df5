// Package schedule runs recurring fetch-and-store jobs: on every cron firing
// it fans out over the configured symbol and timeframe pairs, pulls the bars
// each series is missing, and upserts them into storage. A circuit breaker
// around the whole run keeps a broken upstream from being hammered on
// schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/TavaresBugs/ScrapperTV/internal/clienterr"
	"github.com/TavaresBugs/ScrapperTV/internal/metrics"
	"github.com/TavaresBugs/ScrapperTV/internal/models"
	"github.com/TavaresBugs/ScrapperTV/internal/storage"
)

// catchUpOverlap is how many already-stored bars an incremental run refetches
// so a bar revised after storage is picked up again by the upsert.
const catchUpOverlap = 2

// Fetcher pulls one series from the upstream feed. *series.Engine satisfies
// it.
type Fetcher interface {
	Fetch(ctx context.Context, req models.SeriesRequest) ([]models.Bar, error)
}

// Config describes the recurring collection workload.
type Config struct {
	// Cron is a standard five-field cron expression for run firing.
	Cron string

	// Symbols and Timeframes are crossed: every pair becomes one job per run.
	Symbols    []string
	Timeframes []string

	// TargetAmount is the number of bars fetched for a series with no stored
	// history. Incremental runs size their own fetch from the stored gap.
	TargetAmount int

	// JobTimeout bounds one full run. Zero means no deadline.
	JobTimeout time.Duration

	// MaxConcurrent bounds in-flight fetches within a run.
	MaxConcurrent int

	// Retry and Breaker tune failure handling. Zero values select the
	// package defaults.
	Retry   clienterr.RetryPolicy
	Breaker clienterr.BreakerSettings
}

// Scheduler owns the cron loop and the collection pipeline it triggers.
type Scheduler struct {
	cfg      Config
	fetcher  Fetcher
	store    storage.BarStorage
	logger   *slog.Logger
	registry *metrics.Registry

	classifier *clienterr.Classifier
	breaker    *clienterr.CircuitBreaker

	cron    *cron.Cron
	entryID cron.EntryID
	running atomic.Bool

	runCtx    context.Context
	cancelRun context.CancelFunc
}

// New builds a scheduler. The cron expression is validated here so a bad
// config fails before anything starts.
func New(cfg Config, fetcher Fetcher, store storage.BarStorage, registry *metrics.Registry, logger *slog.Logger) (*Scheduler, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("scheduler requires a fetcher")
	}
	if store == nil {
		return nil, fmt.Errorf("scheduler requires a storage backend")
	}
	if len(cfg.Symbols) == 0 || len(cfg.Timeframes) == 0 {
		return nil, fmt.Errorf("scheduler requires at least one symbol and one timeframe")
	}
	if _, err := cron.ParseStandard(cfg.Cron); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cfg.Cron, err)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}

	cl := cronLogger{logger: logger}
	return &Scheduler{
		cfg:        cfg,
		fetcher:    fetcher,
		store:      store,
		logger:     logger.With("component", "scheduler"),
		registry:   registry,
		classifier: clienterr.NewClassifier(cfg.Retry, logger),
		breaker:    clienterr.NewCircuitBreaker("scheduled_run", cfg.Breaker),
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}, nil
}

// Start registers the cron entry and begins firing runs. It returns
// immediately; runs execute on the cron goroutine.
func (s *Scheduler) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already running")
	}

	s.runCtx, s.cancelRun = context.WithCancel(context.Background())

	id, err := s.cron.AddFunc(s.cfg.Cron, s.runScheduled)
	if err != nil {
		s.running.Store(false)
		s.cancelRun()
		return fmt.Errorf("register cron entry: %w", err)
	}
	s.entryID = id
	s.cron.Start()

	s.logger.Info("scheduler started",
		"cron", s.cfg.Cron,
		"symbols", len(s.cfg.Symbols),
		"timeframes", len(s.cfg.Timeframes),
		"max_concurrent", s.cfg.MaxConcurrent,
		"next_run", s.cron.Entry(id).Next)
	return nil
}

// Stop halts scheduling and waits for the in-flight run to finish. When the
// context expires first, the run is cancelled and the context error returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return fmt.Errorf("scheduler is not running")
	}

	s.logger.Info("scheduler stopping")
	stopped := s.cron.Stop()

	select {
	case <-stopped.Done():
		s.cancelRun()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancelRun()
		s.logger.Warn("scheduler stop timed out", "error", ctx.Err())
		return ctx.Err()
	}
}

// NextRun reports when the next run fires. Zero when the scheduler is not
// running.
func (s *Scheduler) NextRun() time.Time {
	if !s.running.Load() {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// BreakerState exposes the run breaker state for status output.
func (s *Scheduler) BreakerState() clienterr.CircuitState {
	return s.breaker.State()
}

// runScheduled is the cron entry point.
func (s *Scheduler) runScheduled() {
	err := s.RunOnce(s.runCtx)
	switch {
	case err == nil:
	case clienterr.GetErrorType(err) == clienterr.ErrorTypeCircuit:
		s.logger.Warn("run skipped, circuit open", "state", s.breaker.State())
	default:
		s.logger.Error("scheduled run failed", "error", err)
	}
}

// RunOnce executes one collection pass over every symbol and timeframe pair,
// through the circuit breaker. Repeatedly failing runs open the circuit and
// later passes are rejected until the recovery timeout elapses.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.breaker.Call(func() error {
		return s.run(ctx)
	})
}

func (s *Scheduler) run(ctx context.Context) error {
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	total := len(s.cfg.Symbols) * len(s.cfg.Timeframes)

	var failed, stored atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)
	for _, symbol := range s.cfg.Symbols {
		for _, timeframe := range s.cfg.Timeframes {
			g.Go(func() error {
				n, err := s.collect(ctx, symbol, timeframe)
				if err != nil {
					failed.Add(1)
					s.logger.Error("collection failed",
						"symbol", symbol,
						"timeframe", timeframe,
						"error", err)
					// One broken series must not cancel its siblings;
					// only a dead run context stops the whole pass.
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return nil
				}
				stored.Add(int64(n))
				return nil
			})
		}
	}

	err := g.Wait()
	s.logger.Info("collection run finished",
		"jobs", total,
		"failed", failed.Load(),
		"bars_stored", stored.Load(),
		"duration", time.Since(start))

	if err != nil {
		return fmt.Errorf("collection run aborted: %w", err)
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d collections failed", n, total)
	}
	return nil
}

// collect fetches and stores one series, returning how many bars were
// written. Series with stored history get an incremental fetch sized from the
// gap since the newest stored bar; empty series get the configured cold-start
// amount.
func (s *Scheduler) collect(ctx context.Context, symbol, timeframe string) (int, error) {
	s.registry.JobsRun.Add(1)

	req := models.SeriesRequest{
		Symbol:       symbol,
		Timeframe:    timeframe,
		TargetAmount: s.cfg.TargetAmount,
	}
	latest, err := s.store.GetLatest(ctx, symbol, timeframe)
	switch {
	case err == nil:
		req.TargetAmount = catchUpTarget(latest.Timestamp, timeframe, time.Now())
	case errors.Is(err, storage.ErrNotFound):
	default:
		s.registry.JobsFailed.Add(1)
		return 0, clienterr.New(clienterr.ErrorTypeStorage, "scheduler", "get_latest", err)
	}

	var bars []models.Bar
	err = s.classifier.Retry(ctx, "scheduler", "fetch", func() error {
		fetched, err := s.fetcher.Fetch(ctx, req)
		if err != nil {
			return err
		}
		bars = fetched
		return nil
	})
	if err != nil {
		s.registry.JobsFailed.Add(1)
		return 0, err
	}

	if len(bars) == 0 {
		s.logger.Debug("no bars fetched", "symbol", symbol, "timeframe", timeframe)
		return 0, nil
	}

	if err := s.store.Store(ctx, symbol, timeframe, bars); err != nil {
		s.registry.JobsFailed.Add(1)
		return 0, clienterr.New(clienterr.ErrorTypeStorage, "scheduler", "store", err)
	}
	s.registry.BarsStored.Add(int64(len(bars)))

	s.logger.Info("series collected",
		"symbol", symbol,
		"timeframe", timeframe,
		"bars", len(bars),
		"target", req.TargetAmount)
	return len(bars), nil
}

// catchUpTarget sizes an incremental fetch: enough most-recent bars to cover
// the gap since the newest stored bar, plus overlap for late revisions.
func catchUpTarget(latest int64, timeframe string, now time.Time) int {
	gap := now.Unix() - latest
	if gap < 0 {
		gap = 0
	}
	bucket := int64(timeframeDuration(timeframe) / time.Second)
	return int(gap/bucket) + catchUpOverlap
}

// timeframeDuration maps the service's timeframe notation to a bucket size.
// Unknown notations fall back to one hour.
func timeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case "D":
		return 24 * time.Hour
	case "W":
		return 7 * 24 * time.Hour
	case "M":
		return 30 * 24 * time.Hour
	}
	if minutes, err := strconv.Atoi(timeframe); err == nil && minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}
	return time.Hour
}

// cronLogger adapts slog to the cron logging interface. Cron's own chatter
// lands at debug so run logs stay readable.
type cronLogger struct {
	logger *slog.Logger
}

func (cl cronLogger) Info(msg string, keysAndValues ...any) {
	cl.logger.Debug(msg, keysAndValues...)
}

func (cl cronLogger) Error(err error, msg string, keysAndValues ...any) {
	cl.logger.Error(msg, append(keysAndValues, "error", err)...)
}
