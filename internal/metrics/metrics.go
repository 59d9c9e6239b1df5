// Package metrics provides lightweight runtime counters for the ScrapperTV
// client. Counters are plain atomics updated from the session, fetch, and
// scheduling layers and surfaced as structured log snapshots rather than a
// scrape endpoint.
package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Registry holds the counter set for one client instance. All fields are
// safe for concurrent use.
type Registry struct {
	startTime time.Time

	// Connection counters
	ConnectsTotal    atomic.Int64
	ReconnectsTotal  atomic.Int64
	FramesIn         atomic.Int64
	FramesOut        atomic.Int64
	HeartbeatsEchoed atomic.Int64
	DecodeErrors     atomic.Int64
	DroppedSends     atomic.Int64

	// Dispatch counters
	EventsDispatched atomic.Int64
	UnknownEvents    atomic.Int64

	// Fetch counters
	FetchesStarted   atomic.Int64
	FetchesCompleted atomic.Int64
	FetchesFailed    atomic.Int64
	BarsCollected    atomic.Int64

	// Storage and scheduling counters
	BarsStored atomic.Int64
	JobsRun    atomic.Int64
	JobsFailed atomic.Int64
}

// Snapshot is a point-in-time copy of all counters
type Snapshot struct {
	Timestamp        time.Time     `json:"timestamp"`
	Uptime           time.Duration `json:"uptime"`
	ConnectsTotal    int64         `json:"connects_total"`
	ReconnectsTotal  int64         `json:"reconnects_total"`
	FramesIn         int64         `json:"frames_in"`
	FramesOut        int64         `json:"frames_out"`
	HeartbeatsEchoed int64         `json:"heartbeats_echoed"`
	DecodeErrors     int64         `json:"decode_errors"`
	DroppedSends     int64         `json:"dropped_sends"`
	EventsDispatched int64         `json:"events_dispatched"`
	UnknownEvents    int64         `json:"unknown_events"`
	FetchesStarted   int64         `json:"fetches_started"`
	FetchesCompleted int64         `json:"fetches_completed"`
	FetchesFailed    int64         `json:"fetches_failed"`
	BarsCollected    int64         `json:"bars_collected"`
	BarsStored       int64         `json:"bars_stored"`
	JobsRun          int64         `json:"jobs_run"`
	JobsFailed       int64         `json:"jobs_failed"`
}

// NewRegistry creates an empty counter registry
func NewRegistry() *Registry {
	return &Registry{startTime: time.Now()}
}

// Snapshot returns a consistent-enough copy of the current counters. Counters
// are read individually, so a snapshot taken under load may mix values from
// adjacent instants.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:        time.Now(),
		Uptime:           time.Since(r.startTime),
		ConnectsTotal:    r.ConnectsTotal.Load(),
		ReconnectsTotal:  r.ReconnectsTotal.Load(),
		FramesIn:         r.FramesIn.Load(),
		FramesOut:        r.FramesOut.Load(),
		HeartbeatsEchoed: r.HeartbeatsEchoed.Load(),
		DecodeErrors:     r.DecodeErrors.Load(),
		DroppedSends:     r.DroppedSends.Load(),
		EventsDispatched: r.EventsDispatched.Load(),
		UnknownEvents:    r.UnknownEvents.Load(),
		FetchesStarted:   r.FetchesStarted.Load(),
		FetchesCompleted: r.FetchesCompleted.Load(),
		FetchesFailed:    r.FetchesFailed.Load(),
		BarsCollected:    r.BarsCollected.Load(),
		BarsStored:       r.BarsStored.Load(),
		JobsRun:          r.JobsRun.Load(),
		JobsFailed:       r.JobsFailed.Load(),
	}
}

// LogTo writes the current counter snapshot to the logger at info level
func (r *Registry) LogTo(logger *slog.Logger) {
	s := r.Snapshot()
	logger.Info("metrics snapshot",
		slog.Duration("uptime", s.Uptime),
		slog.Int64("connects_total", s.ConnectsTotal),
		slog.Int64("reconnects_total", s.ReconnectsTotal),
		slog.Int64("frames_in", s.FramesIn),
		slog.Int64("frames_out", s.FramesOut),
		slog.Int64("heartbeats_echoed", s.HeartbeatsEchoed),
		slog.Int64("decode_errors", s.DecodeErrors),
		slog.Int64("dropped_sends", s.DroppedSends),
		slog.Int64("events_dispatched", s.EventsDispatched),
		slog.Int64("unknown_events", s.UnknownEvents),
		slog.Int64("fetches_started", s.FetchesStarted),
		slog.Int64("fetches_completed", s.FetchesCompleted),
		slog.Int64("fetches_failed", s.FetchesFailed),
		slog.Int64("bars_collected", s.BarsCollected),
		slog.Int64("bars_stored", s.BarsStored),
		slog.Int64("jobs_run", s.JobsRun),
		slog.Int64("jobs_failed", s.JobsFailed))
}

// StartPeriodicLogging emits a snapshot to the logger at the given interval
// until the context is cancelled.
func (r *Registry) StartPeriodicLogging(ctx context.Context, logger *slog.Logger, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.LogTo(logger)
			}
		}
	}()
}
