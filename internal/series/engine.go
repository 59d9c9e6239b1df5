// Package series implements historical bar retrieval over an established
// session. Each fetch opens its own logical chart session on the shared
// connection, resolves the symbol, creates a series, and pages backwards
// through history until the request is satisfied or the server stops
// delivering older data.
package series

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/TavaresBugs/ScrapperTV/internal/clienterr"
	"github.com/TavaresBugs/ScrapperTV/internal/metrics"
	"github.com/TavaresBugs/ScrapperTV/internal/models"
	"github.com/TavaresBugs/ScrapperTV/internal/protocol"
)

const (
	// BatchCeiling is the protocol's maximum single-response size. Initial
	// requests are clamped to it and every follow-up asks for this many.
	BatchCeiling = 10000

	// DefaultFetchTimeout bounds one fetch from first command to final bar
	DefaultFetchTimeout = 120 * time.Second

	// stallLimit is the number of consecutive completions without growth
	// tolerated before a fetch gives up on older data.
	stallLimit = 3

	// Handles within a chart session. Sessions are never shared between
	// fetches, so fixed names cannot collide.
	seriesHandle    = "sds_1"
	seriesSubHandle = "s1"
	symbolHandle    = "sym_1"
)

// Conn is the slice of the session layer the engine depends on
type Conn interface {
	// Send encodes and queues one command
	Send(name string, params ...any) error
	// Subscribe registers an event handler, returning its cancel function
	Subscribe(fn func(protocol.Event)) func()
	// Done is closed when the session is closed for good
	Done() <-chan struct{}
}

// Options configures an Engine
type Options struct {
	// FetchTimeout bounds a single Fetch call. Zero means the default.
	FetchTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Registry
}

// Engine turns series requests into command sequences and correlates the
// resulting event stream back to callers. Fetches may run concurrently on
// one connection; events are routed by chart session id.
type Engine struct {
	conn         Conn
	logger       *slog.Logger
	metrics      *metrics.Registry
	fetchTimeout time.Duration
	unsubscribe  func()

	mu      sync.Mutex
	fetches map[string]*fetchState
}

type fetchResult struct {
	bars []models.Bar
	err  error
}

// fetchState tracks one in-flight fetch. After registration its fields are
// touched only by the dispatch goroutine; the caller waits on result.
type fetchState struct {
	req          models.SeriesRequest
	chartSession string
	logger       *slog.Logger

	bars         map[int64]models.RawBar
	prevLen      int
	stall        int
	moreRequests int
	done         bool

	result chan fetchResult
}

// NewEngine creates an engine bound to a connection and subscribes it to
// the event stream. Call Close to detach.
func NewEngine(conn Conn, opts Options) *Engine {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}

	e := &Engine{
		conn:         conn,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		fetchTimeout: opts.FetchTimeout,
		fetches:      make(map[string]*fetchState),
	}
	e.unsubscribe = conn.Subscribe(e.route)
	return e
}

// Close detaches the engine from the event stream. In-flight fetches will
// run into their own timeouts; close the engine only once they returned.
func (e *Engine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
}

// Fetch retrieves historical bars for one request. It blocks until the
// series completes, the fetch timeout elapses, the context is done, or the
// underlying session is closed. The returned bars are deduplicated by
// timestamp and sorted ascending.
func (e *Engine) Fetch(ctx context.Context, req models.SeriesRequest) ([]models.Bar, error) {
	if err := req.Validate(); err != nil {
		return nil, clienterr.New(clienterr.ErrorTypeValidation, "series", "fetch", err)
	}
	e.metrics.FetchesStarted.Add(1)

	chartSession := protocol.ChartSessionID()
	st := &fetchState{
		req:          req,
		chartSession: chartSession,
		logger: e.logger.With(
			"chart_session", chartSession,
			"symbol", req.Symbol,
			"timeframe", req.Timeframe),
		bars:    make(map[int64]models.RawBar),
		prevLen: -1,
		result:  make(chan fetchResult, 1),
	}

	e.register(st)
	defer e.unregister(chartSession)

	initial := req.TargetAmount
	if initial <= 0 || initial > BatchCeiling {
		initial = BatchCeiling
	}

	st.logger.Info("fetch started", "target", req.TargetAmount,
		"from", req.FromTimestamp, "to", req.ToTimestamp, "initial_amount", initial)

	if err := e.openSeries(st, initial); err != nil {
		e.metrics.FetchesFailed.Add(1)
		return nil, err
	}

	timer := time.NewTimer(e.fetchTimeout)
	defer timer.Stop()

	var res fetchResult
	select {
	case res = <-st.result:
	case <-timer.C:
		res.err = clienterr.NewTimeoutError("series", "fetch",
			fmt.Errorf("no completion for %s within %s", req.Symbol, e.fetchTimeout))
	case <-ctx.Done():
		res.err = clienterr.NewTimeoutError("series", "fetch", ctx.Err())
	case <-e.conn.Done():
		res.err = clienterr.NewConnectionError("series", "fetch", errors.New("session closed"))
	}

	// The server-side chart session is useless once the fetch resolved
	// either way; tell the server to drop it.
	_ = e.conn.Send(protocol.CmdChartDeleteSession, chartSession)

	if res.err != nil {
		e.metrics.FetchesFailed.Add(1)
		return nil, res.err
	}
	e.metrics.FetchesCompleted.Add(1)
	e.metrics.BarsCollected.Add(int64(len(res.bars)))
	return res.bars, nil
}

// openSeries issues the command sequence that starts data flowing
func (e *Engine) openSeries(st *fetchState, initial int) error {
	if err := e.conn.Send(protocol.CmdChartCreateSession, st.chartSession, ""); err != nil {
		return err
	}
	if err := e.conn.Send(protocol.CmdResolveSymbol, st.chartSession, symbolHandle,
		protocol.SymbolDescriptor(st.req.Symbol)); err != nil {
		return err
	}
	return e.conn.Send(protocol.CmdCreateSeries, st.chartSession, seriesHandle,
		seriesSubHandle, symbolHandle, st.req.Timeframe, initial)
}

func (e *Engine) register(st *fetchState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fetches[st.chartSession] = st
}

func (e *Engine) unregister(chartSession string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.fetches, chartSession)
}

func (e *Engine) lookup(chartSession string) *fetchState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fetches[chartSession]
}

func (e *Engine) snapshotAll() []*fetchState {
	e.mu.Lock()
	defer e.mu.Unlock()
	all := make([]*fetchState, 0, len(e.fetches))
	for _, st := range e.fetches {
		all = append(all, st)
	}
	return all
}

// route correlates one event to its fetch. It runs on the session's
// dispatch goroutine, so state mutation is single-threaded.
func (e *Engine) route(ev protocol.Event) {
	switch evt := ev.(type) {
	case protocol.DataPush:
		if st := e.lookup(evt.SessionID); st != nil {
			e.onDataPush(st, evt)
		}
	case protocol.Completion:
		if st := e.lookup(evt.SessionID); st != nil {
			e.onCompletion(st, "series completed")
		}
	case protocol.SoftError:
		if st := e.lookup(evt.SessionID); st != nil {
			st.logger.Warn("soft data error, keeping accumulated bars",
				"series", evt.SeriesID, "reason", evt.Reason)
			e.onCompletion(st, "soft error")
		}
	case protocol.HardError:
		if evt.SessionID == "" {
			// Connection-scoped failure: every pending fetch is affected.
			for _, st := range e.snapshotAll() {
				e.fail(st, evt)
			}
			return
		}
		if st := e.lookup(evt.SessionID); st != nil {
			e.fail(st, evt)
		}
	}
}

// onDataPush merges one batch into the accumulator. Duplicate timestamps
// are overwritten, so the latest delivery of a bar wins. The first push
// also establishes the growth baseline used by the stall detector.
func (e *Engine) onDataPush(st *fetchState, evt protocol.DataPush) {
	if st.done {
		return
	}
	batch, ok := evt.Series[seriesHandle]
	if !ok {
		return
	}

	for _, raw := range batch {
		if len(raw.Values) == 0 {
			st.logger.Debug("skipping bar without values", "index", raw.Index)
			continue
		}
		st.bars[raw.Timestamp()] = raw
	}
	if st.prevLen < 0 {
		st.prevLen = len(st.bars)
	}
	st.logger.Debug("data push", "batch", len(batch), "accumulated", len(st.bars))
}

// onCompletion runs the pagination decision for one completion signal:
// detect growth since the last signal, request more data when the request
// is not yet satisfied, and finalize otherwise. Three consecutive
// completions without growth finalize early instead of asking again.
func (e *Engine) onCompletion(st *fetchState, cause string) {
	if st.done {
		return
	}

	curLen := len(st.bars)
	prev := st.prevLen
	if prev < 0 {
		prev = 0
	}
	if curLen != prev {
		st.stall = 0
	} else {
		st.stall++
	}
	st.prevLen = curLen

	needMore := false
	switch {
	case st.req.FromDriven():
		needMore = curLen == 0 || st.oldest() > st.req.FromTimestamp
	case st.req.TargetAmount > 0:
		needMore = curLen < st.req.TargetAmount
	}

	if needMore && st.stall < stallLimit {
		st.moreRequests++
		st.logger.Debug("requesting more data",
			"cause", cause, "accumulated", curLen, "stall", st.stall)
		if err := e.conn.Send(protocol.CmdRequestMoreData,
			st.chartSession, seriesHandle, BatchCeiling); err != nil {
			st.deliver(fetchResult{err: err})
		}
		return
	}
	if needMore {
		st.logger.Warn("no growth after repeated requests, finalizing with partial data",
			"accumulated", curLen, "stall", st.stall)
	}

	e.finalize(st)
}

// oldest returns the smallest accumulated timestamp. Callers guarantee the
// accumulator is not empty.
func (st *fetchState) oldest() int64 {
	var min int64
	first := true
	for ts := range st.bars {
		if first || ts < min {
			min = ts
			first = false
		}
	}
	return min
}

// finalize converts the accumulator into the caller's bar sequence: sort
// ascending, apply inclusive window bounds, convert, and truncate to the
// most recent targetAmount when the target was the driving criterion.
func (e *Engine) finalize(st *fetchState) {
	raws := make([]models.RawBar, 0, len(st.bars))
	for _, raw := range st.bars {
		raws = append(raws, raw)
	}
	sort.Slice(raws, func(i, j int) bool {
		return raws[i].Timestamp() < raws[j].Timestamp()
	})

	bars := make([]models.Bar, 0, len(raws))
	for _, raw := range raws {
		ts := raw.Timestamp()
		if st.req.FromTimestamp > 0 && ts < st.req.FromTimestamp {
			continue
		}
		if st.req.ToTimestamp > 0 && ts > st.req.ToTimestamp {
			continue
		}
		bar, err := models.NewBarFromRaw(raw)
		if err != nil {
			st.logger.Warn("skipping malformed bar", "timestamp", ts, "error", err)
			continue
		}
		bars = append(bars, bar)
	}

	if st.req.TargetDriven() && len(bars) > st.req.TargetAmount {
		bars = bars[len(bars)-st.req.TargetAmount:]
	}

	st.logger.Info("fetch complete", "bars", len(bars), "more_requests", st.moreRequests)
	st.deliver(fetchResult{bars: bars})
}

func (e *Engine) fail(st *fetchState, evt protocol.HardError) {
	st.logger.Error("fetch failed on server error", "event", evt.Name, "message", evt.Message)
	st.deliver(fetchResult{err: clienterr.NewHardError("series", "fetch",
		fmt.Errorf("%s: %s", evt.Name, evt.Message))})
}

// deliver resolves the fetch exactly once
func (st *fetchState) deliver(res fetchResult) {
	if st.done {
		return
	}
	st.done = true
	st.result <- res
}
