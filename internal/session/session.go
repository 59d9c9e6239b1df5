// Package session manages the websocket connection to a TradingView data
// server: dialing, the session handshake, heartbeat echoes, paced command
// writes, automatic reconnection with exponential backoff, and fan-out of
// parsed server events to subscribers.
//
// The manager owns two goroutines. A read loop per physical connection
// decodes inbound chunks and dispatches events; a single writer drains the
// outbound queue so that only one goroutine ever writes to the socket.
// Public Send calls never block on the network.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/TavaresBugs/ScrapperTV/internal/clienterr"
	"github.com/TavaresBugs/ScrapperTV/internal/config"
	"github.com/TavaresBugs/ScrapperTV/internal/metrics"
	"github.com/TavaresBugs/ScrapperTV/internal/protocol"
)

const (
	// DefaultConnectTimeout is the ceiling for a single connection attempt
	DefaultConnectTimeout = 30 * time.Second
	// DefaultReadTimeout is the read deadline, refreshed on every inbound message
	DefaultReadTimeout = 90 * time.Second
	// DefaultWriteInterval is the minimum spacing between paced outbound frames
	DefaultWriteInterval = 50 * time.Millisecond
	// DefaultReconnectInitialDelay is the delay before the first reconnect attempt
	DefaultReconnectInitialDelay = 5 * time.Second
	// DefaultReconnectMaxDelay caps the delay between reconnect attempts
	DefaultReconnectMaxDelay = 60 * time.Second
	// DefaultReconnectMultiplier is the growth factor between reconnect delays
	DefaultReconnectMultiplier = 1.5

	// originURL is sent as the Origin header on the websocket handshake
	originURL = "https://www.tradingview.com"

	// writeQueueSize bounds the outbound frame queue
	writeQueueSize = 64
	// diagnosticsBuffer bounds the diagnostics stream; excess entries are dropped
	diagnosticsBuffer = 64
)

// State describes the connection lifecycle
type State int

const (
	// StateDisconnected means no connection exists and none is in progress
	StateDisconnected State = iota
	// StateConnecting means a dial or handshake is in progress
	StateConnecting
	// StateConnected means the handshake completed and commands flow
	StateConnected
	// StateReconnecting means a reconnect attempt is scheduled
	StateReconnecting
	// StateClosed means the session was closed by the caller and is terminal
	StateClosed
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DiagnosticKind classifies entries on the diagnostics stream
type DiagnosticKind int

const (
	// DiagnosticDecodeError reports a malformed inbound frame segment
	DiagnosticDecodeError DiagnosticKind = iota
	// DiagnosticDisconnect reports a lost connection
	DiagnosticDisconnect
	// DiagnosticDroppedSend reports a command dropped while disconnected
	DiagnosticDroppedSend
	// DiagnosticUnknownEvent reports an unrecognized server event name
	DiagnosticUnknownEvent
	// DiagnosticHandlerPanic reports a recovered subscriber panic
	DiagnosticHandlerPanic
	// DiagnosticHardError reports a connection-scoped server error event
	DiagnosticHardError
)

// String returns a human-readable diagnostic kind
func (k DiagnosticKind) String() string {
	switch k {
	case DiagnosticDecodeError:
		return "decode_error"
	case DiagnosticDisconnect:
		return "disconnect"
	case DiagnosticDroppedSend:
		return "dropped_send"
	case DiagnosticUnknownEvent:
		return "unknown_event"
	case DiagnosticHandlerPanic:
		return "handler_panic"
	case DiagnosticHardError:
		return "hard_error"
	default:
		return "unknown"
	}
}

// Diagnostic is one entry on the non-blocking diagnostics stream
type Diagnostic struct {
	Kind    DiagnosticKind
	Message string
	Time    time.Time
}

// Options configures a session manager
type Options struct {
	// Host selects the server: "data", "prodata", or "widgetdata"
	Host string
	// ConnType is the connection type query parameter, normally "chart"
	ConnType string
	// AuthCookie is the sessionid cookie used to resolve an authenticated
	// token. Empty means anonymous.
	AuthCookie string

	ConnectTimeout        time.Duration
	ReadTimeout           time.Duration
	WriteInterval         time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMultiplier   float64

	// URL overrides the derived websocket URL. Tests point this at a local
	// server.
	URL string
	// AuthPageURL overrides the page scraped for the auth token
	AuthPageURL string

	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Registry
}

// OptionsFromConfig maps a connection config section onto Options
func OptionsFromConfig(cfg config.ConnectionConfig) Options {
	multiplier := cfg.ReconnectMultiplier
	if multiplier <= 1.0 {
		multiplier = DefaultReconnectMultiplier
	}
	return Options{
		Host:                  cfg.Host,
		ConnType:              cfg.ConnType,
		AuthCookie:            cfg.AuthCookie,
		ConnectTimeout:        config.Duration(cfg.ConnectTimeout, DefaultConnectTimeout),
		ReadTimeout:           config.Duration(cfg.ReadTimeout, DefaultReadTimeout),
		WriteInterval:         config.Duration(cfg.WriteInterval, DefaultWriteInterval),
		ReconnectInitialDelay: config.Duration(cfg.ReconnectInitialDelay, DefaultReconnectInitialDelay),
		ReconnectMaxDelay:     config.Duration(cfg.ReconnectMaxDelay, DefaultReconnectMaxDelay),
		ReconnectMultiplier:   multiplier,
	}
}

// websocketURL derives the dial target from host and connection type
func (o Options) websocketURL() string {
	if o.URL != "" {
		return o.URL
	}
	u := url.URL{
		Scheme: "wss",
		Host:   o.Host + ".tradingview.com",
		Path:   "/socket.io/websocket",
	}
	q := url.Values{}
	q.Set("type", o.ConnType)
	u.RawQuery = q.Encode()
	return u.String()
}

type outbound struct {
	data  []byte
	paced bool
}

// Manager owns one logical session to a data server. It survives transport
// drops by reconnecting with exponential backoff; it terminates only on
// Close.
type Manager struct {
	opts       Options
	logger     *slog.Logger
	metrics    *metrics.Registry
	httpClient *http.Client
	dispatcher *Dispatcher

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	writeCh chan outbound
	limiter *rate.Limiter

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	diag      chan Diagnostic

	wg sync.WaitGroup

	mu              sync.Mutex
	state           State
	conn            *websocket.Conn
	generation      int
	attempts        int
	backoff         *backoff.ExponentialBackOff
	reconnectTimer  *time.Timer
	manualClose     bool
	started         bool
	token           string
	serverSessionID string
}

// NewManager creates a session manager. Connect must be called to open the
// connection.
func NewManager(opts Options) *Manager {
	if opts.Host == "" {
		opts.Host = "data"
	}
	if opts.ConnType == "" {
		opts.ConnType = "chart"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.ReconnectInitialDelay <= 0 {
		opts.ReconnectInitialDelay = DefaultReconnectInitialDelay
	}
	if opts.ReconnectMaxDelay <= 0 {
		opts.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if opts.ReconnectMultiplier <= 1.0 {
		opts.ReconnectMultiplier = DefaultReconnectMultiplier
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.ConnectTimeout}
	}

	limit := rate.Inf
	if opts.WriteInterval > 0 {
		limit = rate.Every(opts.WriteInterval)
	}

	lifeCtx, lifeCancel := context.WithCancel(context.Background())

	m := &Manager{
		opts:       opts,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		httpClient: opts.HTTPClient,
		dispatcher: NewDispatcher(opts.Logger),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
		writeCh:    make(chan outbound, writeQueueSize),
		limiter:    rate.NewLimiter(limit, 1),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		diag:       make(chan Diagnostic, diagnosticsBuffer),
		state:      StateDisconnected,
		backoff:    newReconnectBackoff(opts.ReconnectInitialDelay, opts.ReconnectMaxDelay, opts.ReconnectMultiplier),
	}

	m.dispatcher.OnPanic = func(recovered any) {
		m.diagnostic(DiagnosticHandlerPanic, "subscriber panicked")
	}

	m.wg.Add(1)
	go m.writer()

	return m
}

// newReconnectBackoff builds the reconnect delay source: initial delay grown
// by the multiplier after each attempt, capped at the maximum, without
// jitter so delays stay predictable.
func newReconnectBackoff(initial, max time.Duration, multiplier float64) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = multiplier
	b.MaxInterval = max
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Connect opens the connection and blocks until the session handshake
// completes, the connect timeout elapses, or the context is done. On
// timeout the reconnect machinery keeps retrying in the background; callers
// that give up should Close the manager.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return clienterr.NewConnectionError("session", "connect", errors.New("session is closed"))
	}
	if !m.started {
		m.started = true
		m.wg.Add(1)
		go m.connect()
	}
	m.mu.Unlock()

	timer := time.NewTimer(m.opts.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-m.ready:
		return nil
	case <-timer.C:
		return clienterr.NewTimeoutError("session", "connect",
			errors.New("handshake did not complete within "+m.opts.ConnectTimeout.String()))
	case <-ctx.Done():
		return clienterr.NewConnectionError("session", "connect", ctx.Err())
	case <-m.done:
		return clienterr.NewConnectionError("session", "connect", errors.New("session closed"))
	}
}

// connect performs one connection attempt. Failures schedule a reconnect.
func (m *Manager) connect() {
	defer m.wg.Done()

	m.mu.Lock()
	if m.manualClose || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(m.lifeCtx, m.opts.ConnectTimeout)
	defer cancel()

	token := ResolveAuthToken(ctx, m.httpClient, m.opts.AuthPageURL, m.opts.AuthCookie, m.logger)
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: m.opts.ConnectTimeout}
	header := http.Header{}
	header.Set("Origin", originURL)

	target := m.opts.websocketURL()
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		m.logger.Error("connection attempt failed", "url", target, "error", err)
		m.scheduleReconnect()
		return
	}

	m.mu.Lock()
	if m.manualClose || m.state == StateClosed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.generation++
	gen := m.generation
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.ConnectsTotal.Add(1)
	m.logger.Info("websocket connected", "host", m.opts.Host)
	go m.readLoop(conn, gen)
}

// readLoop consumes one physical connection until it errors. The read
// deadline doubles as the heartbeat liveness check: the server sends
// heartbeats well inside the read timeout, so a silent connection is
// treated as dead.
func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	defer m.wg.Done()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout)); err != nil {
			m.handleDisconnect(conn, gen, err)
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, gen, err)
			return
		}
		m.handleChunk(data)
	}
}

// handleChunk decodes one inbound websocket message and routes its frames
func (m *Manager) handleChunk(data []byte) {
	frames, errs := protocol.DecodeChunk(data)
	for _, derr := range errs {
		m.logger.Warn("malformed frame segment", "error", derr)
		m.metrics.DecodeErrors.Add(1)
		m.diagnostic(DiagnosticDecodeError, derr.Error())
	}

	for _, frame := range frames {
		m.metrics.FramesIn.Add(1)
		switch frame.Kind {
		case protocol.FrameHeartbeat:
			// Echo back byte-identical, ahead of any queued commands'
			// pacing, so the server's liveness check never starves.
			m.enqueue(frame.Echo, false)
			m.metrics.HeartbeatsEchoed.Add(1)
		case protocol.FrameSessionInfo:
			m.handleSessionInfo(frame.SessionID)
		case protocol.FrameEvent:
			ev := protocol.ParseEvent(frame.Event)
			switch e := ev.(type) {
			case protocol.Unknown:
				m.logger.Debug("unknown server event", "name", e.Name)
				m.metrics.UnknownEvents.Add(1)
				m.diagnostic(DiagnosticUnknownEvent, e.Name)
			case protocol.HardError:
				m.diagnostic(DiagnosticHardError, e.Name+": "+e.Message)
			}
			m.metrics.EventsDispatched.Add(1)
			m.dispatcher.Dispatch(ev)
		}
	}
}

// handleSessionInfo completes the handshake: authenticate, then mark the
// session connected and reset the reconnect schedule.
func (m *Manager) handleSessionInfo(serverSessionID string) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	if frame, err := protocol.EncodeCommand(protocol.CmdSetAuthToken, token); err == nil {
		m.enqueue(frame, false)
	}

	m.mu.Lock()
	m.serverSessionID = serverSessionID
	reconnected := m.attempts > 0
	m.state = StateConnected
	m.attempts = 0
	m.backoff.Reset()
	m.mu.Unlock()

	m.readyOnce.Do(func() { close(m.ready) })
	m.logger.Info("session established",
		"server_session_id", serverSessionID,
		"reconnected", reconnected)
}

// handleDisconnect tears down one physical connection and schedules a
// reconnect unless the manager was closed. Stale generations (a reconnect
// already replaced this connection) are ignored.
func (m *Manager) handleDisconnect(conn *websocket.Conn, gen int, err error) {
	conn.Close()

	m.mu.Lock()
	if m.manualClose || m.state == StateClosed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	m.logger.Warn("connection lost", "error", err)
	m.diagnostic(DiagnosticDisconnect, err.Error())
	m.scheduleReconnect()
}

// scheduleReconnect arms the reconnect timer with the next backoff delay.
// The timer is cancellable: Close stops it before it fires.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.manualClose || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = StateReconnecting
	m.attempts++
	attempt := m.attempts
	delay := m.backoff.NextBackOff()
	m.metrics.ReconnectsTotal.Add(1)
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.manualClose || m.state == StateClosed {
			m.mu.Unlock()
			return
		}
		m.wg.Add(1)
		m.mu.Unlock()
		go m.connect()
	})
	m.mu.Unlock()

	m.logger.Warn("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// writer is the single goroutine that writes to the socket. Command frames
// are paced by the write limiter; heartbeat echoes and handshake frames
// skip pacing.
func (m *Manager) writer() {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return
		case out := <-m.writeCh:
			if out.paced {
				if err := m.limiter.Wait(m.lifeCtx); err != nil {
					continue
				}
			}

			m.mu.Lock()
			conn := m.conn
			m.mu.Unlock()
			if conn == nil {
				m.logger.Debug("no connection, dropping queued frame")
				continue
			}

			if err := conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				m.logger.Warn("write failed", "error", err)
				// Force the read side to notice immediately.
				conn.Close()
				continue
			}
			m.metrics.FramesOut.Add(1)
		}
	}
}

// enqueue places a frame on the writer queue, dropping it when the queue
// is full so callers never block.
func (m *Manager) enqueue(frame []byte, paced bool) {
	select {
	case m.writeCh <- outbound{data: frame, paced: paced}:
	default:
		m.logger.Warn("write queue full, dropping frame")
		m.metrics.DroppedSends.Add(1)
	}
}

// Send encodes and queues one command. Commands sent while the session is
// not connected are dropped with a warning; the caller's operation will
// surface the problem through its own timeout.
func (m *Manager) Send(name string, params ...any) error {
	frame, err := protocol.EncodeCommand(name, params...)
	if err != nil {
		return clienterr.New(clienterr.ErrorTypeValidation, "session", "send", err)
	}

	m.mu.Lock()
	st := m.state
	m.mu.Unlock()
	if st != StateConnected {
		m.logger.Warn("dropping command while not connected", "command", name, "state", st.String())
		m.metrics.DroppedSends.Add(1)
		m.diagnostic(DiagnosticDroppedSend, name)
		return nil
	}

	m.enqueue(frame, true)
	return nil
}

// Subscribe registers an event handler and returns its cancel function
func (m *Manager) Subscribe(fn func(protocol.Event)) func() {
	return m.dispatcher.Subscribe(fn)
}

// Done returns a channel closed when the session is closed by the caller.
// Transport-level drops do not close it; the manager reconnects instead.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Diagnostics returns the non-blocking diagnostics stream. Entries are
// dropped when no one drains the channel.
func (m *Manager) Diagnostics() <-chan Diagnostic {
	return m.diag
}

// State reports the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ServerSessionID reports the id announced by the server on the current
// connection, empty before the first handshake.
func (m *Manager) ServerSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serverSessionID
}

func (m *Manager) diagnostic(kind DiagnosticKind, message string) {
	select {
	case m.diag <- Diagnostic{Kind: kind, Message: message, Time: time.Now()}:
	default:
	}
}

// Close shuts the session down: cancels any pending reconnect, closes the
// socket, and waits for the manager's goroutines to stop. Close is
// idempotent and terminal.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.manualClose = true
	m.state = StateClosed
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	m.lifeCancel()
	close(m.done)

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}

	m.wg.Wait()
	m.logger.Info("session closed")
	return nil
}
