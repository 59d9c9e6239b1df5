package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TavaresBugs/ScrapperTV/internal/clienterr"
	"github.com/TavaresBugs/ScrapperTV/internal/metrics"
	"github.com/TavaresBugs/ScrapperTV/internal/protocol"
)

// scriptedServer plays the data-server side of the wire protocol. Each
// accepted connection is greeted with a session info frame; everything the
// client sends lands on the inbound channel.
type scriptedServer struct {
	t        *testing.T
	ts       *httptest.Server
	upgrader websocket.Upgrader

	inbound  chan string
	sessions atomic.Int32

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newScriptedServer(t *testing.T) *scriptedServer {
	s := &scriptedServer{t: t, inbound: make(chan string, 128)}
	s.ts = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.ts.Close)
	return s
}

func (s *scriptedServer) url() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http")
}

func (s *scriptedServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	n := s.sessions.Add(1)

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	greeting := protocol.EncodeRaw([]byte(fmt.Sprintf(`{"session_id":"srv-%d","timestamp":1727740800}`, n)))
	err = conn.WriteMessage(websocket.TextMessage, greeting)
	s.mu.Unlock()
	if err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case s.inbound <- string(data):
		default:
		}
	}
}

// send writes a frame to the nth accepted connection
func (s *scriptedServer) send(connIdx int, frame []byte) {
	s.t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Less(s.t, connIdx, len(s.conns), "no such server connection")
	require.NoError(s.t, s.conns[connIdx].WriteMessage(websocket.TextMessage, frame))
}

// dropConn severs the nth accepted connection from the server side
func (s *scriptedServer) dropConn(connIdx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if connIdx < len(s.conns) {
		s.conns[connIdx].Close()
	}
}

// waitForMessage drains inbound frames until one contains the marker
func waitForMessage(t *testing.T, ch <-chan string, contains string) string {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-ch:
			if strings.Contains(msg, contains) {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for client frame containing %q", contains)
		}
	}
}

func newTestManager(t *testing.T, wsURL string, mutate func(*Options)) (*Manager, *metrics.Registry) {
	reg := metrics.NewRegistry()
	opts := Options{
		URL:                   wsURL,
		ConnectTimeout:        2 * time.Second,
		ReadTimeout:           2 * time.Second,
		WriteInterval:         time.Millisecond,
		ReconnectInitialDelay: 20 * time.Millisecond,
		ReconnectMaxDelay:     100 * time.Millisecond,
		ReconnectMultiplier:   1.5,
		Logger:                testLogger(),
		Metrics:               reg,
	}
	if mutate != nil {
		mutate(&opts)
	}
	m := NewManager(opts)
	t.Cleanup(func() { m.Close() })
	return m, reg
}

func TestConnectCompletesHandshake(t *testing.T) {
	srv := newScriptedServer(t)
	m, _ := newTestManager(t, srv.url(), nil)

	require.NoError(t, m.Connect(context.Background()))

	auth := waitForMessage(t, srv.inbound, protocol.CmdSetAuthToken)
	assert.Contains(t, auth, UnauthorizedToken)
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, "srv-1", m.ServerSessionID())

	require.NoError(t, m.Send(protocol.CmdChartCreateSession, "cs_abcDEF123456", ""))
	created := waitForMessage(t, srv.inbound, protocol.CmdChartCreateSession)
	assert.Contains(t, created, "cs_abcDEF123456")
}

func TestAuthenticatedTokenSentAfterHandshake(t *testing.T) {
	authPage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"auth_token":"tok-pro-999"}`)
	}))
	defer authPage.Close()

	srv := newScriptedServer(t)
	m, _ := newTestManager(t, srv.url(), func(o *Options) {
		o.AuthCookie = "pro-session"
		o.AuthPageURL = authPage.URL
		o.HTTPClient = authPage.Client()
	})

	require.NoError(t, m.Connect(context.Background()))

	auth := waitForMessage(t, srv.inbound, protocol.CmdSetAuthToken)
	assert.Contains(t, auth, "tok-pro-999")
}

func TestHeartbeatEchoedByteForByte(t *testing.T) {
	srv := newScriptedServer(t)
	m, reg := newTestManager(t, srv.url(), nil)

	require.NoError(t, m.Connect(context.Background()))
	waitForMessage(t, srv.inbound, protocol.CmdSetAuthToken)

	heartbeat := protocol.EncodeRaw([]byte("~h~7"))
	srv.send(0, heartbeat)

	echo := waitForMessage(t, srv.inbound, "~h~")
	assert.Equal(t, string(heartbeat), echo)
	assert.Equal(t, int64(1), reg.Snapshot().HeartbeatsEchoed)
}

func TestEventsReachSubscribers(t *testing.T) {
	srv := newScriptedServer(t)
	m, _ := newTestManager(t, srv.url(), nil)

	events := make(chan protocol.Event, 8)
	m.Subscribe(func(ev protocol.Event) {
		select {
		case events <- ev:
		default:
		}
	})

	require.NoError(t, m.Connect(context.Background()))
	waitForMessage(t, srv.inbound, protocol.CmdSetAuthToken)

	srv.send(0, protocol.EncodeRaw([]byte(`{"m":"series_completed","p":["cs_1","sds_1"]}`)))

	select {
	case ev := <-events:
		completion, ok := ev.(protocol.Completion)
		require.True(t, ok, "expected a completion event, got %T", ev)
		assert.Equal(t, "cs_1", completion.SessionID)
		assert.Equal(t, "sds_1", completion.SeriesID)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for dispatched event")
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	srv := newScriptedServer(t)
	m, reg := newTestManager(t, srv.url(), nil)

	require.NoError(t, m.Connect(context.Background()))
	waitForMessage(t, srv.inbound, protocol.CmdSetAuthToken)

	srv.dropConn(0)

	require.Eventually(t, func() bool { return srv.sessions.Load() >= 2 },
		3*time.Second, 10*time.Millisecond, "expected a second connection")
	require.Eventually(t, func() bool { return m.State() == StateConnected },
		3*time.Second, 10*time.Millisecond, "expected the session to re-establish")

	assert.Equal(t, "srv-2", m.ServerSessionID())
	assert.GreaterOrEqual(t, reg.Snapshot().ReconnectsTotal, int64(1))

	// The new connection re-authenticates.
	waitForMessage(t, srv.inbound, protocol.CmdSetAuthToken)
}

func TestSendWhileDisconnectedIsDropped(t *testing.T) {
	srv := newScriptedServer(t)
	m, reg := newTestManager(t, srv.url(), nil)

	// Never connected: the command must be dropped, not queued or sent.
	err := m.Send(protocol.CmdChartCreateSession, "cs_x", "")

	require.NoError(t, err)
	assert.Equal(t, int64(1), reg.Snapshot().DroppedSends)

	select {
	case d := <-m.Diagnostics():
		assert.Equal(t, DiagnosticDroppedSend, d.Kind)
		assert.Equal(t, protocol.CmdChartCreateSession, d.Message)
	case <-time.After(time.Second):
		t.Fatal("expected a dropped-send diagnostic")
	}
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	srv := newScriptedServer(t)
	m, _ := newTestManager(t, srv.url(), func(o *Options) {
		o.ReconnectInitialDelay = time.Hour
		o.ReconnectMaxDelay = time.Hour
	})

	require.NoError(t, m.Connect(context.Background()))
	waitForMessage(t, srv.inbound, protocol.CmdSetAuthToken)

	srv.ts.Close()
	require.Eventually(t, func() bool { return m.State() == StateReconnecting },
		3*time.Second, 10*time.Millisecond, "expected a scheduled reconnect")

	start := time.Now()
	require.NoError(t, m.Close())
	assert.Less(t, time.Since(start), 2*time.Second, "close must not wait for the reconnect timer")

	select {
	case <-m.Done():
	default:
		t.Fatal("done channel must be closed after Close")
	}
	assert.Equal(t, StateClosed, m.State())
}

func TestConnectTimesOutWithoutHandshake(t *testing.T) {
	// A plain HTTP server rejects the upgrade, so every attempt fails.
	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer plain.Close()

	m, _ := newTestManager(t, "ws"+strings.TrimPrefix(plain.URL, "http"), func(o *Options) {
		o.ConnectTimeout = 200 * time.Millisecond
	})

	err := m.Connect(context.Background())

	require.Error(t, err)
	assert.True(t, clienterr.IsTimeout(err), "expected a timeout classification, got %v", err)
}

func TestDiagnosticsReportDisconnect(t *testing.T) {
	srv := newScriptedServer(t)
	m, _ := newTestManager(t, srv.url(), nil)

	require.NoError(t, m.Connect(context.Background()))
	waitForMessage(t, srv.inbound, protocol.CmdSetAuthToken)

	srv.dropConn(0)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case d := <-m.Diagnostics():
			if d.Kind == DiagnosticDisconnect {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for disconnect diagnostic")
		}
	}
}

func TestReconnectBackoffSchedule(t *testing.T) {
	b := newReconnectBackoff(5*time.Second, 60*time.Second, 1.5)

	assert.Equal(t, 5*time.Second, b.NextBackOff())
	assert.Equal(t, 7500*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 11250*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 16875*time.Millisecond, b.NextBackOff())

	// The delay keeps growing until it pins at the ceiling.
	var last time.Duration
	for i := 0; i < 20; i++ {
		last = b.NextBackOff()
	}
	assert.Equal(t, 60*time.Second, last)

	b.Reset()
	assert.Equal(t, 5*time.Second, b.NextBackOff())
}
