package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveAuthTokenFromPage(t *testing.T) {
	var gotCookie atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sessionid"); err == nil {
			gotCookie.Store(c.Value)
		}
		fmt.Fprint(w, `<script>window.initData = {"auth_token":"tok-abc-123","theme":"dark"}</script>`)
	}))
	defer ts.Close()

	token := ResolveAuthToken(context.Background(), ts.Client(), ts.URL, "my-session-cookie", testLogger())

	assert.Equal(t, "tok-abc-123", token)
	assert.Equal(t, "my-session-cookie", gotCookie.Load())
}

func TestResolveAuthTokenWithoutCookieSkipsRequest(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer ts.Close()

	token := ResolveAuthToken(context.Background(), ts.Client(), ts.URL, "", testLogger())

	assert.Equal(t, UnauthorizedToken, token)
	assert.Equal(t, int32(0), requests.Load())
}

func TestResolveAuthTokenDegradations(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "page without token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "<html>nothing useful here</html>")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			token := ResolveAuthToken(context.Background(), ts.Client(), ts.URL, "cookie", testLogger())

			assert.Equal(t, UnauthorizedToken, token)
		})
	}
}

func TestResolveAuthTokenTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	token := ResolveAuthToken(context.Background(), http.DefaultClient, url, "cookie", testLogger())

	assert.Equal(t, UnauthorizedToken, token)
}
