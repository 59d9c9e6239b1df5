package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
)

const (
	// DefaultAuthPageURL is the page scraped for an authenticated token.
	DefaultAuthPageURL = "https://www.tradingview.com/disclaimer/"

	// UnauthorizedToken is the anonymous fallback accepted by the server
	// when no authenticated token can be resolved.
	UnauthorizedToken = "unauthorized_user_token"

	// authBodyLimit bounds how much of the auth page is read when
	// scanning for the token.
	authBodyLimit = 4 << 20
)

var authTokenPattern = regexp.MustCompile(`"auth_token":"([^"]+)"`)

// ResolveAuthToken resolves the websocket auth token for a session cookie.
// It fetches the auth page with the sessionid cookie attached and extracts
// the embedded token. Resolution is best-effort: any failure (missing
// cookie, transport error, non-200 status, token not present in the page)
// degrades to the anonymous token rather than failing the connection.
func ResolveAuthToken(ctx context.Context, client *http.Client, pageURL, sessionCookie string, logger *slog.Logger) string {
	if sessionCookie == "" {
		return UnauthorizedToken
	}
	if client == nil {
		client = http.DefaultClient
	}
	if pageURL == "" {
		pageURL = DefaultAuthPageURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		logger.Warn("auth token resolution failed, using anonymous token", "error", err)
		return UnauthorizedToken
	}
	req.AddCookie(&http.Cookie{Name: "sessionid", Value: sessionCookie})

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("auth token resolution failed, using anonymous token", "error", err)
		return UnauthorizedToken
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("auth token resolution failed, using anonymous token",
			"error", fmt.Sprintf("unexpected status %d", resp.StatusCode))
		return UnauthorizedToken
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, authBodyLimit))
	if err != nil {
		logger.Warn("auth token resolution failed, using anonymous token", "error", err)
		return UnauthorizedToken
	}

	match := authTokenPattern.FindSubmatch(body)
	if match == nil {
		logger.Warn("auth page carried no token, using anonymous token", "url", pageURL)
		return UnauthorizedToken
	}

	return string(match[1])
}
