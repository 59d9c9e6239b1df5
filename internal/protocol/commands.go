package protocol

import (
	"encoding/json"
	"math/rand"
)

// Command names understood by the service's chart sub-protocol.
const (
	CmdSetAuthToken       = "set_auth_token"
	CmdChartCreateSession = "chart_create_session"
	CmdChartDeleteSession = "chart_delete_session"
	CmdResolveSymbol      = "resolve_symbol"
	CmdCreateSeries       = "create_series"
	CmdRequestMoreData    = "request_more_data"
	CmdRemoveSeries       = "remove_series"
)

// Event names emitted by the service that the client recognizes.
const (
	EventTimescaleUpdate = "timescale_update"
	EventDataUpdate      = "du"
	EventSeriesCompleted = "series_completed"
	EventSymbolError     = "symbol_error"
	EventSeriesError     = "series_error"
	EventCriticalError   = "critical_error"
	EventProtocolError   = "protocol_error"
)

const (
	sessionIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	sessionIDLength   = 12

	chartSessionPrefix = "cs_"
	quoteSessionPrefix = "qs_"
)

// ChartSessionID returns a fresh chart session identifier in the service's
// convention: "cs_" followed by 12 random alphanumerics. Identifiers are the
// correlation key between a logical query and the events it produces, so they
// must be distinct across concurrent fetches on one connection.
func ChartSessionID() string {
	return chartSessionPrefix + randomToken(sessionIDLength)
}

// QuoteSessionID returns a fresh quote session identifier ("qs_" prefix).
func QuoteSessionID() string {
	return quoteSessionPrefix + randomToken(sessionIDLength)
}

func randomToken(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = sessionIDAlphabet[rand.Intn(len(sessionIDAlphabet))]
	}
	return string(b)
}

// SymbolDescriptor renders the resolve_symbol parameter: a JSON symbol
// descriptor prefixed with "=", requesting split-adjusted data.
func SymbolDescriptor(symbol string) string {
	desc, _ := json.Marshal(struct {
		Adjustment string `json:"adjustment"`
		Symbol     string `json:"symbol"`
	}{Adjustment: "splits", Symbol: symbol})
	return "=" + string(desc)
}
