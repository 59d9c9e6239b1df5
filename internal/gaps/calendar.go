package gaps

import (
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

// micByVenue maps exchange prefixes of symbols to the ISO 10383 MIC codes
// the calendar library understands. Venues trading around the clock (crypto,
// FX) are absent: every missing bucket there is a real gap.
var micByVenue = map[string]string{
	"NASDAQ":   "xnas",
	"NYSE":     "xnys",
	"AMEX":     "xnys",
	"LSE":      "xlon",
	"XETR":     "xfra",
	"FWB":      "xfra",
	"EURONEXT": "xpar",
	"MIL":      "xmil",
	"BME":      "xmad",
	"SIX":      "xswx",
	"TSX":      "xtse",
	"TSXV":     "xtsx",
	"TSE":      "xtks",
	"HKEX":     "xhkg",
	"ASX":      "xasx",
	"KRX":      "xkrx",
	"TWSE":     "xtai",
	"SSE":      "xshg",
	"SZSE":     "xshe",
}

// calendarFor resolves the trading calendar behind a symbol's venue prefix,
// nil when the venue has no session schedule worth consulting.
func calendarFor(symbol string) *calendar.Calendar {
	venue, _, found := strings.Cut(symbol, ":")
	if !found {
		return nil
	}
	mic, ok := micByVenue[strings.ToUpper(venue)]
	if !ok {
		return nil
	}
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		cal = calendar.GetCalendar("xnys")
	}
	return cal
}

// closedAt reports whether the market is shut for the bucket starting at ts.
// Weekly and monthly buckets always span at least one session, so only
// intraday and daily buckets consult the calendar.
func closedAt(cal *calendar.Calendar, timeframe string, ts int64) bool {
	if cal == nil {
		return false
	}
	t := time.Unix(ts, 0).In(cal.Loc)
	switch timeframe {
	case "D":
		return !cal.IsBusinessDay(t)
	case "W", "M":
		return false
	default:
		return !cal.IsOpen(t)
	}
}
