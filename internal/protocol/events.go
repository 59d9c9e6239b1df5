package protocol

import (
	"encoding/json"
	"strings"

	"github.com/TavaresBugs/ScrapperTV/internal/models"
)

// Event is the typed application-level event union. Exactly one variant per
// recognized event name; anything unrecognized or unparseable becomes Unknown
// so consumers never see an error from event classification.
type Event interface {
	isEvent()
}

// DataPush carries one batch of bars per series handle, correlated to a chart
// session. Produced by timescale_update (historical batches) and du
// (incremental updates).
type DataPush struct {
	SessionID string
	Series    map[string][]models.RawBar
}

// Completion signals that the service finished answering the current query on
// a series.
type Completion struct {
	SessionID string
	SeriesID  string
}

// SoftError is a symbol-level error the service can emit alongside otherwise
// valid data. It never aborts a fetch.
type SoftError struct {
	SessionID string
	SeriesID  string
	Reason    string
}

// HardError is a critical or protocol-level failure. It fails the affected
// in-flight operation but does not tear down the physical connection. A
// HardError without a SessionID applies to every pending operation.
type HardError struct {
	Name      string
	SessionID string
	Message   string
}

// Unknown wraps every event the client does not recognize or could not parse.
type Unknown struct {
	Name string
	Raw  []json.RawMessage
}

func (DataPush) isEvent()   {}
func (Completion) isEvent() {}
func (SoftError) isEvent()  {}
func (HardError) isEvent()  {}
func (Unknown) isEvent()    {}

// ParseEvent classifies a raw application event into the typed union. A
// recognized event whose parameters do not match the expected shape degrades
// to Unknown rather than failing.
func ParseEvent(ev ApplicationEvent) Event {
	switch ev.Name {
	case EventTimescaleUpdate, EventDataUpdate:
		return parseDataPush(ev)
	case EventSeriesCompleted:
		return parseCompletion(ev)
	case EventSymbolError, EventSeriesError:
		return parseSoftError(ev)
	case EventCriticalError, EventProtocolError:
		return parseHardError(ev)
	default:
		return Unknown{Name: ev.Name, Raw: ev.Params}
	}
}

// seriesPayload is the wire shape of one series entry inside a data push.
// Extra fields (ns, t, lbs) are ignored.
type seriesPayload struct {
	Bars []models.RawBar `json:"s"`
}

func parseDataPush(ev ApplicationEvent) Event {
	sid, ok := stringParam(ev.Params, 0)
	if !ok {
		return Unknown{Name: ev.Name, Raw: ev.Params}
	}

	push := DataPush{SessionID: sid, Series: make(map[string][]models.RawBar)}
	if len(ev.Params) > 1 {
		var payload map[string]seriesPayload
		if err := json.Unmarshal(ev.Params[1], &payload); err != nil {
			return Unknown{Name: ev.Name, Raw: ev.Params}
		}
		for handle, body := range payload {
			if len(body.Bars) > 0 {
				push.Series[handle] = body.Bars
			}
		}
	}
	return push
}

func parseCompletion(ev ApplicationEvent) Event {
	sid, ok := stringParam(ev.Params, 0)
	if !ok {
		return Unknown{Name: ev.Name, Raw: ev.Params}
	}
	seriesID, _ := stringParam(ev.Params, 1)
	return Completion{SessionID: sid, SeriesID: seriesID}
}

func parseSoftError(ev ApplicationEvent) Event {
	sid, ok := stringParam(ev.Params, 0)
	if !ok {
		return Unknown{Name: ev.Name, Raw: ev.Params}
	}
	seriesID, _ := stringParam(ev.Params, 1)
	reason, _ := stringParam(ev.Params, 2)
	return SoftError{SessionID: sid, SeriesID: seriesID, Reason: reason}
}

// parseHardError folds every string parameter after the session id into the
// message. protocol_error events carry no session id at all; their first
// parameter is already message text.
func parseHardError(ev ApplicationEvent) Event {
	herr := HardError{Name: ev.Name}

	start := 0
	if ev.Name == EventCriticalError {
		if sid, ok := stringParam(ev.Params, 0); ok {
			herr.SessionID = sid
			start = 1
		}
	}

	var parts []string
	for i := start; i < len(ev.Params); i++ {
		if s, ok := stringParam(ev.Params, i); ok && s != "" {
			parts = append(parts, s)
		}
	}
	herr.Message = strings.Join(parts, ": ")
	return herr
}

func stringParam(params []json.RawMessage, idx int) (string, bool) {
	if idx >= len(params) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(params[idx], &s); err != nil {
		return "", false
	}
	return s, true
}
