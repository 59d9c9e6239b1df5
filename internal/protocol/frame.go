// Package protocol implements the service's wire protocol: the length-prefixed
// frame envelope, heartbeat detection, outgoing command encoding, and the
// typed application events decoded from incoming frames.
//
// Every frame travels as `~m~<decimal byte length>~m~<payload>` and multiple
// frames may be concatenated in one transport message. Decoding is
// best-effort: a malformed segment is reported as a diagnostic and skipped
// without aborting the rest of the chunk, because the remote service is not a
// fully specified contract.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const (
	// envelopeMarker delimits the length prefix of every frame.
	envelopeMarker = "~m~"

	// heartbeatMarker starts every heartbeat payload.
	heartbeatMarker = "~h~"

	markerLen = 3
)

// Decode errors reported as diagnostics. They never abort a chunk.
var (
	ErrMalformedHeader   = errors.New("protocol: malformed envelope header")
	ErrTruncatedEnvelope = errors.New("protocol: truncated frame envelope")
	ErrMalformedPayload  = errors.New("protocol: malformed frame payload")
)

// FrameKind discriminates the decoded frame variants.
type FrameKind int

const (
	// FrameHeartbeat is a keepalive probe that must be echoed verbatim.
	FrameHeartbeat FrameKind = iota

	// FrameSessionInfo is the session establishment frame carrying session_id.
	FrameSessionInfo

	// FrameEvent is an application-level event frame carrying {m, p}.
	FrameEvent
)

// String implements fmt.Stringer for log output.
func (k FrameKind) String() string {
	switch k {
	case FrameHeartbeat:
		return "heartbeat"
	case FrameSessionInfo:
		return "session_info"
	case FrameEvent:
		return "event"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ApplicationEvent is the raw shape of an event frame: a name and an ordered
// list of parameters kept opaque until event parsing.
type ApplicationEvent struct {
	Name   string            `json:"m"`
	Params []json.RawMessage `json:"p"`
}

// Frame is one decoded protocol unit. It is immutable after decoding and
// discarded after dispatch. Echo is populated for heartbeats only and holds
// the ready-to-send reply envelope so the session can answer without
// re-encoding. SessionID is populated for session info frames, Event for
// application event frames.
type Frame struct {
	Kind      FrameKind
	Payload   []byte
	Echo      []byte
	SessionID string
	Event     ApplicationEvent
}

// DecodeChunk splits one transport message into its frames, in arrival order.
// Each call is self-contained: the transport delivers whole messages, so no
// state is buffered across calls. Malformed segments are returned as
// diagnostics alongside the successfully decoded frames.
func DecodeChunk(chunk []byte) ([]Frame, []error) {
	var (
		frames []Frame
		diags  []error
	)

	marker := []byte(envelopeMarker)
	pos := 0
	for pos < len(chunk) {
		if !bytes.HasPrefix(chunk[pos:], marker) {
			diags = append(diags, fmt.Errorf("%w at offset %d", ErrMalformedHeader, pos))
			pos = resync(chunk, pos+1, marker)
			continue
		}

		lenStart := pos + markerLen
		lenWidth := bytes.Index(chunk[lenStart:], marker)
		if lenWidth < 0 {
			diags = append(diags, fmt.Errorf("%w at offset %d", ErrTruncatedEnvelope, pos))
			break
		}

		size, err := strconv.Atoi(string(chunk[lenStart : lenStart+lenWidth]))
		if err != nil || size < 0 {
			diags = append(diags, fmt.Errorf("%w at offset %d: %q", ErrMalformedHeader, pos, chunk[lenStart:lenStart+lenWidth]))
			pos = resync(chunk, lenStart, marker)
			continue
		}

		payloadStart := lenStart + lenWidth + markerLen
		payloadEnd := payloadStart + size
		if payloadEnd > len(chunk) {
			diags = append(diags, fmt.Errorf("%w at offset %d: declared %d bytes, %d available", ErrTruncatedEnvelope, pos, size, len(chunk)-payloadStart))
			break
		}

		frame, err := decodeSegment(chunk[payloadStart:payloadEnd])
		if err != nil {
			diags = append(diags, err)
		} else {
			frames = append(frames, frame)
		}
		pos = payloadEnd
	}

	return frames, diags
}

// resync advances to the next envelope marker at or after from, or to the end
// of the chunk when none remains.
func resync(chunk []byte, from int, marker []byte) int {
	if from >= len(chunk) {
		return len(chunk)
	}
	next := bytes.Index(chunk[from:], marker)
	if next < 0 {
		return len(chunk)
	}
	return from + next
}

// decodeSegment classifies one envelope payload.
func decodeSegment(payload []byte) (Frame, error) {
	if len(payload) >= markerLen && string(payload[:markerLen]) == heartbeatMarker {
		echo := EncodeRaw(payload)
		return Frame{Kind: FrameHeartbeat, Payload: payload, Echo: echo}, nil
	}

	var probe struct {
		SessionID string            `json:"session_id"`
		Name      string            `json:"m"`
		Params    []json.RawMessage `json:"p"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if probe.SessionID != "" {
		return Frame{Kind: FrameSessionInfo, Payload: payload, SessionID: probe.SessionID}, nil
	}

	return Frame{
		Kind:    FrameEvent,
		Payload: payload,
		Event:   ApplicationEvent{Name: probe.Name, Params: probe.Params},
	}, nil
}

// EncodeCommand serializes {m: name, p: params} to JSON and wraps it in the
// frame envelope.
func EncodeCommand(name string, params ...any) ([]byte, error) {
	if name == "" {
		return nil, errors.New("protocol: command name cannot be empty")
	}
	if params == nil {
		params = []any{}
	}

	body, err := json.Marshal(struct {
		M string `json:"m"`
		P []any  `json:"p"`
	}{M: name, P: params})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", name, err)
	}

	return EncodeRaw(body), nil
}

// EncodeRaw wraps an already-serialized payload in the frame envelope. The
// declared length counts payload bytes, not characters.
func EncodeRaw(payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+2*markerLen+4)
	buf = append(buf, envelopeMarker...)
	buf = strconv.AppendInt(buf, int64(len(payload)), 10)
	buf = append(buf, envelopeMarker...)
	buf = append(buf, payload...)
	return buf
}
