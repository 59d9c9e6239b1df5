package protocol

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSessionPayload = `{"session_id":"abc123","timestamp":1727740800}`
	testEventPayload   = `{"m":"series_completed","p":["cs_abc","sds_1"]}`
	testHeartbeat      = "~h~42"
)

func wrap(payload string) string {
	return fmt.Sprintf("~m~%d~m~%s", len(payload), payload)
}

func TestDecodeChunkSingleFrames(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantKind FrameKind
	}{
		{
			name:     "heartbeat frame",
			payload:  testHeartbeat,
			wantKind: FrameHeartbeat,
		},
		{
			name:     "session info frame",
			payload:  testSessionPayload,
			wantKind: FrameSessionInfo,
		},
		{
			name:     "application event frame",
			payload:  testEventPayload,
			wantKind: FrameEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, diags := DecodeChunk([]byte(wrap(tt.payload)))

			require.Empty(t, diags)
			require.Len(t, frames, 1)
			assert.Equal(t, tt.wantKind, frames[0].Kind)
			assert.Equal(t, tt.payload, string(frames[0].Payload))
		})
	}
}

func TestDecodeChunkConcatenatedFramesPreserveOrder(t *testing.T) {
	var chunk string
	for i := 0; i < 5; i++ {
		chunk += wrap(fmt.Sprintf(`{"m":"event_%d","p":[]}`, i))
	}
	chunk += wrap(testHeartbeat)

	frames, diags := DecodeChunk([]byte(chunk))

	require.Empty(t, diags)
	require.Len(t, frames, 6)
	for i := 0; i < 5; i++ {
		assert.Equal(t, FrameEvent, frames[i].Kind)
		assert.Equal(t, fmt.Sprintf("event_%d", i), frames[i].Event.Name)
	}
	assert.Equal(t, FrameHeartbeat, frames[5].Kind)
}

func TestDecodeChunkHeartbeatEchoIsByteIdentical(t *testing.T) {
	frames, diags := DecodeChunk([]byte(wrap(testHeartbeat)))

	require.Empty(t, diags)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte(wrap(testHeartbeat)), frames[0].Echo)
	assert.Equal(t, EncodeRaw([]byte(testHeartbeat)), frames[0].Echo)
}

func TestDecodeChunkSessionInfoExtractsID(t *testing.T) {
	frames, diags := DecodeChunk([]byte(wrap(testSessionPayload)))

	require.Empty(t, diags)
	require.Len(t, frames, 1)
	assert.Equal(t, "abc123", frames[0].SessionID)
}

func TestDecodeChunkEventParams(t *testing.T) {
	frames, diags := DecodeChunk([]byte(wrap(testEventPayload)))

	require.Empty(t, diags)
	require.Len(t, frames, 1)
	assert.Equal(t, "series_completed", frames[0].Event.Name)
	require.Len(t, frames[0].Event.Params, 2)
	assert.JSONEq(t, `"cs_abc"`, string(frames[0].Event.Params[0]))
}

func TestDecodeChunkMalformedSegmentDoesNotAbortRest(t *testing.T) {
	chunk := wrap(`{"m":"first","p":[]}`) + wrap(`{not json`) + wrap(`{"m":"last","p":[]}`)

	frames, diags := DecodeChunk([]byte(chunk))

	require.Len(t, frames, 2)
	assert.Equal(t, "first", frames[0].Event.Name)
	assert.Equal(t, "last", frames[1].Event.Name)
	require.Len(t, diags, 1)
	assert.ErrorIs(t, diags[0], ErrMalformedPayload)
}

func TestDecodeChunkDamagedEnvelopes(t *testing.T) {
	tests := []struct {
		name      string
		chunk     string
		wantCount int
		wantErr   error
	}{
		{
			name:    "garbage before first marker",
			chunk:   "xx" + wrap(testHeartbeat),
			wantErr: ErrMalformedHeader, wantCount: 1,
		},
		{
			name:    "non numeric length",
			chunk:   "~m~ab~m~xy" + wrap(testHeartbeat),
			wantErr: ErrMalformedHeader, wantCount: 1,
		},
		{
			name:    "declared length exceeds chunk",
			chunk:   "~m~9999~m~short",
			wantErr: ErrTruncatedEnvelope, wantCount: 0,
		},
		{
			name:    "header cut off",
			chunk:   "~m~12",
			wantErr: ErrTruncatedEnvelope, wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, diags := DecodeChunk([]byte(tt.chunk))

			assert.Len(t, frames, tt.wantCount)
			require.NotEmpty(t, diags)
			assert.ErrorIs(t, diags[0], tt.wantErr)
		})
	}
}

func TestDecodeChunkEmpty(t *testing.T) {
	frames, diags := DecodeChunk(nil)
	assert.Empty(t, frames)
	assert.Empty(t, diags)
}

func TestEncodeCommandRoundTrip(t *testing.T) {
	chunk, err := EncodeCommand("create_series", "cs_abc", "sds_1", "s1", "sds_sym_1", "60", 300, "")
	require.NoError(t, err)

	frames, diags := DecodeChunk(chunk)
	require.Empty(t, diags)
	require.Len(t, frames, 1)
	assert.Equal(t, FrameEvent, frames[0].Kind)
	assert.Equal(t, "create_series", frames[0].Event.Name)
	assert.Len(t, frames[0].Event.Params, 7)
}

func TestEncodeCommandEmptyParamsStayArray(t *testing.T) {
	chunk, err := EncodeCommand("chart_create_session")
	require.NoError(t, err)
	assert.Contains(t, string(chunk), `"p":[]`)
}

func TestEncodeCommandRejectsEmptyName(t *testing.T) {
	_, err := EncodeCommand("")
	assert.Error(t, err)
}

func TestEncodeRawCountsBytesNotRunes(t *testing.T) {
	payload := []byte("~h~héllo")
	chunk := EncodeRaw(payload)
	assert.Equal(t, fmt.Sprintf("~m~%d~m~%s", len(payload), payload), string(chunk))

	frames, diags := DecodeChunk(chunk)
	require.Empty(t, diags)
	require.Len(t, frames, 1)
	assert.Equal(t, payload, frames[0].Payload)
}

func TestChartSessionIDShape(t *testing.T) {
	idPattern := regexp.MustCompile(`^cs_[a-zA-Z0-9]{12}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := ChartSessionID()
		assert.Regexp(t, idPattern, id)
		seen[id] = true
	}
	// 100 draws over a 62^12 space never collide in practice.
	assert.Len(t, seen, 100)

	assert.Regexp(t, `^qs_[a-zA-Z0-9]{12}$`, QuoteSessionID())
}

func TestSymbolDescriptor(t *testing.T) {
	desc := SymbolDescriptor("BINANCE:BTCUSDT")
	require.True(t, len(desc) > 1 && desc[0] == '=')
	assert.JSONEq(t, `{"adjustment":"splits","symbol":"BINANCE:BTCUSDT"}`, desc[1:])
}
