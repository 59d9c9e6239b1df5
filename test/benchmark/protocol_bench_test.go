package benchmark

import (
	"testing"

	"github.com/TavaresBugs/ScrapperTV/internal/models"
	"github.com/TavaresBugs/ScrapperTV/internal/protocol"
)

// benchChunk encodes a realistic timescale_update carrying n bars.
func benchChunk(b *testing.B, n int) []byte {
	b.Helper()
	bars := make([]models.RawBar, n)
	for i := range bars {
		base := float64(100 + i%200)
		bars[i] = models.RawBar{Index: i, Values: []float64{
			float64(benchBaseTS + int64(i)*3600),
			base, base + 12, base - 8, base + 4, float64(1500 + i),
		}}
	}
	chunk, err := protocol.EncodeCommand(protocol.EventTimescaleUpdate, "cs_bench",
		map[string]any{"sds_1": map[string]any{"s": bars}})
	if err != nil {
		b.Fatalf("encoding chunk: %v", err)
	}
	return chunk
}

// BenchmarkDecodeChunk measures the read path. Every byte from the service
// passes through DecodeChunk, and a large fetch delivers thousands of bars
// per message.
func BenchmarkDecodeChunk(b *testing.B) {
	if testing.Short() {
		b.Skip("skipping benchmark in short mode")
	}

	b.Run("update_500_bars", func(b *testing.B) {
		chunk := benchChunk(b, 500)
		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			frames, diags := protocol.DecodeChunk(chunk)
			if len(diags) != 0 || len(frames) != 1 {
				b.Fatalf("decode produced %d frames, %d diagnostics", len(frames), len(diags))
			}
			if _, ok := protocol.ParseEvent(frames[0].Event).(protocol.DataPush); !ok {
				b.Fatal("event did not parse as a data push")
			}
		}
		b.ReportMetric(float64(int64(b.N)*500)/b.Elapsed().Seconds(), "bars/sec")
	})

	b.Run("heartbeat", func(b *testing.B) {
		chunk := protocol.EncodeRaw([]byte("~h~42"))
		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			frames, diags := protocol.DecodeChunk(chunk)
			if len(diags) != 0 || len(frames) != 1 || frames[0].Kind != protocol.FrameHeartbeat {
				b.Fatal("heartbeat did not decode")
			}
		}
	})
}

// BenchmarkEncodeCommand measures the write path for the command shape the
// engine emits most.
func BenchmarkEncodeCommand(b *testing.B) {
	if testing.Short() {
		b.Skip("skipping benchmark in short mode")
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		frame, err := protocol.EncodeCommand(protocol.CmdCreateSeries,
			"cs_bench", "sds_1", "s1", "sym_1", "60", 300)
		if err != nil || len(frame) == 0 {
			b.Fatalf("encode failed: %v", err)
		}
	}
}
