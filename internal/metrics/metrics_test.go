package metrics

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotReflectsCounters(t *testing.T) {
	r := NewRegistry()

	r.ConnectsTotal.Add(1)
	r.ReconnectsTotal.Add(2)
	r.FramesIn.Add(10)
	r.HeartbeatsEchoed.Add(3)
	r.FetchesStarted.Add(4)
	r.FetchesCompleted.Add(3)
	r.FetchesFailed.Add(1)
	r.BarsCollected.Add(1200)

	s := r.Snapshot()

	assert.Equal(t, int64(1), s.ConnectsTotal)
	assert.Equal(t, int64(2), s.ReconnectsTotal)
	assert.Equal(t, int64(10), s.FramesIn)
	assert.Equal(t, int64(3), s.HeartbeatsEchoed)
	assert.Equal(t, int64(4), s.FetchesStarted)
	assert.Equal(t, int64(3), s.FetchesCompleted)
	assert.Equal(t, int64(1), s.FetchesFailed)
	assert.Equal(t, int64(1200), s.BarsCollected)
	assert.GreaterOrEqual(t, s.Uptime.Nanoseconds(), int64(0))
}

func TestConcurrentIncrements(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.EventsDispatched.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(2000), r.Snapshot().EventsDispatched)
}

func TestLogToWritesSnapshot(t *testing.T) {
	r := NewRegistry()
	r.JobsRun.Add(7)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	r.LogTo(logger)
}
