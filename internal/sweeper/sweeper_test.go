package sweeper

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamlink/internal/logger"
	"streamlink/internal/metrics"
)

type fakeLinks struct {
	calls   atomic.Int32
	removed int64
	err     error
	panics  bool
	block   bool
}

func (f *fakeLinks) Sweep(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	if f.panics {
		panic("boom")
	}
	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return f.removed, f.err
}

func TestRunOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		s := New(&fakeLinks{removed: 7}, time.Minute, logger.Discard(), m)
		n, err := s.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
	})

	t.Run("store error is returned and logged", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.New(&buf, time.UTC, "info")
		s := New(&fakeLinks{err: errors.New("db down")}, time.Minute, log, m)

		_, err := s.RunOnce(context.Background())
		assert.EqualError(t, err, "db down")
		assert.Contains(t, buf.String(), `"msg":"sweep_failed"`)
	})

	expected := `
# HELP streamlink_sweep_runs_total Expiry sweeper runs by result.
# TYPE streamlink_sweep_runs_total counter
streamlink_sweep_runs_total{result="error"} 1
streamlink_sweep_runs_total{result="ok"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, bytes.NewBufferString(expected), "streamlink_sweep_runs_total"))
}

func TestStartRunsImmediatelyAndOnSchedule(t *testing.T) {
	links := &fakeLinks{}
	s := New(links, time.Second, logger.Discard(), nil)
	s.Start()

	assert.Eventually(t, func() bool { return links.calls.Load() >= 1 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return links.calls.Load() >= 2 }, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
}

func TestPanickingSweepDoesNotStopScheduler(t *testing.T) {
	links := &fakeLinks{panics: true}
	s := New(links, time.Second, logger.Discard(), nil)
	s.Start()

	assert.Eventually(t, func() bool { return links.calls.Load() >= 2 }, 3*time.Second, 50*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestStopCancelsInFlightSweep(t *testing.T) {
	links := &fakeLinks{block: true}
	s := New(links, time.Hour, logger.Discard(), nil)
	s.Start()

	require.Eventually(t, func() bool { return links.calls.Load() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	calls := links.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, links.calls.Load(), "no sweep runs after Stop")
}

func TestDefaultInterval(t *testing.T) {
	s := New(&fakeLinks{}, 0, logger.Discard(), nil)
	assert.Equal(t, DefaultInterval, s.interval)
}
