package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/dtvproxy/internal/resolver"
	"github.com/jmylchreest/dtvproxy/internal/statusbus"
)

// fakeResolver implements the recording.Resolver interface for worker-level
// tests that never reach the network resolver.
type fakeResolver struct {
	url string
	err error
}

func (r *fakeResolver) Resolve(context.Context, resolver.Platform, string, string, string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.url, nil
}

func newTestTask(t *testing.T) *Task {
	t.Helper()
	desc := Descriptor{
		TaskID:         "test-task",
		Platform:       resolver.PlatformHuya,
		RoomID:         "room1",
		Quality:        resolver.QualityOriginal,
		SegmentMinutes: 30,
		OutputDir:      t.TempDir(),
	}
	return newTask(desc, nowMs())
}

func newTestWorker(t *testing.T, task *Task, res Resolver) *worker {
	t.Helper()
	if res == nil {
		res = &fakeResolver{}
	}
	return newWorker(task, http.DefaultClient, res, statusbus.NewBus(), slog.Default(), "http://example.invalid/stream", task.SegmentMinutes)
}

// chunkReader replays a fixed sequence of reads, returning io.EOF (or a
// configured error) once exhausted.
type chunkReader struct {
	chunks [][]byte
	idx    int
	endErr error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.idx >= len(r.chunks) {
		if r.endErr != nil {
			return 0, r.endErr
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[r.idx])
	r.idx++
	return n, nil
}

func TestWorker_InnerLoop_RollsSegmentOnElapsed(t *testing.T) {
	task := newTestTask(t)
	w := newTestWorker(t, task, nil)
	w.segmentDuration = time.Millisecond

	require.NoError(t, w.rollSegment())
	firstPath := w.writer.path
	assert.Equal(t, 1, task.snapshotClone().SegmentIndex)

	time.Sleep(5 * time.Millisecond)

	outcome := w.innerLoop(context.Background(), &chunkReader{chunks: [][]byte{[]byte("ABCD")}})
	assert.Equal(t, innerCleanEOF, outcome)
	assert.Equal(t, 2, task.snapshotClone().SegmentIndex)
	assert.NotEqual(t, firstPath, w.writer.path)

	require.NoError(t, w.writer.flushAndClose())
}

func TestWorker_InnerLoop_NoRollWithinWindow(t *testing.T) {
	task := newTestTask(t)
	w := newTestWorker(t, task, nil)
	w.segmentDuration = time.Hour

	require.NoError(t, w.rollSegment())
	assert.Equal(t, 1, task.snapshotClone().SegmentIndex)

	outcome := w.innerLoop(context.Background(), &chunkReader{chunks: [][]byte{[]byte("ABCD"), []byte("EFGH")}})
	assert.Equal(t, innerCleanEOF, outcome)
	assert.Equal(t, 1, task.snapshotClone().SegmentIndex, "must not roll before segmentDuration elapses")
	assert.Equal(t, uint64(8), task.snapshotClone().BytesWritten)

	require.NoError(t, w.writer.flushAndClose())
}

func TestWorker_InnerLoop_ReadError(t *testing.T) {
	task := newTestTask(t)
	w := newTestWorker(t, task, nil)
	w.segmentDuration = time.Hour

	require.NoError(t, w.rollSegment())

	readErr := errors.New("connection reset by peer")
	outcome := w.innerLoop(context.Background(), &chunkReader{chunks: [][]byte{[]byte("AB")}, endErr: readErr})
	assert.Equal(t, innerReadError, outcome)

	snap := task.snapshotClone()
	assert.Equal(t, StatusReconnecting, snap.Status)
	assert.Equal(t, "stream_read_error: connection reset by peer", snap.Message)

	require.NoError(t, w.writer.flushAndClose())
}

func TestWorker_InnerLoop_StopRequested(t *testing.T) {
	task := newTestTask(t)
	w := newTestWorker(t, task, nil)
	w.segmentDuration = time.Hour
	require.NoError(t, w.rollSegment())

	task.requestStop()

	outcome := w.innerLoop(context.Background(), &chunkReader{chunks: [][]byte{[]byte("AB")}})
	assert.Equal(t, innerStop, outcome)

	require.NoError(t, w.writer.flushAndClose())
}

func TestWorker_HandleResolveFailure_NonOffline(t *testing.T) {
	task := newTestTask(t)
	w := newTestWorker(t, task, nil)

	retired := w.handleResolveFailure(errors.New("temporary upstream hiccup"))
	assert.False(t, retired)

	snap := task.snapshotClone()
	assert.Equal(t, StatusReconnecting, snap.Status)
	assert.Equal(t, "temporary upstream hiccup", snap.Message)
	assert.Equal(t, 0, w.offlineAttempts)
}

func TestWorker_HandleResolveFailure_RetiresAfterOfflineBudget(t *testing.T) {
	task := newTestTask(t)
	w := newTestWorker(t, task, nil)

	offlineErr := errors.New("room offline: 未开播")
	var retired bool
	for i := 0; i < offlineRetryBudget; i++ {
		retired = w.handleResolveFailure(offlineErr)
	}

	assert.True(t, retired)
	assert.Equal(t, offlineRetryBudget, w.offlineAttempts)

	snap := task.snapshotClone()
	assert.Equal(t, StatusStopped, snap.Status)
	assert.Equal(t, MessageStreamEndedOffline, snap.Message)
}

func TestWorker_HandleResolveFailure_DoesNotRetireBeforeBudget(t *testing.T) {
	task := newTestTask(t)
	w := newTestWorker(t, task, nil)

	offlineErr := errors.New("房间不存在")
	for i := 0; i < offlineRetryBudget-1; i++ {
		retired := w.handleResolveFailure(offlineErr)
		assert.False(t, retired)
	}

	assert.Equal(t, StatusReconnecting, task.snapshotClone().Status)
}

func TestWorker_HandleConnectFailure_ResolvesAndUpdatesURL(t *testing.T) {
	task := newTestTask(t)
	res := &fakeResolver{url: "https://new.example.invalid/stream"}
	w := newTestWorker(t, task, res)

	// Cancel immediately so the backoff sleep returns right away via
	// ctx.Done() instead of waiting out the real schedule.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	retired := w.handleConnectFailure(ctx, errors.New("dial tcp: connection refused"))
	assert.False(t, retired)
	assert.Equal(t, "https://new.example.invalid/stream", w.currentURL)
	assert.Equal(t, 1, w.reconnectAttempts)

	snap := task.snapshotClone()
	assert.Equal(t, StatusReconnecting, snap.Status)
	assert.Contains(t, snap.Message, "connect_failed:")
}

func TestWorker_HandleConnectFailure_RetiresWhenResolveGoesOffline(t *testing.T) {
	task := newTestTask(t)
	res := &fakeResolver{err: errors.New("stream_ended_or_offline")}
	w := newTestWorker(t, task, res)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var retired bool
	for i := 0; i < offlineRetryBudget; i++ {
		retired = w.handleConnectFailure(ctx, errors.New("dial tcp: connection refused"))
	}

	assert.True(t, retired)
	assert.Equal(t, StatusStopped, task.snapshotClone().Status)
}

// TestWorker_Run_ReconnectsThroughTransient502s drives the full outer loop
// against a real httptest server that fails upstream twice before
// succeeding, matching the literal trace in §8 scenario 4: starting →
// reconnecting(upstream_status=502) → reconnecting(upstream_status=502) →
// recording.
func TestWorker_Run_ReconnectsThroughTransient502s(t *testing.T) {
	var attempts int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "video/x-flv")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("FLVDATA"))
	}))
	defer upstream.Close()

	task := newTestTask(t)
	bus := statusbus.NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	w := newWorker(task, http.DefaultClient, &fakeResolver{url: upstream.URL}, bus, slog.Default(), upstream.URL, task.SegmentMinutes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.run(ctx)

	var trace []string
	timeout := time.After(15 * time.Second)
	for len(trace) < 3 {
		select {
		case ev := <-sub.Events:
			if ev.Message != "" {
				trace = append(trace, fmt.Sprintf("%s(%s)", ev.Status, ev.Message))
			} else {
				trace = append(trace, ev.Status)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for status trace, got so far: %v", trace)
		}
	}

	require.GreaterOrEqual(t, len(trace), 3)
	assert.Equal(t, "reconnecting(upstream_status=502)", trace[0])
	assert.Equal(t, "reconnecting(upstream_status=502)", trace[1])
	assert.Equal(t, "recording", trace[2])

	cancel()
	task.awaitDone()
}
