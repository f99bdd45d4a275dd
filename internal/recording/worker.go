package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmylchreest/dtvproxy/internal/reqshape"
	"github.com/jmylchreest/dtvproxy/internal/resolver"
	"github.com/jmylchreest/dtvproxy/internal/statusbus"
)

// chunkBufferSize is the read buffer used for the upstream byte stream.
const chunkBufferSize = 32 * 1024

// Resolver is the subset of resolver.Dispatcher the worker needs: resolve
// the current stream URL again, used both for the initial URL (by the
// Manager) and for every reconnect attempt.
type Resolver interface {
	Resolve(ctx context.Context, platform resolver.Platform, roomID, quality, cookie string) (string, error)
}

// worker drives one Task's reconnect/segment state machine. Exactly one
// goroutine runs a worker's run method; it is the sole mutator of its
// Task's snapshot.
type worker struct {
	task   *Task
	client *http.Client
	bus    *statusbus.Bus
	logger *slog.Logger
	res    Resolver

	currentURL      string
	segmentDuration time.Duration
	writer          *segmentWriter

	reconnectAttempts int
	offlineAttempts   int
}

func newWorker(task *Task, client *http.Client, res Resolver, bus *statusbus.Bus, logger *slog.Logger, initialURL string, segmentMinutes int) *worker {
	return &worker{
		task:            task,
		client:          client,
		bus:             bus,
		logger:          logger,
		res:             res,
		currentURL:      initialURL,
		segmentDuration: time.Duration(clampSegmentMinutes(segmentMinutes)) * time.Minute,
		writer:          newSegmentWriter(task.OutputDir, string(task.Platform), task.RoomID),
	}
}

// clampSegmentMinutes mirrors config.RecordingConfig.NormalizedSegmentMinutes
// for a bare int coming from a start request rather than the loaded config.
func clampSegmentMinutes(m int) int {
	switch {
	case m <= 0:
		return 30
	case m > 1440:
		return 1440
	default:
		return m
	}
}

// run executes the outer reconnect loop until the task stops, retires, or
// fails. It is intended to be launched via go worker.run(ctx) by the
// Manager; the Task's done channel signals completion to Stop/StopAll.
func (w *worker) run(ctx context.Context) {
	defer close(w.task.done)
	defer w.reconcile()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.task.stopRequested() {
			w.publish(w.task.mutate(func(s *Snapshot) {
				s.Status = StatusStopped
				s.Message = MessageStoppedByUser
				s.UpdatedAt = nowMs()
			}))
			return
		}

		req, err := reqshape.FLV(ctx, w.currentURL, w.task.Platform, w.task.Cookie)
		if err != nil {
			if w.handleConnectFailure(ctx, err) {
				return
			}
			continue
		}

		resp, err := w.client.Do(req)
		if err != nil {
			if w.handleConnectFailure(ctx, err) {
				return
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			w.reconnectAttempts++
			w.publish(w.task.mutate(func(s *Snapshot) {
				s.Status = StatusReconnecting
				s.Message = fmt.Sprintf("upstream_status=%d", resp.StatusCode)
				s.UpdatedAt = nowMs()
			}))
			sleep(ctx, backoff(w.reconnectAttempts))
			continue
		}

		w.reconnectAttempts = 0
		w.offlineAttempts = 0
		w.publish(w.task.mutate(func(s *Snapshot) {
			s.Status = StatusRecording
			s.Message = ""
			s.UpdatedAt = nowMs()
		}))

		if err := w.rollSegment(); err != nil {
			resp.Body.Close()
			_ = w.writer.flushAndClose()
			w.publish(w.task.mutate(func(s *Snapshot) {
				s.Status = StatusFailed
				s.Message = "open_segment_failed: " + err.Error()
				s.UpdatedAt = nowMs()
			}))
			return
		}

		outcome := w.innerLoop(ctx, resp.Body)
		resp.Body.Close()

		switch outcome {
		case innerFailed:
			return
		case innerStop:
			_ = w.writer.flushAndClose()
			continue
		case innerReadError:
			_ = w.writer.flushAndClose()
			continue
		case innerCleanEOF:
			if w.handleStreamEnded(ctx) {
				return
			}
			continue
		}
	}
}

// handleConnectFailure implements §4.8 step 3: a transport-level connect
// failure. Returns true if the task retired (caller must stop the loop).
func (w *worker) handleConnectFailure(ctx context.Context, connErr error) bool {
	w.reconnectAttempts++
	w.publish(w.task.mutate(func(s *Snapshot) {
		s.Status = StatusReconnecting
		s.Message = "connect_failed: " + connErr.Error()
		s.UpdatedAt = nowMs()
	}))
	sleep(ctx, backoff(w.reconnectAttempts))

	newURL, err := w.res.Resolve(ctx, w.task.Platform, w.task.RoomID, string(w.task.Quality), w.task.Cookie)
	if err != nil {
		return w.handleResolveFailure(err)
	}
	w.currentURL = newURL
	return false
}

// handleStreamEnded implements §4.8 step 7: the upstream body ended
// cleanly (EOF), requiring a fresh resolve before reconnecting. Returns true
// if the task retired (caller must stop the loop).
func (w *worker) handleStreamEnded(ctx context.Context) bool {
	_ = w.writer.flushAndClose()

	newURL, err := w.res.Resolve(ctx, w.task.Platform, w.task.RoomID, string(w.task.Quality), w.task.Cookie)
	if err != nil {
		if w.handleResolveFailure(err) {
			return true
		}
		sleep(ctx, resolveFailureSleep)
		return false
	}
	w.currentURL = newURL
	w.publish(w.task.mutate(func(s *Snapshot) {
		s.Status = StatusReconnecting
		s.Message = MessageStreamReconnect
		s.UpdatedAt = nowMs()
	}))
	sleep(ctx, reconnectSleep)
	return false
}

// handleResolveFailure records a failed re-resolution, honoring the
// offline-retry budget. Returns true if the task retired.
func (w *worker) handleResolveFailure(resolveErr error) bool {
	msg := resolveErr.Error()
	if resolver.IsOffline(msg) {
		w.offlineAttempts++
		if w.offlineAttempts >= offlineRetryBudget {
			w.publish(w.task.mutate(func(s *Snapshot) {
				s.Status = StatusStopped
				s.Message = MessageStreamEndedOffline
				s.UpdatedAt = nowMs()
			}))
			return true
		}
	}
	w.publish(w.task.mutate(func(s *Snapshot) {
		s.Status = StatusReconnecting
		s.Message = msg
		s.UpdatedAt = nowMs()
	}))
	return false
}

type innerOutcome int

const (
	innerCleanEOF innerOutcome = iota
	innerReadError
	innerStop
	innerFailed
)

// innerLoop reads upstream chunks into the current segment, rolling to a
// new segment file when the configured duration elapses. The chunk that
// triggers a roll is written to the NEW segment, not flushed with the old
// one (see DESIGN.md: confirmed intentional).
func (w *worker) innerLoop(ctx context.Context, body io.Reader) innerOutcome {
	buf := make([]byte, chunkBufferSize)
	for {
		if w.task.stopRequested() {
			return innerStop
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if w.writer.elapsed() >= w.segmentDuration {
				if err := w.rollSegment(); err != nil {
					_ = w.writer.flushAndClose()
					w.publish(w.task.mutate(func(s *Snapshot) {
						s.Status = StatusFailed
						s.Message = "segment_roll_failed: " + err.Error()
						s.UpdatedAt = nowMs()
					}))
					return innerFailed
				}
			}

			written, writeErr := w.writer.write(buf[:n])
			if writeErr != nil {
				_ = w.writer.flushAndClose()
				w.publish(w.task.mutate(func(s *Snapshot) {
					s.Status = StatusFailed
					s.Message = "write_failed: " + writeErr.Error()
					s.UpdatedAt = nowMs()
				}))
				return innerFailed
			}
			w.task.mutate(func(s *Snapshot) {
				s.BytesWritten = addSaturating(s.BytesWritten, uint64(written))
				s.UpdatedAt = nowMs()
			})
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return innerCleanEOF
			}
			w.publish(w.task.mutate(func(s *Snapshot) {
				s.Status = StatusReconnecting
				s.Message = "stream_read_error: " + readErr.Error()
				s.UpdatedAt = nowMs()
			}))
			return innerReadError
		}
	}
}

// rollSegment flushes and closes any currently open segment, then opens the
// next one, bumping segment_index only on success (the invariant a new
// file is opened iff segment_index increases).
func (w *worker) rollSegment() error {
	if err := w.writer.flushAndClose(); err != nil {
		return err
	}
	nextIdx := w.task.snapshotClone().SegmentIndex + 1
	if err := w.writer.open(nextIdx); err != nil {
		return err
	}
	w.publish(w.task.mutate(func(s *Snapshot) {
		s.SegmentIndex = nextIdx
		s.CurrentFile = w.writer.path
		s.UpdatedAt = nowMs()
	}))
	return nil
}

// reconcile implements the terminal-reconciliation safety net: if run
// returns via a path (e.g. context cancellation) that left the snapshot in
// a non-terminal state, publish the appropriate terminal event.
func (w *worker) reconcile() {
	snap := w.task.snapshotClone()
	if snap.Status == StatusStopped || snap.Status == StatusFailed {
		return
	}
	if w.task.stopRequested() {
		w.publish(w.task.mutate(func(s *Snapshot) {
			s.Status = StatusStopped
			s.Message = MessageStoppedByUser
			s.UpdatedAt = nowMs()
		}))
		return
	}
	w.publish(w.task.mutate(func(s *Snapshot) {
		s.Status = StatusStopped
		s.Message = MessageWorkerExit
		s.UpdatedAt = nowMs()
	}))
}

func (w *worker) publish(snap Snapshot) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(statusbus.Event{
		TaskID:       w.task.TaskID,
		Platform:     string(w.task.Platform),
		RoomID:       w.task.RoomID,
		Status:       string(snap.Status),
		CurrentFile:  snap.CurrentFile,
		SegmentIndex: snap.SegmentIndex,
		BytesWritten: snap.BytesWritten,
		Message:      snap.Message,
		Timestamp:    statusbus.Now(),
	})
}

func nowMs() int64 {
	return statusbus.Now()
}

func addSaturating(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

// sleep pauses for d or until ctx is cancelled, whichever comes first. It
// does not watch the task's stop signal, so a Stop waits out a pending
// backoff before the worker sees it.
func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

