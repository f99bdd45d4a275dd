// Package recording implements the live-recording engine: a pool of
// long-running workers that each resolve a platform stream URL, relay the
// FLV byte stream to disk in fixed-duration segments, and reconnect on
// transient upstream failure while honoring an offline-retry budget and a
// cooperative stop signal.
package recording

import (
	"sync"

	"github.com/jmylchreest/dtvproxy/internal/resolver"
)

// Status is one of a Task's lifecycle states.
type Status string

const (
	StatusStarting     Status = "starting"
	StatusRecording    Status = "recording"
	StatusReconnecting Status = "reconnecting"
	StatusStopped      Status = "stopped"
	StatusFailed       Status = "failed"
)

// Diagnostic messages used verbatim in snapshots and status events; tests
// and callers match against these literally.
const (
	MessageStoppedByUser      = "stopped_by_user"
	MessageStreamEndedOffline = "stream_ended_or_offline"
	MessageWorkerExit         = "worker_exit"
	MessageStreamReconnect    = "stream_reconnect"
)

// Descriptor is a Task's immutable configuration, fixed at start time.
type Descriptor struct {
	TaskID         string
	Platform       resolver.Platform
	RoomID         string
	Quality        resolver.Quality
	SegmentMinutes int
	OutputDir      string
	Cookie         string
}

// Snapshot is a Task's mutable state, cloned under Task.mu on every read.
type Snapshot struct {
	Status       Status `json:"status"`
	CurrentFile  string `json:"currentFile,omitempty"`
	SegmentIndex int    `json:"segmentIndex"`
	BytesWritten uint64 `json:"bytesWritten"`
	StartedAt    int64  `json:"startedAt"`
	UpdatedAt    int64  `json:"updatedAt"`
	Message      string `json:"message,omitempty"`
}

// Task is one running (or terminal) recording task. The worker goroutine is
// the sole mutator of Snapshot; readers (List, the status emitter) clone it
// under mu.
type Task struct {
	Descriptor

	mu       sync.Mutex
	snapshot Snapshot

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func newTask(desc Descriptor, startedAt int64) *Task {
	return &Task{
		Descriptor: desc,
		snapshot: Snapshot{
			Status:    StatusStarting,
			StartedAt: startedAt,
			UpdatedAt: startedAt,
		},
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// stopRequested reports whether Stop has been called, without blocking.
func (t *Task) stopRequested() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}

// requestStop flips the watch flag exactly once; idempotent under repeated
// calls (e.g. Stop followed by StopAll draining the same map entry).
func (t *Task) requestStop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// awaitDone blocks until the worker goroutine has returned.
func (t *Task) awaitDone() {
	<-t.done
}

// snapshotClone returns a copy of the current snapshot.
func (t *Task) snapshotClone() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

// mutate applies fn to the snapshot under the task mutex and returns the
// resulting clone, for building the matching status event.
func (t *Task) mutate(fn func(*Snapshot)) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.snapshot)
	return t.snapshot
}

// active reports whether status is one that counts against the
// one-active-recording-per-(platform,room) invariant.
func (s Status) active() bool {
	switch s {
	case StatusStarting, StatusRecording, StatusReconnecting:
		return true
	default:
		return false
	}
}
