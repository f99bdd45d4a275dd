package recording

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/dtvproxy/internal/resolver"
	"github.com/jmylchreest/dtvproxy/internal/statusbus"
)

// infiniteFLVServer streams a handful of chunks slowly enough for a test to
// observe the recording task settle into StatusRecording before it ends.
func infiniteFLVServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/x-flv")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for i := 0; i < 40; i++ {
			if _, err := w.Write([]byte("FLVDATA_")); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(5 * time.Millisecond)
		}
	}))
}

func TestManager_StartStopLifecycle(t *testing.T) {
	upstream := infiniteFLVServer()
	defer upstream.Close()

	res := &fakeResolver{url: upstream.URL}
	mgr := NewManager(http.DefaultClient, res, statusbus.NewBus(), slog.Default(), t.TempDir())

	result, err := mgr.Start(context.Background(), StartRequest{
		Platform:       "huya",
		RoomID:         "room1",
		SegmentMinutes: 30,
	})
	require.NoError(t, err)
	assert.Len(t, result.TaskID, 32)
	assert.Equal(t, 1, mgr.Count())
	assert.DirExists(t, result.OutputDir)

	require.Eventually(t, func() bool {
		views := mgr.List()
		return len(views) == 1 && views[0].Status == StatusRecording
	}, time.Second, 5*time.Millisecond, "task never reached recording status")

	mgr.Stop(result.TaskID)
	assert.Equal(t, 0, mgr.Count())

	// Stopping an already-removed ID is a no-op, not an error.
	mgr.Stop(result.TaskID)
}

func TestManager_EmptyRoomIDRejected(t *testing.T) {
	mgr := NewManager(http.DefaultClient, &fakeResolver{}, statusbus.NewBus(), slog.Default(), t.TempDir())

	_, err := mgr.Start(context.Background(), StartRequest{Platform: "huya", RoomID: "   "})
	assert.ErrorIs(t, err, ErrEmptyRoomID)
	assert.Equal(t, 0, mgr.Count())
}

func TestManager_UnknownPlatformRejected(t *testing.T) {
	mgr := NewManager(http.DefaultClient, &fakeResolver{}, statusbus.NewBus(), slog.Default(), t.TempDir())

	_, err := mgr.Start(context.Background(), StartRequest{Platform: "twitch", RoomID: "room1"})
	assert.ErrorIs(t, err, resolver.ErrPlatformNotSupported)
}

func TestManager_ResolveFailureOnStartDoesNotTrackTask(t *testing.T) {
	mgr := NewManager(http.DefaultClient, &fakeResolver{err: errors.New("room offline")}, statusbus.NewBus(), slog.Default(), t.TempDir())

	_, err := mgr.Start(context.Background(), StartRequest{Platform: "huya", RoomID: "room1"})
	require.Error(t, err)
	assert.Equal(t, 0, mgr.Count())
}

func TestManager_DuplicatePrevention(t *testing.T) {
	upstream := infiniteFLVServer()
	defer upstream.Close()

	res := &fakeResolver{url: upstream.URL}
	mgr := NewManager(http.DefaultClient, res, statusbus.NewBus(), slog.Default(), t.TempDir())

	first, err := mgr.Start(context.Background(), StartRequest{Platform: "huya", RoomID: "dup"})
	require.NoError(t, err)
	defer mgr.Stop(first.TaskID)

	_, err = mgr.Start(context.Background(), StartRequest{Platform: "huya", RoomID: "dup"})
	require.Error(t, err)

	var dupErr *DuplicateRecordingError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, first.TaskID, dupErr.TaskID)
	assert.Equal(t, resolver.PlatformHuya, dupErr.Platform)
}

func TestManager_DifferentRoomsDoNotCollide(t *testing.T) {
	upstream := infiniteFLVServer()
	defer upstream.Close()

	res := &fakeResolver{url: upstream.URL}
	mgr := NewManager(http.DefaultClient, res, statusbus.NewBus(), slog.Default(), t.TempDir())

	first, err := mgr.Start(context.Background(), StartRequest{Platform: "huya", RoomID: "a"})
	require.NoError(t, err)
	second, err := mgr.Start(context.Background(), StartRequest{Platform: "huya", RoomID: "b"})
	require.NoError(t, err)

	assert.NotEqual(t, first.TaskID, second.TaskID)
	assert.Equal(t, 2, mgr.Count())

	mgr.StopAll()
	assert.Equal(t, 0, mgr.Count())
}

// TestManager_DuplicateCheckIgnoresTerminatedTask exercises the invariant
// that a task which retired on its own (stopped/failed) without an explicit
// Stop/StopAll still lingers in the map, but must not block a new recording
// for the same room.
func TestManager_DuplicateCheckIgnoresTerminatedTask(t *testing.T) {
	mgr := NewManager(http.DefaultClient, &fakeResolver{}, statusbus.NewBus(), slog.Default(), t.TempDir())

	stale := newTask(Descriptor{TaskID: "stale-task", Platform: resolver.PlatformHuya, RoomID: "room1"}, nowMs())
	stale.mutate(func(s *Snapshot) { s.Status = StatusStopped })
	close(stale.done)

	mgr.mu.Lock()
	mgr.tasks[stale.TaskID] = stale
	mgr.mu.Unlock()

	_, ok := mgr.activeTaskFor(resolver.PlatformHuya, "room1")
	assert.False(t, ok, "a terminated task must not count as active")
	assert.Equal(t, 1, mgr.Count(), "terminated task stays tracked until explicit Stop")
}

func TestManager_ActiveTaskBlocksDuplicate(t *testing.T) {
	mgr := NewManager(http.DefaultClient, &fakeResolver{}, statusbus.NewBus(), slog.Default(), t.TempDir())

	live := newTask(Descriptor{TaskID: "live-task", Platform: resolver.PlatformHuya, RoomID: "room1"}, nowMs())
	live.mutate(func(s *Snapshot) { s.Status = StatusRecording })
	defer close(live.done)

	mgr.mu.Lock()
	mgr.tasks[live.TaskID] = live
	mgr.mu.Unlock()

	id, ok := mgr.activeTaskFor(resolver.PlatformHuya, "room1")
	assert.True(t, ok)
	assert.Equal(t, "live-task", id)
}

func TestManager_List(t *testing.T) {
	mgr := NewManager(http.DefaultClient, &fakeResolver{}, statusbus.NewBus(), slog.Default(), t.TempDir())

	task := newTask(Descriptor{TaskID: "task-1", Platform: resolver.PlatformDouyu, RoomID: "room9"}, nowMs())
	defer close(task.done)

	mgr.mu.Lock()
	mgr.tasks[task.TaskID] = task
	mgr.mu.Unlock()

	views := mgr.List()
	require.Len(t, views, 1)
	assert.Equal(t, "task-1", views[0].TaskID)
	assert.Equal(t, resolver.PlatformDouyu, views[0].Platform)
	assert.Equal(t, StatusStarting, views[0].Status)
}

func TestManager_DefaultOutputDirFallsBackWhenUnset(t *testing.T) {
	mgr := NewManager(http.DefaultClient, &fakeResolver{}, statusbus.NewBus(), slog.Default(), "")
	assert.NotEmpty(t, mgr.DefaultOutputDir())
}
