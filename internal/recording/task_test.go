package recording

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jmylchreest/dtvproxy/internal/resolver"
)

func TestStatus_Active(t *testing.T) {
	assert.True(t, StatusStarting.active())
	assert.True(t, StatusRecording.active())
	assert.True(t, StatusReconnecting.active())
	assert.False(t, StatusStopped.active())
	assert.False(t, StatusFailed.active())
}

func TestTask_StopIsIdempotent(t *testing.T) {
	task := newTask(Descriptor{TaskID: "t1", Platform: resolver.PlatformHuya, RoomID: "r1"}, 1000)
	assert.False(t, task.stopRequested())

	task.requestStop()
	task.requestStop() // must not panic on double close
	assert.True(t, task.stopRequested())
}

func TestTask_MutateAndSnapshotClone(t *testing.T) {
	task := newTask(Descriptor{TaskID: "t1", Platform: resolver.PlatformHuya, RoomID: "r1"}, 1000)

	task.mutate(func(s *Snapshot) {
		s.Status = StatusRecording
		s.BytesWritten = 42
	})

	snap := task.snapshotClone()
	assert.Equal(t, StatusRecording, snap.Status)
	assert.Equal(t, uint64(42), snap.BytesWritten)

	// Mutating the returned clone must not affect the task's internal state.
	snap.BytesWritten = 999
	assert.Equal(t, uint64(42), task.snapshotClone().BytesWritten)
}

func TestAddSaturating(t *testing.T) {
	assert.Equal(t, uint64(30), addSaturating(10, 20))
	assert.Equal(t, ^uint64(0), addSaturating(^uint64(0), 1))
	assert.Equal(t, ^uint64(0), addSaturating(^uint64(0)-5, 5))
}
