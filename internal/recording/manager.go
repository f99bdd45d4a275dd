package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jmylchreest/dtvproxy/internal/resolver"
	"github.com/jmylchreest/dtvproxy/internal/statusbus"
)

// ErrEmptyRoomID is returned by Start when room_id is blank.
var ErrEmptyRoomID = errors.New("recording: room_id must not be empty")

// DuplicateRecordingError is returned by Start when a (platform, room) pair
// already has an active task.
type DuplicateRecordingError struct {
	Platform resolver.Platform
	RoomID   string
	TaskID   string
}

func (e *DuplicateRecordingError) Error() string {
	return fmt.Sprintf("Recording already running for %s:%s (task_id=%s)", e.Platform, e.RoomID, e.TaskID)
}

// StartRequest is the payload for Manager.Start.
type StartRequest struct {
	Platform       string
	RoomID         string
	Quality        string
	SegmentMinutes int
	OutputDir      string
	Cookie         string
}

// StartResult is returned by a successful Manager.Start.
type StartResult struct {
	TaskID      string
	StreamURL   string
	OutputDir   string
	StartedAtMs int64
}

// Manager maps task IDs to running recording workers, preventing duplicate
// (platform, room) recordings and fanning out stop signals.
//
// A task is not removed from tasks merely because its worker retired
// (status stopped/failed) — per the data model, only an explicit Stop or
// StopAll removes it. Duplicate prevention therefore checks the status of
// any existing same-room task rather than its mere presence in the map.
type Manager struct {
	client        *http.Client
	resolver      Resolver
	bus           *statusbus.Bus
	logger        *slog.Logger
	defaultOutDir string

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewManager constructs a Manager. client is the shared follow-redirect
// HTTP client used by every worker; res resolves platform stream URLs
// (typically the package-level resolver.Default dispatcher); bus is the
// status event emitter; defaultOutputDir overrides recording.DefaultOutputDir
// when non-empty.
func NewManager(client *http.Client, res Resolver, bus *statusbus.Bus, logger *slog.Logger, defaultOutputDir string) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultOutputDir == "" {
		defaultOutputDir = DefaultOutputDir()
	}
	return &Manager{
		client:        client,
		resolver:      res,
		bus:           bus,
		logger:        logger,
		defaultOutDir: defaultOutputDir,
		tasks:         make(map[string]*Task),
	}
}

// activeTaskFor returns the task ID of a non-terminal task already
// recording (platform, roomID), if any.
func (m *Manager) activeTaskFor(platform resolver.Platform, roomID string) (string, bool) {
	for id, t := range m.tasks {
		if t.Platform == platform && t.RoomID == roomID && t.snapshotClone().Status.active() {
			return id, true
		}
	}
	return "", false
}

// DefaultOutputDir exposes the resolved output root for display to the UI.
func (m *Manager) DefaultOutputDir() string {
	return m.defaultOutDir
}

// newTaskID mints a 32-character hex task ID from a v4 UUID.
func newTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Start validates req, rejects a duplicate (platform, room) recording,
// resolves the initial stream URL, and spawns a worker goroutine.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	platform, err := resolver.NormalizePlatform(req.Platform)
	if err != nil {
		return nil, err
	}
	roomID := strings.TrimSpace(req.RoomID)
	if roomID == "" {
		return nil, ErrEmptyRoomID
	}
	quality := resolver.NormalizeQuality(req.Quality)
	segmentMinutes := clampSegmentMinutes(req.SegmentMinutes)

	m.mu.Lock()
	if existingID, ok := m.activeTaskFor(platform, roomID); ok {
		m.mu.Unlock()
		return nil, &DuplicateRecordingError{Platform: platform, RoomID: roomID, TaskID: existingID}
	}
	m.mu.Unlock()

	outputRoot := strings.TrimSpace(req.OutputDir)
	if outputRoot == "" {
		outputRoot = m.defaultOutDir
	}
	outputDir := segmentDir(outputRoot, string(platform), roomID)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	streamURL, err := m.resolver.Resolve(ctx, platform, roomID, string(quality), req.Cookie)
	if err != nil {
		return nil, fmt.Errorf("resolving stream URL: %w", err)
	}

	taskID := newTaskID()
	startedAt := nowMs()

	desc := Descriptor{
		TaskID:         taskID,
		Platform:       platform,
		RoomID:         roomID,
		Quality:        quality,
		SegmentMinutes: segmentMinutes,
		OutputDir:      outputDir,
		Cookie:         req.Cookie,
	}
	task := newTask(desc, startedAt)

	m.mu.Lock()
	// Re-check under lock: a concurrent Start for the same room could have
	// raced past the early check above while we resolved/created dirs.
	if existingID, ok := m.activeTaskFor(platform, roomID); ok {
		m.mu.Unlock()
		return nil, &DuplicateRecordingError{Platform: platform, RoomID: roomID, TaskID: existingID}
	}
	m.tasks[taskID] = task
	m.mu.Unlock()

	w := newWorker(task, m.client, m.resolver, m.bus, m.logger, streamURL, segmentMinutes)
	w.publish(task.mutate(func(s *Snapshot) {
		s.Status = StatusStarting
		s.UpdatedAt = nowMs()
	}))

	go w.run(context.Background())

	m.logger.Info("recording started", "task_id", taskID, "platform", platform, "room_id", roomID, "output_dir", outputDir)

	return &StartResult{
		TaskID:      taskID,
		StreamURL:   streamURL,
		OutputDir:   outputDir,
		StartedAtMs: startedAt,
	}, nil
}

// Stop removes task_id from the map (freeing its room for a new recording),
// signals the worker to stop, and waits for it to exit. An unknown ID is a
// no-op.
func (m *Manager) Stop(taskID string) {
	task := m.remove(taskID)
	if task == nil {
		return
	}
	task.requestStop()
	task.awaitDone()
	m.logger.Info("recording stopped", "task_id", taskID)
}

// StopAll drains the task map and stops every task, sequentially.
func (m *Manager) StopAll() {
	m.mu.Lock()
	tasks := m.tasks
	m.tasks = make(map[string]*Task)
	m.mu.Unlock()

	for _, task := range tasks {
		task.requestStop()
	}
	for _, task := range tasks {
		task.awaitDone()
	}
}

// remove deletes taskID from the map and returns the removed Task, if any.
func (m *Manager) remove(taskID string) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return nil
	}
	delete(m.tasks, taskID)
	return task
}

// TaskView is a read-only snapshot of one tracked task, as returned by List.
type TaskView struct {
	Descriptor
	Snapshot
}

// List returns a point-in-time clone of every tracked task.
func (m *Manager) List() []TaskView {
	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, TaskView{Descriptor: t.Descriptor, Snapshot: t.snapshotClone()})
	}
	return views
}

// Count returns the number of currently tracked tasks.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}
