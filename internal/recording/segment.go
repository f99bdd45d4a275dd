package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// segmentTimestampFormat yields the YYYYMMDD_HHMMSS token embedded in a
// segment filename.
const segmentTimestampFormat = "20060102_150405"

// segmentDir returns <root>/<platform>/<sanitized_room>. It does not create
// the directory.
func segmentDir(outputRoot string, platform, roomID string) string {
	return filepath.Join(outputRoot, platform, SanitizeToken(roomID))
}

// segmentFilename builds <platform_lower>_<sanitized_room>_<YYYYMMDD_HHMMSS>_part<NNN>.flv.
func segmentFilename(platform, roomID string, index int, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s_part%03d.flv",
		strings.ToLower(platform), SanitizeToken(roomID), now.Format(segmentTimestampFormat), index)
}

// segmentWriter owns the currently open segment file for one recording
// task. It is used only by the worker goroutine; no locking is needed
// because exactly one goroutine ever touches it (see ordering guarantees).
type segmentWriter struct {
	dir      string
	platform string
	roomID   string

	file    *os.File
	path    string
	started time.Time
}

func newSegmentWriter(dir, platform, roomID string) *segmentWriter {
	return &segmentWriter{dir: dir, platform: platform, roomID: roomID}
}

// open creates and opens the next segment file for index. It does not close
// a previously open file; callers call flushAndClose first.
func (w *segmentWriter) open(index int) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating segment directory: %w", err)
	}
	now := time.Now()
	path := filepath.Join(w.dir, segmentFilename(w.platform, w.roomID, index, now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating segment file: %w", err)
	}
	w.file = f
	w.path = path
	w.started = now
	return nil
}

// write appends chunk to the currently open segment file.
func (w *segmentWriter) write(chunk []byte) (int, error) {
	return w.file.Write(chunk)
}

// elapsed returns how long the current segment has been open.
func (w *segmentWriter) elapsed() time.Duration {
	return time.Since(w.started)
}

// flushAndClose flushes the current segment to disk and closes the handle.
// A no-op if nothing is open.
func (w *segmentWriter) flushAndClose() error {
	if w.file == nil {
		return nil
	}
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.file = nil
	if syncErr != nil {
		return fmt.Errorf("flushing segment file: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing segment file: %w", closeErr)
	}
	return nil
}
