package recording

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeToken(t *testing.T) {
	assert.Equal(t, "abc123", SanitizeToken("abc123"))
	assert.Equal(t, "room_name", SanitizeToken("room name"))
	assert.Equal(t, "a_b_c", SanitizeToken("a/b\\c"))
	assert.Equal(t, "unknown", SanitizeToken("***"))
	assert.Equal(t, "unknown", SanitizeToken(""))
	assert.Equal(t, "trimmed", SanitizeToken("/trimmed/"))
}

func TestSanitizeToken_Idempotent(t *testing.T) {
	for _, in := range []string{"room name!!", "主播房间", "already-safe_123", ""} {
		once := SanitizeToken(in)
		twice := SanitizeToken(once)
		assert.Equal(t, once, twice, "not idempotent for %q", in)
	}
}

func TestSegmentFilename(t *testing.T) {
	ts := time.Date(2026, 7, 31, 13, 4, 5, 0, time.UTC)
	name := segmentFilename("HUYA", "my room", 2, ts)
	assert.Equal(t, "huya_my_room_20260731_130405_part002.flv", name)
}

func TestSegmentDir(t *testing.T) {
	dir := segmentDir("/root/videos", "HUYA", "my room")
	assert.Equal(t, filepath.Join("/root/videos", "HUYA", "my_room"), dir)
}

func TestSegmentWriter_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	w := newSegmentWriter(dir, "HUYA", "room1")

	require.NoError(t, w.open(0))
	firstPath := w.path
	assert.FileExists(t, firstPath)

	n, err := w.write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.True(t, w.elapsed() >= 0)

	require.NoError(t, w.flushAndClose())

	data, err := os.ReadFile(firstPath)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// flushAndClose is a no-op once nothing is open.
	require.NoError(t, w.flushAndClose())

	require.NoError(t, w.open(1))
	assert.NotEqual(t, firstPath, w.path)
	require.NoError(t, w.flushAndClose())
}
