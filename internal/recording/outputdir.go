package recording

import (
	"os"
	"path/filepath"
	"runtime"
)

// defaultOutputDirName is the subdirectory created under the OS "Videos"
// directory (or its fallbacks) to hold recordings.
const defaultOutputDirName = "DTV"

// DefaultOutputDir resolves the recording output root: the OS-conventional
// "Videos" directory joined with DTV, falling back to <cwd>/recordings and
// finally to ./recordings if the working directory cannot be determined.
//
// No example in this corpus ships a cross-platform "known folders" lookup
// (that is normally an OS-integration concern the GUI host owns, not a
// streaming/recording library), so this is a small stdlib fallback chain
// rather than a wired third-party dependency; see DESIGN.md.
func DefaultOutputDir() string {
	if videos, ok := videosDir(); ok {
		return filepath.Join(videos, defaultOutputDirName)
	}
	if cwd, err := os.Getwd(); err == nil {
		return filepath.Join(cwd, "recordings")
	}
	return "./recordings"
}

// videosDir returns the platform's conventional user "Videos" directory.
func videosDir() (string, bool) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", false
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "Videos"), true
	case "darwin":
		return filepath.Join(home, "Movies"), true
	default:
		return filepath.Join(home, "Videos"), true
	}
}
