package ffmpeg

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ErrNotFound is returned when no ffprobe binary can be located.
var ErrNotFound = errors.New("ffprobe not found")

// Ensure returns the ffprobe binary to use. An explicitly configured path
// wins; otherwise PATH is searched, then baseDir/tools/ffmpeg.
func Ensure(baseDir, configured string) (string, error) {
	if configured != "" {
		if fileExists(configured) {
			return configured, nil
		}
		if p, err := exec.LookPath(configured); err == nil {
			return p, nil
		}
		return "", ErrNotFound
	}

	if p, err := exec.LookPath(exe("ffprobe")); err == nil {
		return p, nil
	}
	if baseDir != "" {
		local := filepath.Join(baseDir, "tools", "ffmpeg", exe("ffprobe"))
		if fileExists(local) {
			return local, nil
		}
	}
	return "", ErrNotFound
}

func exe(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
