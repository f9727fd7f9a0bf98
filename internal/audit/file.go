package audit

import (
	"os"
	"path/filepath"
)

// openAppend opens path for appending, creating parent directories and the
// file itself if needed, matching logger.py's setup_logging().
func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}
