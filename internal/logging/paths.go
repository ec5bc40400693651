package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.rehydrate/logs/).
// Falls back to the temp directory if home is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".rehydrate", "logs")
	}
	return filepath.Join(home, ".rehydrate", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "rehydrate.log")
}
