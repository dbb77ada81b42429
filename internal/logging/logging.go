// Package logging builds the server's slog logger with stdout or file, GELF
// and OTel sinks, plus a zerolog adapter for action traces.
package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath returns <logsDir>/<name>.<YYYYMMDD_HHMMSS>.log.
func LogFilePath(logsDir, name string, started time.Time) string {
	return filepath.Join(logsDir, fmt.Sprintf("%s.%s.log", name, started.Format("20060102_150405")))
}
