package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// ParseLevel maps a configured level name to a slog level. Unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether name is one of the accepted level names.
func ValidLevel(name string) bool {
	switch strings.ToLower(name) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// New builds the process logger: JSON on w, wrapped by the ContextHandler.
func New(w io.Writer, level string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl <= slog.LevelDebug,
	}
	return slog.New(NewContextHandler(slog.NewJSONHandler(w, opts)))
}

// RotationPeriod converts a rotation setting ("midnight", "hourly", or a Go duration) to a period.
func RotationPeriod(rotate string) (time.Duration, error) {
	switch strings.ToLower(rotate) {
	case "", "midnight", "daily":
		return 24 * time.Hour, nil
	case "hourly":
		return time.Hour, nil
	}
	d, err := time.ParseDuration(rotate)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid log rotation %q", rotate)
	}
	return d, nil
}

// NewRotatingFile opens a rotating log file and returns a logger writing JSON to it,
// along with the closer that releases the file.
func NewRotatingFile(path, rotate, level string) (*slog.Logger, io.Closer, error) {
	period, err := RotationPeriod(rotate)
	if err != nil {
		return nil, nil, err
	}
	w, err := rotatelogs.New(
		path+".%Y%m%d%H%M",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithRotationTime(period),
		rotatelogs.WithMaxAge(7*24*time.Hour),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("open rotating log %s: %w", path, err)
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(NewContextHandler(handler)), w, nil
}
