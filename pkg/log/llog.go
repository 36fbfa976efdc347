package log

import (
	"fmt"
	"log/slog"

	"github.com/levenlabs/go-llog"
)

// ConfigureFromFlags applies the level lflag set on llog to the slog default
// logger and to the package default. It must run after lflag.Configure.
func ConfigureFromFlags() (slog.Level, error) {
	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		return 0, fmt.Errorf("unknown log level: %s", llog.GetLevel().String())
	}
	SetDefaultLogLevel(level)
	slog.SetDefault(defaultLogger)
	return level, nil
}
