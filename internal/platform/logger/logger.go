package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger. Structured text output to stdout keeps
// parity with the log collectors the fleet runs behind.
func New() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
