package util

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger builds the root logger used across the chat core. Level parsing
// falls back to info so a typo in configuration never silences logs.
func NewLogger(level string, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// LogError logs an error with component and operation context.
// This helper standardizes error logging across the codebase.
//
// Example:
//
//	util.LogError(logger, "realtime", "dial realtime channel", err, map[string]string{"url": url})
func LogError(logger zerolog.Logger, component, operation string, err error, fields ...map[string]string) {
	ev := logger.Error().Err(err).Str("component", component)
	for _, m := range fields {
		for k, v := range m {
			ev = ev.Str(k, v)
		}
	}
	ev.Msg(fmt.Sprintf("Failed to %s", operation))
}
