package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type loggerKey struct{}

// New builds the process logger. Production writes JSON lines; other
// environments get the console writer. An unknown level falls back to info.
func New(appName, env, level string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if env != "production" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339Nano}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(lvl).With().
		Timestamp().
		Str("app", appName).
		Str("env", env).
		Logger()
}

// FromContext returns the logger stored in ctx, or a disabled logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
			return &logger
		}
	}
	nop := zerolog.Nop()
	return &nop
}

func IntoContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// ForSession tags logger with a session PIN.
func ForSession(logger zerolog.Logger, pin string) *zerolog.Logger {
	l := logger.With().Str("pin", pin).Logger()
	return &l
}

// ForConnection tags logger with the socket's session, role and user.
func ForConnection(logger zerolog.Logger, pin, role, userID string) *zerolog.Logger {
	l := logger.With().
		Str("pin", pin).
		Str("role", role).
		Str("user_id", userID).
		Logger()
	return &l
}
