package infra

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger aliases zerolog.Logger so packages can accept a logger without
// importing zerolog themselves.
type Logger = zerolog.Logger

// NewLogger builds the process logger: debug level with a console writer in
// development, JSON at info level everywhere else.
func NewLogger(appEnv string) zerolog.Logger {
	return newLogger(appEnv, os.Stdout)
}

func newLogger(appEnv string, out io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", "retouch").
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	return logger
}

// Component returns a child logger tagged with the component name.
func Component(l Logger, name string) Logger {
	return l.With().Str("component", name).Logger()
}

// DiscardLogger returns a logger that drops everything. Clients fall back to
// it when none is injected.
func DiscardLogger() *Logger {
	l := zerolog.New(io.Discard)
	return &l
}
