// internal/logging/logging.go
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

type ctxKey struct{}

// Config selects output format ("json", "console" or "auto"), level
// ("debug", "info", "warn", "error") and an optional component field.
type Config struct {
	Format    string
	Level     string
	Component string
}

var (
	mu         sync.RWMutex
	baseWriter io.Writer = os.Stderr
	baseLogger           = zerolog.New(baseWriter).With().Timestamp().Logger()

	isTerminalFn = term.IsTerminal
)

// Init sets the global level and installs a logger built from cfg as both
// the package base logger and zerolog's global log.Logger.
func Init(cfg Config) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	lc := zerolog.New(selectWriter(cfg.Format, baseWriter)).With().Timestamp()
	if c := strings.TrimSpace(cfg.Component); c != "" {
		lc = lc.Str("component", c)
	}
	baseLogger = lc.Logger()
	log.Logger = baseLogger
	return baseLogger
}

// WithRequestID attaches requestID to ctx, generating one when blank.
func WithRequestID(ctx context.Context, requestID string) (context.Context, string) {
	if requestID = strings.TrimSpace(requestID); requestID == "" {
		requestID = uuid.NewString()
	}
	return context.WithValue(ctx, ctxKey{}, requestID), requestID
}

// RequestID returns the id set by WithRequestID, or ""
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// FromContext returns the base logger tagged with ctx's request id
func FromContext(ctx context.Context) zerolog.Logger {
	mu.RLock()
	logger := baseLogger
	mu.RUnlock()

	if id := RequestID(ctx); id != "" {
		return logger.With().Str("request_id", id).Logger()
	}
	return logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	fmt.Fprintf(os.Stderr, "logging: unknown level %q, using info\n", level)
	return zerolog.InfoLevel
}

// selectWriter wraps out in a console writer for "console", or for "auto"
// when out is a terminal. Anything else logs JSON.
func selectWriter(format string, out io.Writer) io.Writer {
	console := false
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console":
		console = true
	case "auto", "":
		file, ok := out.(*os.File)
		console = ok && isTerminalFn(int(file.Fd()))
	case "json":
	default:
		fmt.Fprintf(os.Stderr, "logging: unknown format %q, using json\n", format)
	}
	if console {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return out
}
