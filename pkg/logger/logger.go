// Package logger wraps zerolog with the component+fields calling
// convention used throughout the codebase: Info/Warn/Error/Debug for plain
// messages, and the "CF" variants for a component tag plus a field map.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log zerolog.Logger
)

func init() {
	Configure(os.Getenv("ZOROX_ENV"), os.Getenv("ZOROX_LOG_LEVEL"))
}

// Configure (re)initializes the package-level logger. env "dev" selects a
// human-readable console writer; anything else (including empty) emits
// structured JSON to stdout.
func Configure(env, level string) {
	var w io.Writer = os.Stdout
	if strings.EqualFold(env, "dev") {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	mu.Lock()
	log = zerolog.New(w).With().Timestamp().Logger().Level(lvl)
	mu.Unlock()
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func Debug(msg string) { current().Debug().Msg(msg) }
func Info(msg string)  { current().Info().Msg(msg) }
func Warn(msg string)  { current().Warn().Msg(msg) }
func Error(msg string) { current().Error().Msg(msg) }

// DebugC/InfoC/WarnC/ErrorC tag a log line with a component name.
func DebugC(component, msg string) { current().Debug().Str("component", component).Msg(msg) }
func InfoC(component, msg string)  { current().Info().Str("component", component).Msg(msg) }
func WarnC(component, msg string)  { current().Warn().Str("component", component).Msg(msg) }
func ErrorC(component, msg string) { current().Error().Str("component", component).Msg(msg) }

// DebugCF/InfoCF/WarnCF/ErrorCF tag a log line with a component name and a
// set of structured fields. Fields are applied in map order, which is fine
// since zerolog sorts by key internally for the JSON writer.
func DebugCF(component, msg string, fields map[string]any) {
	withFields(current().Debug(), fields).Str("component", component).Msg(msg)
}

func InfoCF(component, msg string, fields map[string]any) {
	withFields(current().Info(), fields).Str("component", component).Msg(msg)
}

func WarnCF(component, msg string, fields map[string]any) {
	withFields(current().Warn(), fields).Str("component", component).Msg(msg)
}

func ErrorCF(component, msg string, fields map[string]any) {
	withFields(current().Error(), fields).Str("component", component).Msg(msg)
}

func withFields(e *zerolog.Event, fields map[string]any) *zerolog.Event {
	if len(fields) == 0 {
		return e
	}
	return e.Fields(fields)
}
