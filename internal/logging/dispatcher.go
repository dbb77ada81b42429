package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewActionLogger builds the zerolog logger used for viewer action traces.
// Output is console formatted without colors. Records past a burst of 20 per
// second are sampled 1 in 50.
func NewActionLogger(out io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	w := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("component", "actions").Logger().
		Sample(&zerolog.BurstSampler{
			Burst:       20,
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: 50},
		})
}

// DispatcherLogger adapts zerolog.Logger to the dispatcher.Logger interface.
type DispatcherLogger struct {
	logger zerolog.Logger
}

func NewDispatcherLogger(logger zerolog.Logger) *DispatcherLogger {
	return &DispatcherLogger{logger: logger}
}

func (l *DispatcherLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(toFields(keysAndValues)).Msg(msg)
}

func (l *DispatcherLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info().Fields(toFields(keysAndValues)).Msg(msg)
}

func (l *DispatcherLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error().Fields(toFields(keysAndValues)).Msg(msg)
}

// toFields drops pairs whose key is not a string.
func toFields(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return fields
}
