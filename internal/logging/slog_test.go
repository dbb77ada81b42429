package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func swapStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = orig })
	return &buf
}

func TestSetup_FileOnly_NoStdout(t *testing.T) {
	console := swapStdout(t)

	var file bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{File: &file, Level: "info"})
	m.Logger().Info("hello file")

	assert.Contains(t, file.String(), "hello file")
	assert.Empty(t, console.String())
}

func TestSetup_NoFile_WritesToStdout(t *testing.T) {
	console := swapStdout(t)

	m := NewSlogManager()
	m.Setup(Options{Level: "info"})
	m.Logger().Info("hello console")

	assert.Contains(t, console.String(), "hello console")
}

func TestSetup_Levels(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{File: &buf, Level: "info"})

	m.Logger().Debug("filtered")
	m.Logger().Info("kept")
	assert.NotContains(t, buf.String(), "filtered")
	assert.Contains(t, buf.String(), "kept")

	m.SetLevel("debug")
	m.Logger().Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestSetup_ReplacesLogger(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	m := NewSlogManager()

	m.Setup(Options{File: &buf1, Level: "info"})
	m.Logger().Info("first")

	m.Setup(Options{File: &buf2, Level: "info"})
	m.Logger().Info("second")

	assert.Contains(t, buf1.String(), "first")
	assert.NotContains(t, buf1.String(), "second")
	assert.Contains(t, buf2.String(), "second")
}

func TestSetup_GELFSinkReceivesJSON(t *testing.T) {
	var file, gelf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{File: &file, GELF: &gelf, Level: "info"})
	m.Logger().Info("viewer connected", "addr", "10.0.0.2:5000")

	lines := strings.Split(strings.TrimSpace(gelf.String()), "\n")
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "viewer connected", rec["msg"])
	assert.Equal(t, "10.0.0.2:5000", rec["addr"])
}

func TestSetup_ContextProvider(t *testing.T) {
	var buf bytes.Buffer
	tick := 0
	m := NewSlogManager()
	m.Setup(Options{File: &buf, Level: "info", Context: func() []slog.Attr {
		return []slog.Attr{slog.Int("tick", tick)}
	}})

	tick = 42
	m.Logger().Info("frame")
	assert.Contains(t, buf.String(), "tick=42")
}

func TestSetup_WithOTelProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()

	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{File: &buf, Level: "info", Provider: provider})

	m.Logger().Info("otel integrated")
	assert.Contains(t, buf.String(), "otel integrated")
	assert.NoError(t, m.Flush(context.Background()))
}

func TestLogger_DefaultBeforeSetup(t *testing.T) {
	assert.Equal(t, slog.Default(), NewSlogManager().Logger())
}

func TestFlush_NilProvider(t *testing.T) {
	assert.NoError(t, NewSlogManager().Flush(context.Background()))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"TRACE", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestMultiHandler_FansOut(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h1 := slog.NewTextHandler(&buf1, &slog.HandlerOptions{Level: slog.LevelInfo})
	h2 := slog.NewTextHandler(&buf2, &slog.HandlerOptions{Level: slog.LevelWarn})

	logger := slog.New(NewMultiHandler(h1, nil, h2))
	logger.Info("info only")
	logger.Warn("both")

	assert.Contains(t, buf1.String(), "info only")
	assert.Contains(t, buf1.String(), "both")
	assert.NotContains(t, buf2.String(), "info only")
	assert.Contains(t, buf2.String(), "both")
}

func TestMultiHandler_Enabled(t *testing.T) {
	info := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo})
	debug := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug})

	assert.False(t, NewMultiHandler(info).Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, NewMultiHandler(info, debug).Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, NewMultiHandler().Enabled(context.Background(), slog.LevelError))
}

func TestMultiHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	multi := NewMultiHandler(slog.NewTextHandler(&buf, nil))

	slog.New(multi.WithAttrs([]slog.Attr{slog.String("component", "stream")})).Info("attrs")
	slog.New(multi.WithGroup("rig")).Info("grouped", "name", "hero")

	assert.Contains(t, buf.String(), "component=stream")
	assert.Contains(t, buf.String(), "rig.name=hero")
	assert.Same(t, multi, multi.WithGroup(""))
}

type errorHandler struct {
	slog.Handler
}

func (h *errorHandler) Handle(context.Context, slog.Record) error { return errors.New("handler error") }

func (h *errorHandler) Enabled(context.Context, slog.Level) bool { return true }

func TestMultiHandler_HandleError(t *testing.T) {
	var buf bytes.Buffer
	spy := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	multi := NewMultiHandler(&errorHandler{}, spy)
	r := slog.NewRecord(time.Time{}, slog.LevelInfo, "should reach spy", 0)
	err := multi.Handle(context.Background(), r)

	assert.EqualError(t, err, "handler error")
	assert.Contains(t, buf.String(), "should reach spy")
}

func TestDialGELF_EmptyAddress(t *testing.T) {
	w, err := DialGELF("")
	assert.NoError(t, err)
	assert.Nil(t, w)
}

func TestDialGELF_UDP(t *testing.T) {
	w, err := DialGELF("127.0.0.1:12201")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.NoError(t, w.Close())
}
