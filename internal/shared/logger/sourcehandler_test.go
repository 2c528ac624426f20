package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLog(level slog.Level, sourceLevels ...slog.Level) string {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, &slog.HandlerOptions{AddSource: false})
	log := slog.New(NewConditionalSourceHandler(base, sourceLevels...))
	log.Log(nil, level, "probe")
	return buf.String()
}

func TestSourceHandlerSelectedLevels(t *testing.T) {
	warnAndError := []slog.Level{slog.LevelWarn, slog.LevelError}

	assert.False(t, strings.Contains(captureLog(slog.LevelInfo, warnAndError...), "source="))
	assert.False(t, strings.Contains(captureLog(slog.LevelDebug, warnAndError...), "source="))
	assert.True(t, strings.Contains(captureLog(slog.LevelWarn, warnAndError...), "source="))
	assert.True(t, strings.Contains(captureLog(slog.LevelError, warnAndError...), "source="))
}

func TestSourceHandlerKeepsAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, &slog.HandlerOptions{AddSource: false})
	log := slog.New(NewConditionalSourceHandler(base, slog.LevelError)).
		With("request_id", "42").
		WithGroup("req")
	log.Info("probe", "path", "/api/nodes")

	out := buf.String()
	assert.Contains(t, out, "request_id=42")
	assert.Contains(t, out, "path=/api/nodes")
	assert.NotContains(t, out, "source=")
}

func TestSourceHandlerEnabledDelegates(t *testing.T) {
	base := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo})
	h := NewConditionalSourceHandler(base, slog.LevelError)

	assert.True(t, h.Enabled(nil, slog.LevelInfo))
	assert.False(t, h.Enabled(nil, slog.LevelDebug))
}
