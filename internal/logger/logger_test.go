package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-app/verdant/internal/logger"
)

func TestSlogLoggerLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		level     logger.LogLevel
		emit      func(l logger.Logger)
		wantEmpty bool
	}{
		{"debug suppressed at info", logger.LogLevelInfo, func(l logger.Logger) { l.Debug("hidden") }, true},
		{"info emitted at info", logger.LogLevelInfo, func(l logger.Logger) { l.Info("shown") }, false},
		{"trace emitted at trace", logger.LogLevelTrace, func(l logger.Logger) { l.Trace("shown") }, false},
		{"warn suppressed at error", logger.LogLevelError, func(l logger.Logger) { l.Warn("hidden") }, true},
		{"explicit level", logger.LogLevelDebug, func(l logger.Logger) { l.Log(logger.LogLevelWarn, "shown") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf := &bytes.Buffer{}
			tt.emit(logger.NewSlogLogger(buf, tt.level, time.UTC))
			if tt.wantEmpty {
				assert.Empty(t, buf.String())
			} else {
				assert.NotEmpty(t, buf.String())
			}
		})
	}
}

func TestModuleAndFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.NewSlogLogger(buf, logger.LogLevelDebug, time.UTC).
		Module("garden").
		Module("store").
		With(logger.String("owner_id", "u1"))

	log.Info("snapshot published", logger.Int("plants", 3), logger.Float64("ratio", 1.23456))

	out := buf.String()
	assert.Contains(t, out, "module=garden.store")
	assert.Contains(t, out, "owner_id=u1")
	assert.Contains(t, out, "plants=3")
	assert.Contains(t, out, "ratio=1.235")
}

func TestTraceLevelName(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	logger.NewSlogLogger(buf, logger.LogLevelTrace, time.UTC).Trace("deep")
	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestWithContextAddsTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.NewSlogLogger(buf, logger.LogLevelInfo, time.UTC)

	ctx := logger.WithTraceID(context.Background(), "req-42")
	log.WithContext(ctx).Info("handled")
	log.WithContext(context.Background()).Info("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "trace_id=req-42")
	assert.NotContains(t, lines[1], "trace_id")
}

func TestErrorField(t *testing.T) {
	t.Parallel()

	assert.Nil(t, logger.Error(nil).Value)
	f := logger.Error(os.ErrNotExist)
	assert.Equal(t, "error", f.Key)
	assert.Equal(t, os.ErrNotExist.Error(), f.Value)
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "verdant.log")
	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &logger.ConsoleOutput{Enabled: false},
		FileOutput:   &logger.FileOutput{Enabled: true, Path: path},
		ModuleLevels: map[string]string{"handles": "warn"},
	})
	require.NoError(t, err)

	cl.Module("garden").Debug("recomputed", logger.String("plant_id", "p1"))
	cl.Module("handles").Info("suppressed by module level")
	require.NoError(t, cl.Flush())
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "recomputed", rec["msg"])
	assert.Equal(t, "garden", rec["module"])
	assert.Equal(t, "p1", rec["plant_id"])
}

func TestCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := logger.NewCentralLogger(&logger.LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = logger.NewCentralLogger(nil)
	require.Error(t, err)
}
