package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		err  bool
	}{
		{in: "debug", want: LogLevelDebug},
		{in: "INFO", want: LogLevelInfo},
		{in: "", want: LogLevelInfo},
		{in: "warning", want: LogLevelWarn},
		{in: "error", want: LogLevelError},
		{in: "verbose", want: LogLevelInfo, err: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "WARN", LogLevelWarn.String())
}

func TestStructuredLogger_ContextAndLevel(t *testing.T) {
	var buf bytes.Buffer

	base := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf})
	l := base.WithComponent("runner").WithRun("run-1", "/c1").WithContext("tenant", "acme")

	l.Debug("hidden")
	l.Info("call.success", "policy", "adder", "results", 1)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)

	entry := lines[0]
	assert.Equal(t, "call.success", entry["msg"])
	assert.Equal(t, "runner", entry["component"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "/c1", entry["scope"])
	assert.Equal(t, "acme", entry["tenant"])
	assert.Equal(t, "adder", entry["policy"])
	assert.Equal(t, float64(1), entry["results"])

	// Derived loggers do not leak context into their parent.
	buf.Reset()
	base.Info("plain")
	lines = decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "tenant")
}

func TestStructuredLogger_Helpers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Output: &buf})

	l.LogCall("adder", "c1", time.Millisecond, nil)
	l.LogCall("adder", "c2", time.Millisecond, errors.New("boom"))
	l.LogRun("orchestrator", "suspended", 4, time.Second, nil)
	l.LogModelCall("gpt-4o", 120, time.Second, nil)
	l.ErrorWithStack(errors.New("bad"), "crash")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 5)

	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "ERROR", lines[1]["level"])
	assert.Equal(t, "boom", lines[1]["error"])
	assert.Equal(t, "suspended", lines[2]["status"])
	assert.Equal(t, "gpt-4o", lines[3]["model"])
	assert.Contains(t, lines[4]["stack_trace"], "goroutine")
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	l.Debug("d", "k", "v")
	l.Warn("w")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "v", lines[0]["k"])
	assert.Equal(t, "WARN", lines[1]["level"])
}

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapAdapter(zap.New(core))

	l.Info("call.success", "policy", "adder")
	l.Error("call.error", "error", "boom")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "call.success", entries[0].Message)
	assert.Equal(t, "adder", entries[0].ContextMap()["policy"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestNoOpLogger(t *testing.T) {
	var l Logger = NoOpLogger{}
	assert.NotPanics(t, func() {
		l.Debug("x")
		l.Info("x")
		l.Warn("x")
		l.Error("x")
	})
}
