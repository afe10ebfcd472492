package aegobserve

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"info", slog.LevelInfo},
		{"未知", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseLevel(tc.in))
		})
	}
}

func TestInitLoggerTo_SetLevel(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	InitLoggerTo(&buf, "WARN")

	slog.Info("不应输出")
	assert.Zero(t, buf.Len(), "WARN 级别下 INFO 日志不应输出")

	slog.Warn("应输出", "k", "v")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "应输出", entry["msg"])
	assert.Equal(t, "v", entry["k"])

	buf.Reset()
	SetLevel("DEBUG")
	assert.Equal(t, slog.LevelDebug, Level())
	slog.Debug("调试日志")
	assert.Contains(t, buf.String(), "调试日志")
}
