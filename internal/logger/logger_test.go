package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	loc := time.FixedZone("WIB", 7*3600)
	log := New(&buf, loc, "info")

	log.Debug("hidden")
	log.Info("sweep_done", "component", "sweeper", "removed", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "sweep_done", entry["msg"])
	assert.Equal(t, "sweeper", entry["component"])
	assert.Equal(t, float64(3), entry["removed"])

	ts, ok := entry["ts"].(string)
	require.True(t, ok)
	assert.Contains(t, ts, "+07:00")
	_, hasTime := entry["time"]
	assert.False(t, hasTime)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestTokenHint(t *testing.T) {
	assert.Equal(t, "abc", TokenHint("abc"))
	assert.Equal(t, "abcdef…", TokenHint("abcdefghijkl"))
}
