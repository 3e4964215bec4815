package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "logs", "structgate.log")
	logger, cleanup, err := Setup(&buf, slog.LevelInfo, logFile)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("scan complete", "flags", 3)
	cleanup()

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "scan complete", rec["msg"])
	assert.EqualValues(t, 3, rec["flags"])

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, buf.String(), string(data))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
