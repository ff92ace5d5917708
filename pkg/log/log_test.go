package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"info", InfoLevel, false},
		{"warn", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"", InfoLevel, false},
		{"verbose", "", true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestInitJSONWithFile(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "logs", "run.log")

	closer, err := Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf, File: logFile})
	require.NoError(t, err)

	logger := WithOrderID(WithRunID(WithComponent("reconciler"), "run-1"), "100001234")
	logger.Info().Msg("dropped by level")
	logger.Warn().Msg("kept")
	require.NoError(t, closer.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "reconciler", entry["component"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "100001234", entry["order_id"])

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"kept"`)
}

func TestInitConsole(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	closer, err := Init(Config{Level: InfoLevel, Output: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger := WithComponent("cli")
	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "component=")
}
