package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geanlabs/beaconchain/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_JSONToFile(t *testing.T) {
	var stdout bytes.Buffer
	file := filepath.Join(t.TempDir(), "beacon.log")

	logger, closer := newLogger(config.LogConfig{Level: "warn", Format: "json", File: file, MaxSizeMB: 1}, &stdout)
	logger.Info("dropped")
	logger.Warn("kept", "slot", 7)
	require.NoError(t, closer.Close())

	assert.NotContains(t, stdout.String(), "dropped")
	assert.Contains(t, stdout.String(), `"slot":7`)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, stdout.String(), string(data))
}
