package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestGenesisCommand(t *testing.T) {
	out := execute(t, "genesis", "--genesis-time", "1000", "--validator-count", "8")
	assert.Contains(t, out, "genesis_time: 1000")
	assert.Contains(t, out, "validators:   8")
	assert.Contains(t, out, "kind:         phase0")

	// Same configuration, same roots.
	assert.Equal(t, out, execute(t, "genesis", "--genesis-time", "1000", "--validator-count", "8"))
}

func TestVersionCommand(t *testing.T) {
	assert.Equal(t, "dev\n", execute(t, "version"))
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	require.NoError(t, runCmd.ParseFlags([]string{
		"--validator-count", "16",
		"--validator-indices", "1,3",
		"--listen", "/ip4/127.0.0.1/tcp/0",
		"--log-level", "debug",
	}))
	cfg, err := loadConfig(runCmd)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), cfg.ValidatorCount)
	assert.Equal(t, []uint64{1, 3}, cfg.ValidatorIndices)
	assert.Equal(t, []string{"/ip4/127.0.0.1/tcp/0"}, cfg.ListenAddrs)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NotZero(t, cfg.GenesisTime)
}

func TestLoadConfig_RejectsOutOfRangeIndex(t *testing.T) {
	require.NoError(t, genesisCmd.ParseFlags([]string{"--validator-count", "2"}))
	cfg, err := loadConfig(genesisCmd)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cfg.ValidatorCount)

	require.NoError(t, runCmd.ParseFlags([]string{"--validator-count", "2", "--validator-indices", "5"}))
	_, err = loadConfig(runCmd)
	require.Error(t, err)
}
