package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	var lc lifecycle
	assert.Equal(t, StatusNotReady, lc.get())
	require.ErrorIs(t, lc.start(), ErrInvalidStatus)

	require.NoError(t, lc.ready())
	require.ErrorIs(t, lc.ready(), ErrInvalidStatus)

	require.NoError(t, lc.start())
	assert.Equal(t, StatusStarted, lc.get())
	require.ErrorIs(t, lc.start(), ErrInvalidStatus)

	assert.True(t, lc.stop())
	assert.False(t, lc.stop())
	assert.Equal(t, StatusStopped, lc.get())
	require.ErrorIs(t, lc.start(), ErrInvalidStatus)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "ready", StatusReady.String())
	assert.Equal(t, "unknown", Status(42).String())
}
