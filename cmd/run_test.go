package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveSizePrefersOverride(t *testing.T) {
	override := uint64(64)
	require.Equal(t, uint64(64), resolveSize(&override, 128, defaultMemSize))
}

func TestResolveSizeFallsBackToHeader(t *testing.T) {
	require.Equal(t, uint64(512), resolveSize(nil, 512, defaultMemSize))
}

func TestResolveSizeFallsBackToDefaultWhenHeaderZero(t *testing.T) {
	require.Equal(t, uint64(defaultMemSize), resolveSize(nil, 0, defaultMemSize))
}
