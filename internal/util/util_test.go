package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	for in, want := range map[string]string{
		"Front Door":     "front-door",
		"  Hall PIR #2 ": "hall-pir-2",
		"Café Window":    "cafe-window",
		"garage--side":   "garage-side",
		"Zone 12":        "zone-12",
		"---":            "",
	} {
		require.Equal(t, want, Slugify(in), in)
	}
}

func TestJoinWithOr(t *testing.T) {
	require.Equal(t, "", JoinWithOr(nil))
	require.Equal(t, "a", JoinWithOr([]string{"a"}))
	require.Equal(t, "a or b", JoinWithOr([]string{"a", "b"}))
	require.Equal(t, "a, b or c", JoinWithOr([]string{"a", "b", "c"}))
}

func TestContains(t *testing.T) {
	require.True(t, Contains([]string{"info", "warn"}, "warn"))
	require.False(t, Contains([]string{"info", "warn"}, "debug"))
	require.False(t, Contains(nil, ""))
}
