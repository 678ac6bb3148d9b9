package aap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type splitResult struct {
	lines   []string
	dropped []int
}

func split(max int, chunks ...string) splitResult {
	var res splitResult
	emit := func(line string) { res.lines = append(res.lines, line) }
	oversized := func(n int) { res.dropped = append(res.dropped, n) }

	ls := newLineSplitter(max)
	for _, c := range chunks {
		ls.feed([]byte(c), emit, oversized)
	}
	ls.flush(emit, oversized)
	return res
}

func TestLineSplitterTerminators(t *testing.T) {
	res := split(64, "a\r\nb\rc\nd")
	require.Equal(t, []string{"a", "", "b", "c", "d"}, res.lines)
	require.Empty(t, res.dropped)
}

func TestLineSplitterAcrossChunks(t *testing.T) {
	res := split(64, "Z", "O1", "2\r", "\nRO", "\n")
	require.Equal(t, []string{"ZO12", "", "RO"}, res.lines)
}

func TestLineSplitterDropsOversizedLine(t *testing.T) {
	res := split(8, "ZO1\n0123456", "789abc", "def\nZC2\n")
	require.Equal(t, []string{"ZO1", "ZC2"}, res.lines)
	require.Equal(t, []int{16}, res.dropped)
}

func TestLineSplitterOversizedAtEOF(t *testing.T) {
	res := split(4, "RO\n123456789")
	require.Equal(t, []string{"RO"}, res.lines)
	require.Equal(t, []int{9}, res.dropped)
}

func TestLineSplitterExactlyMax(t *testing.T) {
	res := split(4, "ZO12\n")
	require.Equal(t, []string{"ZO12"}, res.lines)
	require.Empty(t, res.dropped)
}
