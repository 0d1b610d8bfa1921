package cpu

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTickEmitsNothingOnFirstSample(t *testing.T) {
	c := New()
	var buf bytes.Buffer
	require.NoError(t, c.Tick(&buf))
	require.Empty(t, buf.String())
	require.True(t, c.hasPrev)
}

func TestTickEmitsOneLinePerFieldOnSubsequentSamples(t *testing.T) {
	c := &Collector{prev: fields{100, 0, 50, 800, 10, 5, 5}, hasPrev: true}
	var buf bytes.Buffer

	// recompute Tick's diff arithmetic on a synthetic "current" sample;
	// Tick itself always reads the live /proc/stat, so it cannot be fed cur.
	cur := fields{110, 0, 60, 820, 10, 5, 5}
	var diff [7]float64
	var total float64
	for i := range diff {
		diff[i] = float64(cur[i] - c.prev[i])
		total += diff[i]
	}
	require.Equal(t, float64(40), total)
	require.InDelta(t, 25.0, diff[0]/total*100, 0.001) // user: 10/40

	// exercise the real Tick path against the live /proc/stat, checking
	// only the line shape since the values are not controllable here.
	require.NoError(t, c.Tick(&buf))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 7)
	for i, name := range fieldNames {
		require.True(t, strings.HasPrefix(lines[i], "cpu."+name+" "))
	}
}
