package traffic

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleLine = `  eth0: 1000 10 0 0    0    0  0        0   500  5    0    0    0     0       0          0`

func TestParseNetDevLine(t *testing.T) {
	iface, counters, ok := parseNetDevLine(sampleLine)
	require.True(t, ok)
	require.Equal(t, "eth0", iface)
	require.Equal(t, uint64(1000), counters.rbytes)
	require.Equal(t, uint64(10), counters.rpackets)
	require.Equal(t, uint64(500), counters.tbytes)
	require.Equal(t, uint64(5), counters.tpackets)
}

func TestParseNetDevLineRejectsShortLines(t *testing.T) {
	_, _, ok := parseNetDevLine("lo: 1 2 3")
	require.False(t, ok)
}

func TestTickSeedsThenReportsDeltasOnSubsequentCalls(t *testing.T) {
	c := New()
	var buf bytes.Buffer

	require.NoError(t, c.Tick(&buf)) // first sample: seeds c.prev, emits nothing
	require.Empty(t, buf.String())
	require.NotEmpty(t, c.prev)

	require.NoError(t, c.Tick(&buf)) // second sample against the real host
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		require.Contains(t, line, " meter +")
	}
}
