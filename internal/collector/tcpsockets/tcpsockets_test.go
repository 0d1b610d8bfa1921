package tcpsockets

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountStatesParsesHexStateColumn(t *testing.T) {
	counts := make(map[int]int)
	dir := t.TempDir()
	path := dir + "/tcp"
	contents := "  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode\n" +
		"   0: 0100007F:1F90 00000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 12345 1 0000000000000000 100 0 0 10 0\n" +
		"   1: 0100007F:C35C 0100007F:1F90 01 00000000:00000000 00:00000000 00000000     0        0 12346 1 0000000000000000 100 0 0 10 0\n"
	writeFile(t, path, contents)

	require.NoError(t, countStates(path, counts))
	require.Equal(t, 1, counts[listen])
	require.Equal(t, 1, counts[established])
}

func TestCountStatesIgnoresMalformedLines(t *testing.T) {
	counts := make(map[int]int)
	dir := t.TempDir()
	path := dir + "/tcp"
	writeFile(t, path, "header\nshort line\n")

	require.NoError(t, countStates(path, counts))
	require.Empty(t, counts)
}

func TestTickReportsAllElevenStatesInFixedOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Tick(&buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, len(stateOrder))
	for i, state := range stateOrder {
		require.Contains(t, lines[i], "tcpsockets."+stateNames[state]+" ")
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
