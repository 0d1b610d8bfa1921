package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMeminfoLine(t *testing.T) {
	key, kb, ok := parseMeminfoLine("MemTotal:       16336716 kB")
	require.True(t, ok)
	require.Equal(t, "MemTotal", key)
	require.Equal(t, uint64(16336716), kb)
}

func TestParseMeminfoLineRejectsMalformed(t *testing.T) {
	_, _, ok := parseMeminfoLine("not a meminfo line")
	require.False(t, ok)
}

func TestReadMeminfoFromRealProc(t *testing.T) {
	values, err := readMeminfo()
	require.NoError(t, err)
	require.Greater(t, values[0], uint64(0)) // MemTotal
}
