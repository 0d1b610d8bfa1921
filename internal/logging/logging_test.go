package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWritesToLogFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "squibd.log")

	lg, err := New(Config{Level: "debug", LogFile: path})
	require.NoError(t, err)
	defer lg.Close()

	lg.Info("hello")
	lg.With("child", "cpu").Warn("backoff")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
	require.Contains(t, string(data), "backoff")
	require.Contains(t, string(data), "child=cpu")
}

func TestReopenSwitchesToNewFileAfterRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "squibd.log")

	lg, err := New(Config{Level: "info", LogFile: path})
	require.NoError(t, err)
	defer lg.Close()

	lg.Info("before rotation")
	require.NoError(t, os.Rename(path, path+".1"))
	require.NoError(t, lg.Reopen())
	lg.Info("after rotation")

	rotated, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	require.Contains(t, string(rotated), "before rotation")

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(current), "after rotation")
	require.NotContains(t, string(current), "before rotation")
}

func TestInvalidLevelIsRejected(t *testing.T) {
	_, err := New(Config{Level: "not-a-level"})
	require.Error(t, err)
}
