package main

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitCodeErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	ec := &exitCodeError{code: 2, err: inner}
	require.Equal(t, "boom", ec.Error())
	require.ErrorIs(t, ec, inner)
}

func TestRunReturnsTwoOnConfigError(t *testing.T) {
	code := run([]string{"--config", "/nonexistent/path/squibd.yaml"})
	require.Equal(t, 2, code)
}

func TestRunDumpWithDefaultsExitsZero(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/squibd.yaml"
	require.NoError(t, os.WriteFile(path, []byte("common:\n  loglevel: info\n"), 0o644))

	code := run([]string{"--config", path, "--dump"})
	require.Equal(t, 0, code)
}

func TestRunRejectsMalformedOption(t *testing.T) {
	code := run([]string{"--option", "not-a-key-value"})
	require.Equal(t, 2, code)
}
