package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
common:
  pid_file: /var/run/squibd.pid
  loglevel: debug
reporter:
  class: tcp
  destination_addr: 10.0.0.1
  destination_port: 2003
oxidizers:
  cpu:
    class: cpu
    priority: 1
  custom:
    class: exec
    command: ["/usr/local/bin/my-collector"]
    priority: 10
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "squibd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadDecodesSections(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	require.Equal(t, "/var/run/squibd.pid", cfg.Common.PidFile)
	require.Equal(t, "debug", cfg.Common.LogLevel)
	require.True(t, cfg.Common.Selfstats)

	require.Equal(t, "tcp", cfg.Reporter.Class)
	require.Equal(t, "10.0.0.1", cfg.Reporter.DestinationAddr)
	require.Equal(t, 2003, cfg.Reporter.DestinationPort)

	require.Equal(t, "cpu", cfg.Oxidizers["cpu"].Class)
	require.Equal(t, 1, cfg.Oxidizers["cpu"].Priority)
	require.Equal(t, []string{"/usr/local/bin/my-collector"}, cfg.Oxidizers["custom"].Command)
}

func TestLoadAppliesDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, "log", cfg.Reporter.Class)
	require.Equal(t, "info", cfg.Common.LogLevel)
	require.Equal(t, 10*time.Second, cfg.Reporter.Period)
}

func TestLoadAppliesOptionOverrides(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path, []string{"loglevel=trace", "reporter::destination_port=9999"})
	require.NoError(t, err)
	require.Equal(t, "trace", cfg.Common.LogLevel)
	require.Equal(t, 9999, cfg.Reporter.DestinationPort)
}

func TestLoadRejectsUnknownReporterClass(t *testing.T) {
	path := writeConfig(t, "reporter:\n  class: carrierpigeon\n")
	_, err := Load(path, nil)
	require.Error(t, err)
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadRejectsExecOxidizerWithoutCommand(t *testing.T) {
	path := writeConfig(t, "oxidizers:\n  weird:\n    class: exec\n")
	_, err := Load(path, nil)
	require.Error(t, err)
}

func TestParseOptionRejectsMalformed(t *testing.T) {
	_, _, err := parseOption("nosign")
	require.Error(t, err)
	_, _, err = parseOption("=value")
	require.Error(t, err)
}

func TestLoadMergesExtraOxidizersFromDirectory(t *testing.T) {
	oxdir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(oxdir, "disk.yaml"), []byte("class: exec\ncommand: [\"/usr/local/bin/disk-collector\"]\npriority: 5\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(oxdir, "gpu.yaml"), []byte("class: exec\ncommand: [\"/usr/local/bin/gpu-collector\"]\n"), 0o644))

	contents := `
common:
  pid_file: /var/run/squibd.pid
  loglevel: debug
  oxidizers_config_directory: ` + oxdir + `
reporter:
  class: tcp
  destination_addr: 10.0.0.1
  destination_port: 2003
oxidizers:
  cpu:
    class: cpu
    priority: 1
`
	path := writeConfig(t, contents)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	require.Equal(t, []string{"/usr/local/bin/disk-collector"}, cfg.Oxidizers["disk"].Command)
	require.Equal(t, 5, cfg.Oxidizers["disk"].Priority)
	require.Equal(t, []string{"/usr/local/bin/gpu-collector"}, cfg.Oxidizers["gpu"].Command)
	// main config entries are not clobbered by a same-named drop-in file.
	require.Equal(t, "cpu", cfg.Oxidizers["cpu"].Class)
}

func TestLoadIgnoresMissingOxidizersConfigDirectory(t *testing.T) {
	contents := "common:\n  oxidizers_config_directory: /does/not/exist\n"
	path := writeConfig(t, contents)
	_, err := Load(path, nil)
	require.NoError(t, err)
}
