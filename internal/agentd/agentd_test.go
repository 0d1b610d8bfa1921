package agentd

import (
	"testing"

	"github.com/mcrewson/squibd/internal/config"
	"github.com/mcrewson/squibd/internal/logging"
	"github.com/mcrewson/squibd/internal/registry"
	"github.com/mcrewson/squibd/internal/report"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	log, err := logging.New(logging.Config{Level: "error"})
	require.NoError(t, err)
	return &Agent{
		log:      log,
		recorder: registry.NewRecorder("test.", ""),
	}
}

func TestHostPrefixStripsDomainAndAddsTrailingDot(t *testing.T) {
	require.Equal(t, "web1.", shortenHostname("web1.example.com"))
	require.Equal(t, "web1.", shortenHostname("web1"))
}

func TestBuildDispatcherLog(t *testing.T) {
	a := &Agent{}
	d, err := buildDispatcher(config.Reporter{Class: "log"}, logrus.New(), a)
	require.NoError(t, err)
	require.IsType(t, &report.SimpleLog{}, d)
}

func TestBuildDispatcherMultiRecursesIntoChildren(t *testing.T) {
	a := &Agent{}
	cfg := config.Reporter{
		Class: "multi",
		Reporters: []config.Reporter{
			{Class: "log"},
			{Class: "tcp", DestinationAddr: "127.0.0.1", DestinationPort: 9999},
		},
	}
	d, err := buildDispatcher(cfg, logrus.New(), a)
	require.NoError(t, err)
	multi, ok := d.(report.Multi)
	require.True(t, ok)
	require.Len(t, multi.Dispatchers, 2)
}

func TestBuildDispatcherUnknownClassErrors(t *testing.T) {
	a := &Agent{}
	_, err := buildDispatcher(config.Reporter{Class: "bogus"}, logrus.New(), a)
	require.Error(t, err)
}

func TestBuildOxidizerSpecExecUsesLiteralCommand(t *testing.T) {
	a := &Agent{}
	spec, err := buildOxidizerSpec("mycollector", config.Oxidizer{
		Class:   "exec",
		Command: []string{"/usr/bin/true", "--flag"},
	}, a)
	require.NoError(t, err)
	require.Equal(t, []string{"/usr/bin/true", "--flag"}, spec.Argv)
	require.Equal(t, "mycollector", spec.Name)
}

func TestBuildOxidizerSpecUnknownBuiltinClassErrors(t *testing.T) {
	a := &Agent{}
	_, err := buildOxidizerSpec("x", config.Oxidizer{Class: "bogus"}, a)
	require.Error(t, err)
}

func TestBuildOxidizerSpecRejectsUnknownStopSignal(t *testing.T) {
	a := &Agent{}
	_, err := buildOxidizerSpec("x", config.Oxidizer{
		Class:      "exec",
		Command:    []string{"/bin/true"},
		StopSignal: "NOTASIGNAL",
	}, a)
	require.Error(t, err)
}

func TestParseSignalNameAcceptsWithOrWithoutSigPrefix(t *testing.T) {
	sig, err := parseSignalName("SIGUSR2")
	require.NoError(t, err)
	require.Equal(t, "user defined signal 2", sig.String())

	sig, err = parseSignalName("term")
	require.NoError(t, err)
	require.Equal(t, "terminated", sig.String())
}

func TestOnCollectorLineRecordsWellFormedLine(t *testing.T) {
	a := newTestAgent(t)
	onCollectorLine(a, "cpu", []byte("cpu.total gauge 42"))
	lines := a.recorder.Publish()
	require.NotEmpty(t, lines)
}

func TestOnCollectorLineIgnoresBlankLine(t *testing.T) {
	a := newTestAgent(t)
	onCollectorLine(a, "cpu", []byte("   "))
	require.Empty(t, a.recorder.Publish())
}
