package agentd

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/mcrewson/squibd/internal/collectorcmd"
	"github.com/mcrewson/squibd/internal/config"
	"github.com/mcrewson/squibd/internal/report"
	"github.com/mcrewson/squibd/internal/supervisor"
	"github.com/sirupsen/logrus"
)

// buildDispatcher constructs the report.Dispatcher tree described by
// cfg, recursing into cfg.Reporters for the "multi" class. Any dispatcher
// that owns a resource needing cleanup registers a closer on a.
func buildDispatcher(cfg config.Reporter, logger *logrus.Logger, a *Agent) (report.Dispatcher, error) {
	switch cfg.Class {
	case "", "log":
		return report.NewSimpleLog(logger), nil
	case "tcp":
		return report.NewTcp(a.loop, cfg.DestinationAddr, cfg.DestinationPort, logger), nil
	case "multicast":
		return report.NewMulticast(cfg.MulticastAddr, cfg.MulticastPort, cfg.MulticastTTL, cfg.MulticastLoopback, logger), nil
	case "webpollable":
		wp, err := report.NewWebPollable(a.loop, cfg.Listen, logger)
		if err != nil {
			return nil, fmt.Errorf("agentd: starting webpollable reporter: %w", err)
		}
		a.closers = append(a.closers, wp.Close)
		return wp, nil
	case "multi":
		multi := report.Multi{}
		for _, sub := range cfg.Reporters {
			d, err := buildDispatcher(sub, logger, a)
			if err != nil {
				return nil, err
			}
			multi.Dispatchers = append(multi.Dispatchers, d)
		}
		return multi, nil
	default:
		// unreachable: config.Load validates Class against the same set
		return nil, fmt.Errorf("agentd: unknown reporter class %q", cfg.Class)
	}
}

// builtinCollectorBinary maps an oxidizer class to the name of its
// standalone collector binary, which the supervisor launches exactly
// like any third-party collector.
var builtinCollectorBinary = map[string]string{
	"cpu":        "squib-collector-cpu",
	"mem":        "squib-collector-mem",
	"traffic":    "squib-collector-traffic",
	"tcpsockets": "squib-collector-tcpsockets",
}

// buildOxidizerSpec resolves ox's argv (a built-in collector binary
// looked up on PATH, or the literal command for class "exec") and wires
// its stdout/stderr lines into the registry and rate-limited logging.
func buildOxidizerSpec(name string, ox config.Oxidizer, a *Agent) (supervisor.Spec, error) {
	var argv []string
	if ox.Class == "exec" {
		argv = ox.Command
	} else {
		bin, ok := builtinCollectorBinary[ox.Class]
		if !ok {
			return supervisor.Spec{}, fmt.Errorf("agentd: %s: unknown oxidizer class %q", name, ox.Class)
		}
		path, err := exec.LookPath(bin)
		if err != nil {
			return supervisor.Spec{}, fmt.Errorf("agentd: %s: locating %s: %w", name, bin, err)
		}
		argv = []string{path}
	}

	stopSignal := syscall.SIGTERM
	if ox.StopSignal != "" {
		sig, err := parseSignalName(ox.StopSignal)
		if err != nil {
			return supervisor.Spec{}, fmt.Errorf("agentd: %s: %w", name, err)
		}
		stopSignal = sig
	}

	return supervisor.Spec{
		Name:         name,
		Priority:     ox.Priority,
		Argv:         argv,
		Env:          buildOxidizerEnv(ox),
		StartSecs:    ox.StartSecs,
		StartRetries: ox.StartRetries,
		StopSignal:   stopSignal,
		StopWaitSecs: ox.StopWaitSecs,
		OnLine: func(line []byte) {
			onCollectorLine(a, name, line)
		},
		OnStderrLine: func(line []byte) {
			onCollectorStderr(a, name, line)
		},
	}, nil
}

// buildOxidizerEnv carries an oxidizer's "period" option through to a
// built-in collector binary via collectorcmd.PeriodEnv, alongside the
// inherited process environment.
func buildOxidizerEnv(ox config.Oxidizer) []string {
	env := os.Environ()
	if period, ok := ox.Options["period"]; ok && period != "" {
		env = append(env, collectorcmd.PeriodEnv+"="+period)
	}
	return env
}

func parseSignalName(name string) (syscall.Signal, error) {
	switch strings.ToUpper(strings.TrimPrefix(name, "SIG")) {
	case "TERM":
		return syscall.SIGTERM, nil
	case "INT":
		return syscall.SIGINT, nil
	case "QUIT":
		return syscall.SIGQUIT, nil
	case "KILL":
		return syscall.SIGKILL, nil
	case "HUP":
		return syscall.SIGHUP, nil
	case "USR1":
		return syscall.SIGUSR1, nil
	case "USR2":
		return syscall.SIGUSR2, nil
	default:
		return 0, fmt.Errorf("unknown stop signal %q", name)
	}
}

// onCollectorLine parses a single "<name> <kind>[(args)] <payload>" line
// from a collector's stdout and records it, logging (rather than
// dropping silently) anything that fails to parse.
func onCollectorLine(a *Agent, collector string, line []byte) {
	text := strings.TrimSpace(string(line))
	if text == "" {
		return
	}
	name, value, ok := strings.Cut(text, " ")
	if !ok {
		a.log.With("collector", collector).With("line", text).Warn("malformed collector line")
		return
	}
	if err := a.recorder.Record(name, value); err != nil {
		a.log.With("collector", collector).WithError(err).Warn("invalid collector line")
	}
}

// onCollectorStderr forwards a collector's stderr lines to the agent's
// logger at Error, rate-limited per collector so a crash-looping child
// cannot flood the log.
func onCollectorStderr(a *Agent, collector string, line []byte) {
	if _, allowed := a.stderrRate.Allow(collector); !allowed {
		return
	}
	a.log.With("collector", collector).Error(strconv.Quote(string(line)))
}
