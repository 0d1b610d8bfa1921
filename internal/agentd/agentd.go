// Package agentd wires the loop, supervisor, registry, and report
// dispatchers built by the other internal packages into one running
// agent, the way cmd/squibd's main() would otherwise have to inline.
package agentd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/mcrewson/squibd/internal/config"
	"github.com/mcrewson/squibd/internal/logging"
	"github.com/mcrewson/squibd/internal/loop"
	"github.com/mcrewson/squibd/internal/registry"
	"github.com/mcrewson/squibd/internal/report"
	"github.com/mcrewson/squibd/internal/selfstats"
	"github.com/mcrewson/squibd/internal/stats"
	"github.com/mcrewson/squibd/internal/supervisor"
)

// stderrRateLimit caps how often a single collector's stderr lines are
// forwarded to the agent's own log, so a crash-looping child cannot
// flood it.
var stderrRateLimit = map[time.Duration]int{time.Minute: 20}

// Agent owns every long-lived component: the event loop, the child
// supervisor, the metric registry, and the report dispatcher.
type Agent struct {
	loop       *loop.Loop
	log        *logging.Logger
	recorder   *registry.Recorder
	supervisor *supervisor.Supervisor
	dispatcher report.Dispatcher
	selfStats  *selfstats.SelfStats
	stderrRate *catrate.Limiter

	closers []func() error
}

// New builds an Agent from cfg, registering every configured oxidizer
// and constructing the reporter dispatcher tree, but does not yet run
// the loop.
func New(cfg *config.Config, log *logging.Logger) (*Agent, error) {
	l, err := loop.New()
	if err != nil {
		return nil, fmt.Errorf("agentd: %w", err)
	}

	a := &Agent{
		loop:       l,
		log:        log,
		recorder:   registry.NewRecorder(hostPrefix(), cfg.Common.MetricsSaveFile),
		supervisor: supervisor.New(l, log.Logrus()),
		stderrRate: catrate.NewLimiter(stderrRateLimit),
	}

	dispatcher, err := buildDispatcher(cfg.Reporter, log.Logrus(), a)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	a.dispatcher = dispatcher

	if cfg.Common.Selfstats {
		a.selfStats = selfstats.New(l, a.recorder)
	}

	for name, ox := range cfg.Oxidizers {
		spec, err := buildOxidizerSpec(name, ox, a)
		if err != nil {
			_ = l.Close()
			return nil, err
		}
		a.supervisor.AddChild(supervisor.NewChild(l, log.Logrus(), spec))
	}

	l.CallEvery(stats.DecayInterval, a.recorder.DecayRates)

	period := cfg.Reporter.Period
	if period <= 0 {
		period = report.DefaultReportPeriod
	}
	l.CallEvery(period, a.report)

	a.supervisor.OnShutdownComplete(l.Stop)
	a.supervisor.HandleSignals(nil, func() {
		if err := log.Reopen(); err != nil {
			log.WithError(err).Error("log reopen failed")
		}
	})

	return a, nil
}

// Run drives the event loop until a graceful shutdown completes.
func (a *Agent) Run() error {
	defer func() {
		for _, closeFn := range a.closers {
			_ = closeFn()
		}
	}()
	return a.loop.Run()
}

// Shutdown begins a graceful stop of every supervised child.
func (a *Agent) Shutdown() { a.supervisor.Shutdown() }

func (a *Agent) report() {
	lines := a.recorder.Publish()
	a.dispatcher.SendReport(lines)
	if a.selfStats != nil {
		a.selfStats.MarkReport()
	}
	if err := a.recorder.Save(); err != nil {
		a.log.WithError(err).Warn("failed to save metrics snapshot")
	}
}

// hostPrefix derives the "<short_hostname>." report-line prefix: the
// local hostname up to its first dot, matching the original's use of
// the short form rather than the FQDN.
func hostPrefix() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "localhost"
	}
	return shortenHostname(name)
}

func shortenHostname(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name + "."
}

