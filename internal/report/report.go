// Package report implements the agent's report dispatchers: the
// pluggable sinks a snapshot of the metric registry is sent to on each
// reporting interval.
package report

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultReportPeriod is used when a reporter's config omits "period".
const DefaultReportPeriod = 10 * time.Second

// Dispatcher sends a formatted snapshot of report lines to some sink.
// SendReport is called once per reporting interval from the agent's loop
// goroutine and must not block for long; network-backed dispatchers are
// nonblocking and give up on failure rather than retrying.
type Dispatcher interface {
	SendReport(lines []string)
}

// Nop discards every report, used when a reporter is configured but
// intentionally disabled (or for tests).
type Nop struct{}

func (Nop) SendReport([]string) {}

// SimpleLog logs each report line at info level through logrus, the way
// the agent logs everything else.
type SimpleLog struct {
	Logger *logrus.Logger
}

func NewSimpleLog(logger *logrus.Logger) *SimpleLog {
	return &SimpleLog{Logger: logger}
}

func (r *SimpleLog) SendReport(lines []string) {
	for _, line := range lines {
		r.Logger.WithField("reporter", "log").Info("REPORT: " + line)
	}
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n") + "\n"
}
