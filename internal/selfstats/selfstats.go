// Package selfstats feeds the agent's own record/report throughput and
// CPU usage back into the metric registry, so operators can see squibd's
// own overhead alongside the metrics it collects.
package selfstats

import (
	"fmt"
	"time"

	"github.com/mcrewson/squibd/internal/loop"
	"github.com/mcrewson/squibd/internal/registry"
	"golang.org/x/sys/unix"
)

// AnnouncePeriod is how often self-stats are recorded into the registry.
const AnnouncePeriod = 3 * time.Second

// SelfStats tracks the agent's own record/report counters and periodic
// CPU usage, announcing them into a Recorder on a fixed interval.
type SelfStats struct {
	recorder *registry.Recorder

	recordCount int64
	reportCount int64

	lastCPU  time.Duration
	lastTime time.Time
}

// New constructs a SelfStats and schedules its first announcement on l.
// recorder.OnRecord is wired to mark each collector-line record, so the
// caller only needs to call MarkReport around its publish/dispatch cycle.
func New(l *loop.Loop, recorder *registry.Recorder) *SelfStats {
	s := &SelfStats{recorder: recorder}
	s.lastCPU = cpuTime()
	s.lastTime = time.Now()
	recorder.OnRecord(s.markRecord)
	l.CallEvery(AnnouncePeriod, s.announce)
	return s
}

func (s *SelfStats) markRecord() { s.recordCount++ }

// MarkReport marks that a publish/dispatch cycle has happened.
func (s *SelfStats) MarkReport() { s.reportCount++ }

func (s *SelfStats) announce() {
	_ = s.recorder.Record("squib.metrics.record", fmt.Sprintf("derivgauge %d", s.recordCount))
	_ = s.recorder.Record("squib.metrics.record", fmt.Sprintf("derivmeter %d", s.recordCount))
	_ = s.recorder.Record("squib.metrics.report", fmt.Sprintf("derivgauge %d", s.reportCount))
	_ = s.recorder.Record("squib.metrics.report", fmt.Sprintf("derivmeter %d", s.reportCount))
	_ = s.recorder.Record("squib.cpuUsage", fmt.Sprintf("gauge %.2f", s.cpuUsagePercent()))
	_ = s.recorder.Record("squib.memUsage", fmt.Sprintf("gauge %.2f", s.memUsageKB()))
}

func (s *SelfStats) cpuUsagePercent() float64 {
	now := time.Now()
	current := cpuTime()

	usageDiff := (current - s.lastCPU).Seconds()
	timeDiff := now.Sub(s.lastTime).Seconds()
	if timeDiff == 0 {
		timeDiff = 0.000001
	}

	s.lastCPU = current
	s.lastTime = now

	return (usageDiff / timeDiff) * 100.0
}

func (s *SelfStats) memUsageKB() float64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return float64(ru.Maxrss)
}

func cpuTime() time.Duration {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	user := time.Duration(ru.Utime.Sec)*time.Second + time.Duration(ru.Utime.Usec)*time.Microsecond
	sys := time.Duration(ru.Stime.Sec)*time.Second + time.Duration(ru.Stime.Usec)*time.Microsecond
	return user + sys
}
