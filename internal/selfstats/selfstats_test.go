package selfstats

import (
	"testing"
	"time"

	"github.com/mcrewson/squibd/internal/loop"
	"github.com/mcrewson/squibd/internal/registry"
	"github.com/stretchr/testify/require"
)

func TestSelfStatsAnnouncesRecordAndReportCounters(t *testing.T) {
	l, err := loop.New()
	require.NoError(t, err)
	defer l.Close()

	rec := registry.NewRecorder("", "")
	s := New(l, rec)

	require.NoError(t, rec.Record("app.hits", "counter +1"))
	s.MarkReport()

	s.announce()

	lines := rec.Publish()
	joined := joinLines(lines)
	require.Contains(t, joined, "squib.metrics.record.value")
	require.Contains(t, joined, "squib.metrics.report.value")
	require.Contains(t, joined, "squib.cpuUsage.value")
	require.Contains(t, joined, "squib.memUsage.value")
}

func TestSelfStatsScheduledOnLoop(t *testing.T) {
	l, err := loop.New()
	require.NoError(t, err)
	defer l.Close()

	rec := registry.NewRecorder("", "")
	New(l, rec)

	done := make(chan struct{})
	l.CallLater(50*time.Millisecond, func() {
		close(done)
		l.Stop()
	})

	go func() { _ = l.Run() }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop never fired timer")
	}
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}
