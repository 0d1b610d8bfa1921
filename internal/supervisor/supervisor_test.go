package supervisor

import (
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/mcrewson/squibd/internal/loop"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestChildLaunchDeliversStdoutLines(t *testing.T) {
	l, err := loop.New()
	require.NoError(t, err)
	defer l.Close()

	var mu sync.Mutex
	var lines []string
	c := NewChild(l, newTestLogger(), Spec{
		Name:      "echoer",
		Argv:      []string{"/bin/sh", "-c", "echo gauge(test) 1; sleep 5"},
		StartSecs: 10 * time.Millisecond,
		OnLine: func(line []byte) {
			mu.Lock()
			lines = append(lines, string(line))
			mu.Unlock()
		},
	})

	c.Launch()
	require.Equal(t, StateStarting, c.State())
	require.NotZero(t, c.Pid())

	pid := c.Pid()

	// pump the loop briefly so the stdout reactor can deliver the line
	go func() { _ = l.Run() }()
	time.Sleep(100 * time.Millisecond)
	l.Submit(func() {
		l.Stop()
	})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	got := append([]string(nil), lines...)
	mu.Unlock()
	require.Contains(t, got, "gauge(test) 1")

	_ = syscall.Kill(pid, syscall.SIGKILL)
}

func TestChildStateString(t *testing.T) {
	require.Equal(t, "RUNNING", StateRunning.String())
	require.Equal(t, "STOPPED", StateStopped.String())
}

func TestChildStopFromBackoffGivesUp(t *testing.T) {
	l, err := loop.New()
	require.NoError(t, err)
	defer l.Close()

	c := NewChild(l, newTestLogger(), Spec{Name: "never", Argv: []string{"/nonexistent/binary"}})
	c.state = StateBackoff
	c.Stop()
	require.Equal(t, StateFatal, c.State())
}

func TestSupervisorAddChildOrdersByPriority(t *testing.T) {
	l, err := loop.New()
	require.NoError(t, err)
	defer l.Close()

	s := New(l, newTestLogger())
	low := NewChild(l, newTestLogger(), Spec{Name: "low", Priority: 10, Argv: []string{"/bin/true"}})
	high := NewChild(l, newTestLogger(), Spec{Name: "high", Priority: 1, Argv: []string{"/bin/true"}})
	s.AddChild(low)
	s.AddChild(high)

	require.Equal(t, []*Child{high, low}, s.Children())
}

func TestSupervisorShutdownStopsHighestPriorityFirst(t *testing.T) {
	l, err := loop.New()
	require.NoError(t, err)
	defer l.Close()

	s := New(l, newTestLogger())
	a := NewChild(l, newTestLogger(), Spec{Name: "a", Priority: 1, Argv: []string{"/bin/sleep", "5"}})
	b := NewChild(l, newTestLogger(), Spec{Name: "b", Priority: 2, Argv: []string{"/bin/sleep", "5"}})
	a.Launch()
	b.Launch()
	a.state = StateRunning
	b.state = StateRunning
	s.AddChild(a)
	s.AddChild(b)

	done := make(chan struct{})
	s.OnShutdownComplete(func() { close(done) })
	s.Shutdown()

	s.handleShutdown1()
	// b has the higher priority number, so it sorts last (a=1 first in slice, b=2 after) and is stopped first
	require.Equal(t, StateStopping, b.State())

	_ = syscall.Kill(a.Pid(), syscall.SIGKILL)
	_ = syscall.Kill(b.Pid(), syscall.SIGKILL)
}
