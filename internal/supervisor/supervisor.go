package supervisor

import (
	"os"
	"sort"
	"syscall"
	"time"

	"github.com/mcrewson/squibd/internal/loop"
	"github.com/sirupsen/logrus"
)

// HousekeepingPeriod is how often the supervisor reaps exited children
// and advances every child's state machine.
const HousekeepingPeriod = 500 * time.Millisecond

// Supervisor owns the set of supervised Children and drives their
// lifecycle from the event loop's housekeeping tick.
type Supervisor struct {
	l      *loop.Loop
	log    *logrus.Logger
	children []*Child

	stopping         bool
	stoppingChildren []*Child

	onShutdownComplete func()
}

// New constructs a Supervisor and installs its housekeeping tick on l.
// Signal handlers are not installed here; HandleSignals installs them.
func New(l *loop.Loop, logger *logrus.Logger) *Supervisor {
	s := &Supervisor{l: l, log: logger}
	l.CallEvery(HousekeepingPeriod, s.housekeeping)
	return s
}

// AddChild registers a child for supervision, sorted lowest-priority
// first so shutdown stops highest priority first.
func (s *Supervisor) AddChild(c *Child) {
	s.children = append(s.children, c)
	sort.SliceStable(s.children, func(i, j int) bool {
		return s.children[i].Priority < s.children[j].Priority
	})
}

// Children returns the supervised set, in priority order.
func (s *Supervisor) Children() []*Child { return s.children }

// OnShutdownComplete installs a callback invoked once every child has
// reached a stopped state during a graceful shutdown.
func (s *Supervisor) OnShutdownComplete(fn func()) { s.onShutdownComplete = fn }

// Shutdown begins stopping every supervised child, highest priority
// first, continuing in subsequent housekeeping ticks until all are
// stopped.
func (s *Supervisor) Shutdown() {
	s.stopping = true
}

func (s *Supervisor) housekeeping() {
	if s.stopping {
		s.handleShutdown1()
	}

	s.reap()
	s.advanceChildren()

	if s.stopping {
		s.handleShutdown2()
	}
}

func (s *Supervisor) advanceChildren() {
	for _, c := range s.children {
		c.DoStateTransition()
	}
}

// reap drains every exited child via a nonblocking waitpid loop, the way
// a SIGCHLD-driven reactor would in response to however many children
// exited since the last tick.
func (s *Supervisor) reap() {
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if err != nil {
			if err == syscall.ECHILD {
				return
			}
			if err == syscall.EINTR {
				continue
			}
			s.log.Errorf("waitpid error; a process may not be cleaned up properly: %v", err)
			return
		}
		if pid <= 0 {
			return
		}
		for _, c := range s.children {
			if c.Pid() == pid {
				c.Finish(ws)
				break
			}
		}
	}
}

func (s *Supervisor) handleShutdown1() {
	if s.stoppingChildren == nil {
		s.stoppingChildren = append([]*Child(nil), s.children...)
	}

	if n := len(s.stoppingChildren); n > 0 {
		s.stoppingChildren[n-1].Stop()
	}

	for _, c := range s.children {
		if !c.IsStopped() {
			return
		}
	}
	if s.onShutdownComplete != nil {
		s.onShutdownComplete()
	}
}

func (s *Supervisor) handleShutdown2() {
	n := len(s.stoppingChildren)
	if n == 0 {
		return
	}
	last := s.stoppingChildren[n-1]
	s.stoppingChildren = s.stoppingChildren[:n-1]
	if !last.IsStopped() {
		s.stoppingChildren = append(s.stoppingChildren, last)
	}
}

// HandleSignals wires SIGTERM/SIGINT/SIGQUIT to Shutdown, SIGHUP to
// onRestart, and SIGUSR2 to onLogReopen, funneled through l's self-pipe.
func (s *Supervisor) HandleSignals(onRestart, onLogReopen func()) {
	shutdownFn := func(os.Signal) {
		s.log.Warn("received shutdown signal")
		s.Shutdown()
	}
	s.l.HandleSignal(syscall.SIGTERM, shutdownFn)
	s.l.HandleSignal(syscall.SIGINT, shutdownFn)
	s.l.HandleSignal(syscall.SIGQUIT, shutdownFn)

	if onRestart != nil {
		s.l.HandleSignal(syscall.SIGHUP, func(os.Signal) {
			s.log.Warn("received SIGHUP indicating restart request")
			onRestart()
		})
	}
	if onLogReopen != nil {
		s.l.HandleSignal(syscall.SIGUSR2, func(os.Signal) {
			s.log.Info("received SIGUSR2 indicating log reopen request")
			onLogReopen()
		})
	}
}
