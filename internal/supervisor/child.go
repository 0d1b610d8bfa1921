// Package supervisor implements the housekeeping state machine that
// forks, monitors, and restarts the collector child processes squibd
// reads metric lines from.
package supervisor

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/mcrewson/squibd/internal/loop"
	"github.com/mcrewson/squibd/internal/reactor"
	"github.com/sirupsen/logrus"
)

// State is one of a Child's lifecycle states, mirroring a classic
// process-supervisor state machine.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateBackoff
	StateStopping
	StateExited
	StateFatal
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateBackoff:
		return "BACKOFF"
	case StateStopping:
		return "STOPPING"
	case StateExited:
		return "EXITED"
	case StateFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (s State) isStopped() bool {
	switch s {
	case StateStopped, StateExited, StateFatal, StateUnknown:
		return true
	default:
		return false
	}
}

// Spec describes how to launch and supervise one collector.
type Spec struct {
	Name         string
	Priority     int
	Argv         []string
	Env          []string
	StartSecs    time.Duration
	StartRetries int
	StopSignal   syscall.Signal
	StopWaitSecs time.Duration
	// OnLine receives each stdout line the collector emits.
	OnLine func(line []byte)
	// OnStderrLine receives each stderr line, for rate-limited forwarding
	// to the agent's own log.
	OnStderrLine func(line []byte)
}

// Child is one supervised collector process.
type Child struct {
	Spec

	log *logrus.Entry
	l   *loop.Loop

	state     State
	pid       int
	lastStart time.Time
	lastStop  time.Time
	delay     time.Time
	killing   bool
	backoff   int

	stdout *reactor.LineReader
	stderr *reactor.LineReader
}

// NewChild constructs a Child ready for Launch, applying defaults for any
// zero-valued Spec fields.
func NewChild(l *loop.Loop, logger *logrus.Logger, spec Spec) *Child {
	if spec.StartSecs <= 0 {
		spec.StartSecs = time.Second
	}
	if spec.StartRetries <= 0 {
		spec.StartRetries = 3
	}
	if spec.StopSignal == 0 {
		spec.StopSignal = syscall.SIGTERM
	}
	if spec.StopWaitSecs <= 0 {
		spec.StopWaitSecs = 10 * time.Second
	}
	if spec.Priority == 0 {
		spec.Priority = 999
	}
	return &Child{
		Spec:  spec,
		l:     l,
		log:   logger.WithField("collector", spec.Name),
		state: StateStopped,
	}
}

func (c *Child) State() State   { return c.state }
func (c *Child) Pid() int       { return c.pid }
func (c *Child) IsStopped() bool { return c.state.isStopped() }

func (c *Child) changeState(newState State) {
	if newState == c.state {
		return
	}
	if newState == StateBackoff {
		c.backoff++
		c.delay = time.Now().Add(time.Duration(c.backoff) * time.Second)
	}
	c.log.Debugf("%s: %s -> %s", c.Name, c.state, newState)
	c.state = newState
}

// DoStateTransition advances the state machine one housekeeping tick,
// the way do_state_transition walks ChildStates in the original
// supervisor: relaunch an exited/never-started child, retry a
// backed-off one once its delay elapses, confirm a starting child has
// survived StartSecs, and escalate a stalled stop to SIGKILL.
func (c *Child) DoStateTransition() {
	now := time.Now()
	switch c.state {
	case StateExited:
		c.Launch()
	case StateStopped:
		if c.lastStart.IsZero() {
			c.Launch()
		}
	case StateBackoff:
		if c.backoff <= c.StartRetries {
			if now.After(c.delay) {
				c.Launch()
			}
		} else {
			c.giveUp()
		}
	case StateStarting:
		if now.Sub(c.lastStart) > c.StartSecs {
			c.delay = time.Time{}
			c.backoff = 0
			c.changeState(StateRunning)
		}
	case StateStopping:
		if now.After(c.delay) {
			c.kill(syscall.SIGKILL)
		}
	}
}

// Launch forks and execs the collector, registering its stdout/stderr
// pipes with the loop's poller.
func (c *Child) Launch() {
	if c.pid != 0 {
		c.log.Warnf("process %s already running", c.Name)
		return
	}
	c.lastStart = time.Now()
	c.changeState(StateStarting)

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		c.launchFailed(err)
		return
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		c.launchFailed(err)
		return
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		c.launchFailed(err)
		return
	}

	attr := &syscall.ProcAttr{
		Env:   c.Env,
		Files: []uintptr{stdinR.Fd(), stdoutW.Fd(), stderrW.Fd()},
		Sys:   &syscall.SysProcAttr{Setpgid: true},
	}
	if len(attr.Env) == 0 {
		attr.Env = os.Environ()
	}

	pid, err := syscall.ForkExec(c.Argv[0], c.Argv, attr)
	// The parent no longer needs the child's ends, regardless of outcome.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdinW.Close()
		stdoutR.Close()
		stderrR.Close()
		c.launchFailed(err)
		return
	}

	c.pid = pid
	_ = stdinW.Close() // squibd never writes to a collector's stdin
	c.log.Infof("launched %s with pid %d", c.Name, pid)
	c.delay = time.Now().Add(c.StartSecs)

	c.stdout = &reactor.LineReader{
		Fd:     int(stdoutR.Fd()),
		OnLine: c.Spec.OnLine,
	}
	if err := reactor.Register(c.l, c.stdout); err != nil {
		c.log.Warnf("failed to register stdout reactor for %s: %v", c.Name, err)
	}

	c.stderr = &reactor.LineReader{
		Fd:     int(stderrR.Fd()),
		OnLine: c.Spec.OnStderrLine,
	}
	if err := reactor.Register(c.l, c.stderr); err != nil {
		c.log.Warnf("failed to register stderr reactor for %s: %v", c.Name, err)
	}
}

func (c *Child) launchFailed(err error) {
	c.log.Warnf("launch error for %s: %v", c.Name, err)
	c.changeState(StateBackoff)
}

// Stop requests a graceful stop, escalating a backed-off child straight
// to FATAL since there is no running process to signal.
func (c *Child) Stop() {
	switch c.state {
	case StateRunning, StateStarting:
		c.kill(c.StopSignal)
	case StateBackoff:
		c.giveUp()
	}
}

func (c *Child) kill(sig syscall.Signal) {
	if c.pid == 0 {
		c.log.Debugf("attempted to kill %s but it wasn't running", c.Name)
		return
	}
	c.log.Debugf("killing %s (pid %d) with %s", c.Name, c.pid, sig)

	c.killing = true
	c.delay = time.Now().Add(c.StopWaitSecs)
	c.changeState(StateStopping)

	if err := syscall.Kill(c.pid, sig); err != nil {
		c.log.Errorf("problem killing %s (%d): %v", c.Name, c.pid, err)
		c.changeState(StateUnknown)
		c.pid = 0
		c.killing = false
		c.delay = time.Time{}
	}
}

func (c *Child) giveUp() {
	c.delay = time.Time{}
	c.backoff = 0
	c.changeState(StateFatal)
}

// Finish is called once waitpid reaps this child's pid, decoding its exit
// status and transitioning state: STOPPING -> STOPPED when the exit was
// requested, STARTING -> BACKOFF when it died before StartSecs elapsed,
// RUNNING -> EXITED otherwise.
func (c *Child) Finish(ws syscall.WaitStatus) {
	msg := describeWaitStatus(ws)

	now := time.Now()
	c.lastStop = now
	tooQuickly := now.Sub(c.lastStart) < c.StartSecs

	switch {
	case c.killing:
		c.killing = false
		c.delay = time.Time{}
		c.log.Infof("stopped: %s (%s)", c.Name, msg)
		c.changeState(StateStopped)
	case tooQuickly:
		c.log.Infof("exited: %s (%s); not expected", c.Name, msg)
		c.changeState(StateBackoff)
	default:
		c.delay = time.Time{}
		c.backoff = 0
		if c.state == StateStarting {
			c.changeState(StateRunning)
		}
		c.log.Infof("exited: %s (%s); not expected", c.Name, msg)
		c.changeState(StateExited)
	}

	c.pid = 0
	if c.stdout != nil {
		_ = reactor.Unregister(c.l, c.stdout)
		c.stdout = nil
	}
	if c.stderr != nil {
		_ = reactor.Unregister(c.l, c.stderr)
		c.stderr = nil
	}
}

func describeWaitStatus(ws syscall.WaitStatus) string {
	switch {
	case ws.Exited():
		return fmt.Sprintf("exit status %d", ws.ExitStatus())
	case ws.Signaled():
		msg := fmt.Sprintf("terminated by %s", ws.Signal())
		if ws.CoreDump() {
			msg += " (core dumped)"
		}
		return msg
	default:
		return fmt.Sprintf("unknown termination cause %#x", uint32(ws))
	}
}
