package loop

import (
	"container/heap"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"
)

// Loop is the agent's single-threaded event loop: a timer priority queue
// driven alongside a readiness poller over file descriptors, plus a
// self-pipe/eventfd funnel for OS signals and cross-goroutine submissions.
//
// All methods except Submit and HandleSignal must be called from the
// goroutine running Run.
type Loop struct {
	poller Poller
	timers timerHeap
	seq    uint64

	wakeReadFd, wakeWriteFd int

	mu      sync.Mutex
	pending []func()

	sigMu    sync.Mutex
	sigCh    chan os.Signal
	sigSubs  map[os.Signal][]func(os.Signal)
	sigOnce  sync.Once
	stopping bool
	stopped  bool

	cancelledTimers int
}

// New constructs a Loop with the best available platform poller and an
// armed self-wake descriptor.
func New() (*Loop, error) {
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("loop: new poller: %w", err)
	}
	rfd, wfd, err := newWakeFd()
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("loop: new wake fd: %w", err)
	}
	l := &Loop{
		poller:      p,
		wakeReadFd:  rfd,
		wakeWriteFd: wfd,
		sigSubs:     make(map[os.Signal][]func(os.Signal)),
	}
	if err := p.Add(rfd, EventRead, l.onWake); err != nil {
		closeWakeFd(rfd, wfd)
		_ = p.Close()
		return nil, fmt.Errorf("loop: register wake fd: %w", err)
	}
	return l, nil
}

// onWake drains the wake descriptor and runs anything queued by Submit or
// relayed from a signal.
func (l *Loop) onWake(IOEvent) {
	wakeDrain(l.wakeReadFd)
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

// Submit queues fn to run on the loop goroutine, waking it if necessary.
// Safe to call from any goroutine, including signal handlers' relay
// goroutines.
func (l *Loop) Submit(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	_ = wakeWrite(l.wakeWriteFd)
}

// HandleSignal arranges for fn to be invoked on the loop goroutine whenever
// sig is received, funneled through the self-pipe rather than run directly
// on the runtime's signal-delivery goroutine.
func (l *Loop) HandleSignal(sig os.Signal, fn func(os.Signal)) {
	l.sigMu.Lock()
	l.sigSubs[sig] = append(l.sigSubs[sig], fn)
	l.sigMu.Unlock()

	l.sigOnce.Do(func() {
		l.sigCh = make(chan os.Signal, 16)
		go l.relaySignals()
	})
	signal.Notify(l.sigCh, sig)
}

func (l *Loop) relaySignals() {
	for sig := range l.sigCh {
		sig := sig
		l.Submit(func() { l.dispatchSignal(sig) })
	}
}

func (l *Loop) dispatchSignal(sig os.Signal) {
	l.sigMu.Lock()
	subs := append([]func(os.Signal){}, l.sigSubs[sig]...)
	l.sigMu.Unlock()
	for _, fn := range subs {
		fn(sig)
	}
}

// AddFd registers fd with the loop's poller.
func (l *Loop) AddFd(fd int, events IOEvent, cb IOCallback) error {
	return l.poller.Add(fd, events, cb)
}

// ModifyFd changes the event mask for an already-registered fd.
func (l *Loop) ModifyFd(fd int, events IOEvent) error {
	return l.poller.Modify(fd, events)
}

// RemoveFd unregisters fd from the loop's poller.
func (l *Loop) RemoveFd(fd int) error {
	return l.poller.Remove(fd)
}

// CallLater schedules fn to run after d elapses, measured from now. It
// returns a Timer handle that can be cancelled before it fires.
func (l *Loop) CallLater(d time.Duration, fn func()) *Timer {
	l.seq++
	t := &Timer{
		loop: l,
		due:  time.Now().Add(d),
		fn:   fn,
		seq:  l.seq,
	}
	heap.Push(&l.timers, t)
	return t
}

// CallEvery schedules fn to run every d, starting after one interval.
// The returned Timer reschedules itself on each firing; cancelling it
// before a firing prevents that firing and all subsequent ones.
func (l *Loop) CallEvery(d time.Duration, fn func()) *Timer {
	var t *Timer
	var wrapped func()
	wrapped = func() {
		fn()
		if t != nil && !t.cancelled {
			t.called = false
			t.due = time.Now().Add(d)
			l.seq++
			t.seq = l.seq
			heap.Push(&l.timers, t)
		}
	}
	t = l.CallLater(d, wrapped)
	return t
}

// Stop requests the loop to exit its Run call once the current iteration
// finishes.
func (l *Loop) Stop() {
	l.Submit(func() { l.stopping = true })
}

// Close releases the loop's poller and wake descriptors. Call after Run
// returns.
func (l *Loop) Close() error {
	if l.sigCh != nil {
		signal.Stop(l.sigCh)
		close(l.sigCh)
	}
	closeWakeFd(l.wakeReadFd, l.wakeWriteFd)
	return l.poller.Close()
}

// compactionThreshold gates how many lazily-cancelled timers accumulate
// before a heap rebuild, per the amortized-O(1) cancellation model: a
// rebuild triggers only once cancelled entries exceed both an absolute
// floor and half the live heap.
const compactionThreshold = 50

func (l *Loop) compactTimersIfNeeded() {
	if l.cancelledTimers <= compactionThreshold || l.cancelledTimers*2 <= len(l.timers) {
		return
	}
	live := make(timerHeap, 0, len(l.timers)-l.cancelledTimers)
	for _, t := range l.timers {
		if t.cancelled {
			continue
		}
		live = append(live, t)
	}
	l.timers = live
	heap.Init(&l.timers)
	l.cancelledTimers = 0
}

// nextTimeout returns how long, in milliseconds, the poller should block
// before the next timer is due to fire (-1 means block indefinitely, 0
// means a timer is already due).
func (l *Loop) nextTimeout() int {
	for len(l.timers) > 0 && l.timers[0].cancelled {
		heap.Pop(&l.timers)
		l.cancelledTimers--
	}
	if len(l.timers) == 0 {
		return -1
	}
	d := time.Until(l.timers[0].Due())
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > int64(^uint32(0)>>1) {
		ms = int64(^uint32(0) >> 1)
	}
	return int(ms)
}

// runDueTimers fires every timer whose due time has passed.
func (l *Loop) runDueTimers() {
	now := time.Now()
	for len(l.timers) > 0 {
		t := l.timers[0]
		if t.cancelled {
			heap.Pop(&l.timers)
			l.cancelledTimers--
			continue
		}
		if t.Due().After(now) {
			break
		}
		heap.Pop(&l.timers)
		t.called = true
		t.fn()
	}
	l.compactTimersIfNeeded()
}

// Run drives the loop until Stop is called. It is not reentrant and must
// be called from a single goroutine.
func (l *Loop) Run() error {
	for !l.stopping {
		timeout := l.nextTimeout()
		if _, err := l.poller.Wait(timeout); err != nil {
			return fmt.Errorf("loop: poll wait: %w", err)
		}
		l.runDueTimers()
	}
	l.stopped = true
	return nil
}

// Stopped reports whether Run has returned.
func (l *Loop) Stopped() bool { return l.stopped }
