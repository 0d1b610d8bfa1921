package loop

import (
	"container/heap"
	"time"
)

// Timer is a handle to a scheduled callback, returned by Loop.CallLater.
//
// Cancel is safe to call from the loop goroutine only; callers on other
// goroutines must route through Loop.Submit. Timer has no Reset method:
// once scheduled, a timer's due time changes only through CallEvery's own
// rescheduling after each firing.
type Timer struct {
	loop        *Loop
	due         time.Time
	delayedTime time.Duration
	fn          func()
	cancelled   bool
	called      bool
	seq         uint64 // insertion order, breaks due-time ties
	index       int    // heap index, maintained by container/heap
}

// Due reports the timer's current fire time, including any pending delay.
func (t *Timer) Due() time.Time { return t.due.Add(t.delayedTime) }

// Active reports whether the timer has neither fired nor been cancelled.
func (t *Timer) Active() bool { return !t.cancelled && !t.called }

// Cancel marks the timer cancelled. The heap entry is reaped lazily, per
// the amortized-O(1) cancellation model: a running cancellation counter
// triggers a compaction pass once cancelled entries exceed both 50 and
// half the heap (see Loop.compactTimersIfNeeded).
func (t *Timer) Cancel() {
	if t.cancelled || t.called {
		return
	}
	t.cancelled = true
	if t.loop != nil {
		t.loop.cancelledTimers++
	}
}

// timerHeap is a min-heap of *Timer ordered by Due(), ties broken by
// insertion sequence so that callbacks due at or before "now" fire in
// non-decreasing due-time order with stable tie-breaking.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	di, dj := h[i].Due(), h[j].Due()
	if di.Equal(dj) {
		return h[i].seq < h[j].seq
	}
	return di.Before(dj)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// fixEarlier moves a timer that just got an earlier due time back into
// heap order via sift-up, without a full reinsertion.
func (h *timerHeap) fixEarlier(t *Timer) {
	if t.index < 0 || t.index >= len(*h) {
		return
	}
	heap.Fix(h, t.index)
}
