package loop

import (
	"container/heap"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerHeapOrdering(t *testing.T) {
	var h timerHeap
	now := time.Now()

	mk := func(offset time.Duration, seq uint64) *Timer {
		return &Timer{due: now.Add(offset), seq: seq}
	}

	heap.Push(&h, mk(30*time.Millisecond, 3))
	heap.Push(&h, mk(10*time.Millisecond, 1))
	heap.Push(&h, mk(20*time.Millisecond, 2))
	heap.Push(&h, mk(10*time.Millisecond, 4)) // tie on due, later seq

	var order []uint64
	for h.Len() > 0 {
		order = append(order, heap.Pop(&h).(*Timer).seq)
	}
	require.Equal(t, []uint64{1, 4, 2, 3}, order)
}

func TestTimerCancelMarksInactive(t *testing.T) {
	tm := &Timer{due: time.Now()}
	require.True(t, tm.Active())
	tm.Cancel()
	require.False(t, tm.Active())
	tm.Cancel() // idempotent
	require.False(t, tm.Active())
}

func TestTimerDueIncludesDelay(t *testing.T) {
	base := time.Now()
	tm := &Timer{due: base}
	require.True(t, tm.Due().Equal(base))
	tm.delayedTime = 5 * time.Second
	require.True(t, tm.Due().Equal(base.Add(5*time.Second)))
}
