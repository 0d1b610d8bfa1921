package loop

import (
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func runLoopFor(t *testing.T, l *Loop, timeout time.Duration) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(timeout):
		l.Stop()
		require.NoError(t, <-done)
	}
}

func TestCallLaterFires(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	var fired atomic.Bool
	l.CallLater(10*time.Millisecond, func() {
		fired.Store(true)
		l.Stop()
	})

	runLoopFor(t, l, time.Second)
	require.True(t, fired.Load())
}

func TestCallLaterCancelPreventsFiring(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	var fired atomic.Bool
	tm := l.CallLater(20*time.Millisecond, func() { fired.Store(true) })
	tm.Cancel()

	l.CallLater(60*time.Millisecond, func() { l.Stop() })
	runLoopFor(t, l, time.Second)
	require.False(t, fired.Load())
}

func TestCallLaterOrdersByDueTime(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	var order []int
	l.CallLater(30*time.Millisecond, func() { order = append(order, 3) })
	l.CallLater(10*time.Millisecond, func() { order = append(order, 1) })
	l.CallLater(20*time.Millisecond, func() {
		order = append(order, 2)
	})
	l.CallLater(40*time.Millisecond, func() { l.Stop() })

	runLoopFor(t, l, time.Second)
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestSubmitFromOtherGoroutine(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	done := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		l.Submit(func() {
			close(done)
			l.Stop()
		})
	}()

	runLoopFor(t, l, time.Second)
	select {
	case <-done:
	default:
		t.Fatal("submitted function never ran")
	}
}

func TestHandleSignalDispatchesOnLoopGoroutine(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	received := make(chan struct{}, 1)
	l.HandleSignal(syscall.SIGUSR1, func(os.Signal) {
		received <- struct{}{}
		l.Stop()
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGUSR1)
	}()

	runLoopFor(t, l, time.Second)
	select {
	case <-received:
	default:
		t.Fatal("signal handler never ran")
	}
}

func TestCancelTriggersLazyHeapCompaction(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	const total = 120
	const cancelCount = 61 // > compactionThreshold and > half of total

	timers := make([]*Timer, total)
	for i := range timers {
		timers[i] = l.CallLater(time.Hour, func() {})
	}
	for i := 0; i < cancelCount; i++ {
		timers[i].Cancel()
	}

	require.Equal(t, cancelCount, l.cancelledTimers)
	require.Len(t, l.timers, total)

	l.runDueTimers()

	require.Equal(t, 0, l.cancelledTimers)
	require.Len(t, l.timers, total-cancelCount)
}

func TestCallEveryReschedules(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	var count atomic.Int32
	var tm *Timer
	tm = l.CallEvery(5*time.Millisecond, func() {
		if count.Add(1) >= 3 {
			tm.Cancel()
			l.Stop()
		}
	})

	runLoopFor(t, l, time.Second)
	require.GreaterOrEqual(t, count.Load(), int32(3))
}
