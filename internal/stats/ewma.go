// Package stats implements the online statistics used by metric kinds that
// track rate and distribution: exponentially weighted moving averages and
// an exponentially decaying reservoir sample.
package stats

import (
	"math"
	"sync"
	"time"
)

// DecayInterval is the tick period EWMAs are decayed on, matching the
// reporting cadence they are meant to approximate.
const DecayInterval = 10 * time.Second

var (
	// Alpha1 smooths over a 1-minute window at DecayInterval ticks.
	Alpha1 = 1 - math.Exp(-DecayInterval.Seconds()/60.0)
	// Alpha5 smooths over a 5-minute window.
	Alpha5 = 1 - math.Exp(-DecayInterval.Seconds()/60.0/5)
	// Alpha15 smooths over a 15-minute window.
	Alpha15 = 1 - math.Exp(-DecayInterval.Seconds()/60.0/15)
)

// EWMA is an exponentially weighted moving average over uncounted events
// accumulated between Decay ticks.
type EWMA struct {
	mu          sync.Mutex
	alpha       float64
	intervalSec float64
	rate        float64
	uncounted   int64
	initialized bool
}

// NewEWMA constructs an EWMA with the given smoothing constant, decayed
// every DecayInterval.
func NewEWMA(alpha float64) *EWMA {
	return &EWMA{alpha: alpha, intervalSec: DecayInterval.Seconds()}
}

// NewEWMA1 constructs the 1-minute EWMA variant.
func NewEWMA1() *EWMA { return NewEWMA(Alpha1) }

// NewEWMA5 constructs the 5-minute EWMA variant.
func NewEWMA5() *EWMA { return NewEWMA(Alpha5) }

// NewEWMA15 constructs the 15-minute EWMA variant.
func NewEWMA15() *EWMA { return NewEWMA(Alpha15) }

// Update adds n events to the current, not-yet-decayed bucket.
func (e *EWMA) Update(n int64) {
	e.mu.Lock()
	e.uncounted += n
	e.mu.Unlock()
}

// Initialize seeds the average directly, used when restoring persisted
// metric state: a saved rate is trusted outright rather than re-derived
// from a single instantaneous sample.
func (e *EWMA) Initialize(rate float64) {
	e.mu.Lock()
	e.rate = rate
	e.uncounted = 0
	e.initialized = true
	e.mu.Unlock()
}

// Decay folds the uncounted bucket into the moving average. Call once per
// DecayInterval.
func (e *EWMA) Decay() {
	e.mu.Lock()
	defer e.mu.Unlock()
	count := e.uncounted
	e.uncounted = 0
	instantRate := float64(count) / e.intervalSec
	if e.initialized {
		e.rate += e.alpha * (instantRate - e.rate)
	} else {
		e.rate = instantRate
		e.initialized = true
	}
}

// Rate returns the current per-second rate.
func (e *EWMA) Rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

// Initialized reports whether Decay (or Initialize) has run at least once.
// A rate read before then is meaningless and should be suppressed.
func (e *EWMA) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// EWMASet bundles the standard 1/5/15-minute trio, ticked together.
type EWMASet struct {
	M1, M5, M15 *EWMA
}

// NewEWMASet constructs a fresh 1/5/15-minute trio.
func NewEWMASet() *EWMASet {
	return &EWMASet{M1: NewEWMA1(), M5: NewEWMA5(), M15: NewEWMA15()}
}

// Update records n events against all three windows.
func (s *EWMASet) Update(n int64) {
	s.M1.Update(n)
	s.M5.Update(n)
	s.M15.Update(n)
}

// Decay ticks all three windows.
func (s *EWMASet) Decay() {
	s.M1.Decay()
	s.M5.Decay()
	s.M15.Decay()
}

// Initialized reports whether all three windows have decayed at least once.
func (s *EWMASet) Initialized() bool {
	return s.M1.Initialized() && s.M5.Initialized() && s.M15.Initialized()
}
