package stats

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// ReservoirSize is the default sample capacity used by the agent's
// histograms, matching the fixed size the decaying sample was tuned
// against.
const ReservoirSize = 1028

// Sample collects values and reports order statistics over them.
type Sample interface {
	Update(value float64)
	Values() []float64
	Count() int64
	// Percentiles returns one interpolated value per requested fraction in
	// [0,1], using the same position formula as the agent's other
	// percentile consumers: pos = p*(n+1), floor/ceiling interpolated.
	Percentiles(ps ...float64) []float64
}

func percentilesOf(values []float64, ps []float64) []float64 {
	out := make([]float64, len(ps))
	if len(values) == 0 {
		return out
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	for i, p := range ps {
		pos := p * float64(n+1)
		switch {
		case pos < 1:
			out[i] = sorted[0]
		case pos >= float64(n):
			out[i] = sorted[n-1]
		default:
			lowerIdx := int(pos) - 1
			upperIdx := int(pos)
			lower := sorted[lowerIdx]
			upper := sorted[upperIdx]
			out[i] = lower + (pos-math.Floor(pos))*(upper-lower)
		}
	}
	return out
}

// UniformSample implements Vitter's algorithm R: every value seen so far
// has equal probability of surviving in the reservoir.
type UniformSample struct {
	mu        sync.Mutex
	reservoir []float64
	count     int64
	rng       *rand.Rand
}

// NewUniformSample constructs a uniform reservoir sample of the given
// capacity.
func NewUniformSample(size int) *UniformSample {
	return &UniformSample{
		reservoir: make([]float64, 0, size),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *UniformSample) Update(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	capacity := cap(s.reservoir)
	if len(s.reservoir) < capacity {
		s.reservoir = append(s.reservoir, value)
		return
	}
	r := s.rng.Int63n(s.count)
	if int(r) < capacity {
		s.reservoir[r] = value
	}
}

func (s *UniformSample) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *UniformSample) Values() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.reservoir...)
}

func (s *UniformSample) Percentiles(ps ...float64) []float64 {
	return percentilesOf(s.Values(), ps)
}

// rescaleThreshold is how often an ExponentiallyDecayingSample recomputes
// its priorities against a fresh epoch, bounding floating point underflow
// for long-lived histograms.
const rescaleThreshold = time.Hour

type decayingEntry struct {
	priority float64
	value    float64
}

// ExponentiallyDecayingSample biases retention toward recently-observed
// values: older entries' priorities decay exponentially, so they are
// progressively more likely to be evicted as new ones arrive.
type ExponentiallyDecayingSample struct {
	mu              sync.Mutex
	size            int
	alpha           float64
	reservoir       []decayingEntry
	count           int64
	startTime       time.Time
	nextRescaleTime time.Time
	rng             *rand.Rand
}

// NewExponentiallyDecayingSample constructs a decaying sample with the
// given capacity and decay constant (one of Alpha1/Alpha5/Alpha15).
func NewExponentiallyDecayingSample(size int, alpha float64) *ExponentiallyDecayingSample {
	now := time.Now()
	return &ExponentiallyDecayingSample{
		size:            size,
		alpha:           alpha,
		startTime:       now,
		nextRescaleTime: now.Add(rescaleThreshold),
		rng:             rand.New(rand.NewSource(now.UnixNano())),
	}
}

func (s *ExponentiallyDecayingSample) Update(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(s.startTime).Seconds()
	priority := math.Exp(s.alpha*elapsed) / s.rng.Float64()
	entry := decayingEntry{priority: priority, value: value}

	s.count++
	if len(s.reservoir) < s.size {
		s.reservoir = append(s.reservoir, entry)
	} else if len(s.reservoir) > 0 && s.reservoir[0].priority < priority {
		s.reservoir = s.reservoir[1:]
		s.reservoir = append(s.reservoir, entry)
	}
	sort.Slice(s.reservoir, func(i, j int) bool {
		return s.reservoir[i].priority < s.reservoir[j].priority
	})

	if now.After(s.nextRescaleTime) {
		s.rescale(now)
	}
}

func (s *ExponentiallyDecayingSample) rescale(now time.Time) {
	s.nextRescaleTime = now.Add(rescaleThreshold)
	oldStart := s.startTime
	s.startTime = now
	factor := math.Exp(-s.alpha * now.Sub(oldStart).Seconds())
	for i := range s.reservoir {
		s.reservoir[i].priority *= factor
	}
}

func (s *ExponentiallyDecayingSample) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *ExponentiallyDecayingSample) Values() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.reservoir))
	for i, e := range s.reservoir {
		out[i] = e.value
	}
	return out
}

func (s *ExponentiallyDecayingSample) Percentiles(ps ...float64) []float64 {
	return percentilesOf(s.Values(), ps)
}
