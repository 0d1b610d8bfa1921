package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEWMAConvergesToSteadyRate(t *testing.T) {
	e := NewEWMA1()
	for i := 0; i < 50; i++ {
		e.Update(10) // 10 events per decay tick
		e.Decay()
	}
	// at a steady 1 event/sec (10 per 10s tick), the rate should approach 1.0
	require.InDelta(t, 1.0, e.Rate(), 0.05)
}

func TestEWMAFirstDecayIsInstantRate(t *testing.T) {
	e := NewEWMA1()
	e.Update(100)
	e.Decay()
	require.InDelta(t, 10.0, e.Rate(), 1e-9) // 100 events / 10s interval
}

func TestUniformSampleBoundedByCapacity(t *testing.T) {
	s := NewUniformSample(10)
	for i := 0; i < 1000; i++ {
		s.Update(float64(i))
	}
	require.Equal(t, int64(1000), s.Count())
	require.Len(t, s.Values(), 10)
}

func TestExponentiallyDecayingSamplePercentiles(t *testing.T) {
	s := NewExponentiallyDecayingSample(ReservoirSize, Alpha1)
	for i := 1; i <= 100; i++ {
		s.Update(float64(i))
	}
	p := s.Percentiles(0.5, 0.99)
	require.InDelta(t, 50.5, p[0], 2)
	require.Greater(t, p[1], p[0])
}

func TestDerivativeCountsUp(t *testing.T) {
	d := NewDerivative("test", 0)
	require.Equal(t, int64(0), d.Update(100)) // first observation seeds last_value
	require.Equal(t, int64(50), d.Update(150))
	require.Equal(t, int64(25), d.Update(175))
}

func TestDerivativeResetToSmallerValue(t *testing.T) {
	d := NewDerivative("test", 1000)
	d.Update(500)
	// value dropped but not enough to look like a real wrap against max=1000
	require.Equal(t, int64(0), d.Update(10))
}

func TestDerivativeDropReachingExactlyMaxIsReset(t *testing.T) {
	d := NewDerivative("test", 100)
	d.Update(95)
	// last=95, value=5: 95+5=100, not >100, so this is classified as reset not overflow
	require.Equal(t, int64(0), d.Update(5))
}

func TestDerivativeOverflowWraps(t *testing.T) {
	d := NewDerivative("test", 100)
	d.Update(98)
	// last=98, value=3: 98+3=101 > 100 -> overflow compensation: 3 - (98-100) = 5
	require.Equal(t, int64(5), d.Update(3))
}
