// Package registry implements the typed metric registry: parsing a
// collector's raw "name kind(args) payload" lines into one of the known
// metric kinds, keeping its running state, and formatting report lines
// and persisted snapshots.
package registry

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/mcrewson/squibd/internal/stats"
)

// MaxCounter64 is the wrap point assumed for a 64-bit derivative counter
// with no explicit max_value argument.
const MaxCounter64 = int64(^uint64(0) >> 1)

// Metric is one tracked value, keyed by (name, kind, kindArgs). Update
// receives the raw payload text following the kind token; Report appends
// zero or more formatted lines; Save/Load round-trip persisted state.
type Metric interface {
	Name() string
	Update(payload string) error
	Report(prefix string, epoch int64) []string
	Save() (map[string]any, bool)
	Load(data map[string]any, savedEpoch int64)
}

// base carries the fields every concrete metric kind needs.
type base struct {
	name string
}

func (b *base) Name() string { return b.name }

// Invalid is a tagged sentinel for a (name, kind, args) key that failed to
// parse once; subsequent updates for the same key are silently dropped
// rather than re-attempting the parse on every line.
type Invalid struct {
	base
}

func NewInvalid(name string) *Invalid                 { return &Invalid{base{name}} }
func (m *Invalid) Update(string) error                { return nil }
func (m *Invalid) Report(string, int64) []string      { return nil }
func (m *Invalid) Save() (map[string]any, bool)       { return nil, false }
func (m *Invalid) Load(map[string]any, int64)         {}

// String holds the most recently reported free-text value.
type String struct {
	base
	value string
}

func NewString(name string) *String { return &String{base: base{name}} }

func (m *String) Update(payload string) error {
	m.value = payload
	return nil
}

func (m *String) Report(prefix string, epoch int64) []string {
	return []string{fmt.Sprintf("%s%s.string %q %d", prefix, m.name, m.value, epoch)}
}

func (m *String) Save() (map[string]any, bool) {
	return map[string]any{"value": m.value}, true
}

func (m *String) Load(data map[string]any, _ int64) {
	if v, ok := data["value"].(string); ok {
		m.value = v
	}
}

// Gauge holds the most recently reported numeric value verbatim.
type Gauge struct {
	base
	value float64
}

func NewGauge(name string) *Gauge { return &Gauge{base: base{name}} }

func (m *Gauge) Update(payload string) error {
	v, err := strconv.ParseFloat(payload, 64)
	if err != nil {
		return fmt.Errorf("gauge %s: %w", m.name, err)
	}
	m.value = v
	return nil
}

func (m *Gauge) Report(prefix string, epoch int64) []string {
	return []string{fmt.Sprintf("%s%s.value %v %d", prefix, m.name, m.value, epoch)}
}

func (m *Gauge) Save() (map[string]any, bool) {
	return map[string]any{"value": m.value}, true
}

func (m *Gauge) Load(data map[string]any, _ int64) {
	if v, ok := data["value"].(float64); ok {
		m.value = v
	}
}

// Counter accumulates a running total, interpreting a leading '+'/'-' as a
// delta against the current count and a bare number as an absolute value.
type Counter struct {
	base
	count int64
}

func NewCounter(name string) *Counter { return &Counter{base: base{name}} }

func (m *Counter) Update(payload string) error {
	delta, absolute, err := parseCounterPayload(payload)
	if err != nil {
		return fmt.Errorf("counter %s: %w", m.name, err)
	}
	if absolute {
		m.count = delta
	} else {
		m.count += delta
	}
	return nil
}

func parseCounterPayload(payload string) (value int64, absolute bool, err error) {
	if payload == "" {
		return 0, true, fmt.Errorf("empty payload")
	}
	switch payload[0] {
	case '+':
		v, err := strconv.ParseInt(payload[1:], 10, 64)
		return v, false, err
	case '-':
		v, err := strconv.ParseInt(payload[1:], 10, 64)
		return -v, false, err
	default:
		v, err := strconv.ParseInt(payload, 10, 64)
		return v, true, err
	}
}

func (m *Counter) Report(prefix string, epoch int64) []string {
	return []string{fmt.Sprintf("%s%s.count %d %d", prefix, m.name, m.count, epoch)}
}

func (m *Counter) Save() (map[string]any, bool) {
	return map[string]any{"count": float64(m.count)}, true
}

func (m *Counter) Load(data map[string]any, _ int64) {
	if v, ok := data["count"].(float64); ok {
		m.count = int64(v)
	}
}

// DerivativeGauge reports the rate of change of an underlying
// monotonically-increasing counter, per time elapsed between updates.
type DerivativeGauge struct {
	base
	deriv *stats.TimedDerivative
	value float64
}

func NewDerivativeGauge(name string, maxValue int64) *DerivativeGauge {
	return &DerivativeGauge{base: base{name}, deriv: stats.NewTimedDerivative(name, maxValue)}
}

func (m *DerivativeGauge) Update(payload string) error {
	v, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return fmt.Errorf("derivgauge %s: %w", m.name, err)
	}
	m.value = m.deriv.Update(v)
	return nil
}

func (m *DerivativeGauge) Report(prefix string, epoch int64) []string {
	return []string{fmt.Sprintf("%s%s.value %.2f %d", prefix, m.name, m.value, epoch)}
}

func (m *DerivativeGauge) Save() (map[string]any, bool) {
	return map[string]any{"value": m.value, "last_value": float64(m.deriv.Derivative.LastValue())}, true
}

func (m *DerivativeGauge) Load(data map[string]any, _ int64) {
	if v, ok := data["value"].(float64); ok {
		m.value = v
	}
	if lv, ok := data["last_value"].(float64); ok {
		m.deriv.Derivative.SetLastValue(int64(lv))
	}
}

// Meter tracks a running count plus 1/5/15-minute EWMA rates.
type Meter struct {
	base
	count     int64
	startTime time.Time
	rates     *stats.EWMASet
}

func NewMeter(name string) *Meter {
	return &Meter{base: base{name}, startTime: time.Now(), rates: stats.NewEWMASet()}
}

func (m *Meter) updateCount(cnt int64) {
	m.count += cnt
	m.rates.Update(cnt)
}

// Decay ticks the meter's three EWMA windows. Called on the event loop
// every stats.DecayInterval, independent of report emission.
func (m *Meter) Decay() { m.rates.Decay() }

func (m *Meter) Update(payload string) error {
	cnt, err := parseMeterDelta(payload)
	if err != nil {
		return fmt.Errorf("meter %s: %w", m.name, err)
	}
	m.updateCount(cnt)
	return nil
}

func parseMeterDelta(payload string) (int64, error) {
	if payload == "" {
		return 0, fmt.Errorf("empty payload")
	}
	if payload[0] == '+' {
		return strconv.ParseInt(payload[1:], 10, 64)
	}
	return strconv.ParseInt(payload, 10, 64)
}

func (m *Meter) meanRate() float64 {
	if m.count == 0 {
		return 0
	}
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.count) / elapsed
}

// Report suppresses the three EWMA rate lines until every window has
// decayed at least once, matching MeterMetric.report's behaviour in the
// original: a rate computed before the first decay tick is meaningless,
// not just zero.
func (m *Meter) Report(prefix string, epoch int64) []string {
	lines := []string{
		fmt.Sprintf("%s%s.count %d %d", prefix, m.name, m.count, epoch),
		fmt.Sprintf("%s%s.meanRate %.2f %d", prefix, m.name, m.meanRate(), epoch),
	}
	if m.rates.Initialized() {
		lines = append(lines,
			fmt.Sprintf("%s%s.1minuteRate %.2f %d", prefix, m.name, m.rates.M1.Rate(), epoch),
			fmt.Sprintf("%s%s.5minuteRate %.2f %d", prefix, m.name, m.rates.M5.Rate(), epoch),
			fmt.Sprintf("%s%s.15minuteRate %.2f %d", prefix, m.name, m.rates.M15.Rate(), epoch),
		)
	}
	return lines
}

func (m *Meter) Save() (map[string]any, bool) {
	return map[string]any{
		"count":      float64(m.count),
		"start_time": float64(m.startTime.Unix()),
		"m1_rate":    m.rates.M1.Rate(),
		"m5_rate":    m.rates.M5.Rate(),
		"m15_rate":   m.rates.M15.Rate(),
	}, true
}

// restoreWindowGate mirrors the save-file's EWMA restore gating: a saved
// window rate is only trusted if less time has passed since the save than
// that window's span, otherwise a stale rate would mislead more than a
// fresh zero would.
func restoreWindowGate(savedEpoch int64, span time.Duration) bool {
	if savedEpoch == 0 {
		return false
	}
	return time.Since(time.Unix(savedEpoch, 0)) < span
}

func (m *Meter) Load(data map[string]any, savedEpoch int64) {
	if v, ok := data["count"].(float64); ok {
		m.count = int64(v)
	}
	if v, ok := data["start_time"].(float64); ok {
		m.startTime = time.Unix(int64(v), 0)
	}
	if v, ok := data["m1_rate"].(float64); ok && restoreWindowGate(savedEpoch, 60*time.Second) {
		m.rates.M1.Initialize(v)
	}
	if v, ok := data["m5_rate"].(float64); ok && restoreWindowGate(savedEpoch, 300*time.Second) {
		m.rates.M5.Initialize(v)
	}
	if v, ok := data["m15_rate"].(float64); ok && restoreWindowGate(savedEpoch, 900*time.Second) {
		m.rates.M15.Initialize(v)
	}
}

// DerivativeMeter is a Meter fed by the delta of a monotonically
// increasing counter, rather than raw event counts.
type DerivativeMeter struct {
	Meter
	deriv *stats.Derivative
}

func NewDerivativeMeter(name string, maxValue int64) *DerivativeMeter {
	return &DerivativeMeter{Meter: *NewMeter(name), deriv: stats.NewDerivative(name, maxValue)}
}

func (m *DerivativeMeter) Update(payload string) error {
	if payload != "" && payload[0] == '+' {
		payload = payload[1:]
	}
	v, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return fmt.Errorf("derivmeter %s: %w", m.name, err)
	}
	m.updateCount(m.deriv.Update(v))
	return nil
}

// Histogram tracks count/min/max/mean/stddev plus a decaying-sample
// percentile distribution over updates.
type Histogram struct {
	base
	count    int64
	minVal   *int64
	maxVal   *int64
	sum      int64
	meanAcc  float64
	sVar     float64 // running sum of squared deviations (Welford's M2)
	sample   *stats.ExponentiallyDecayingSample
}

func NewHistogram(name string) *Histogram {
	return &Histogram{base: base{name}, sample: stats.NewExponentiallyDecayingSample(stats.ReservoirSize, stats.Alpha5)}
}

func (m *Histogram) Update(payload string) error {
	v, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return fmt.Errorf("histogram %s: %w", m.name, err)
	}
	m.count++
	m.sample.Update(float64(v))
	if m.minVal == nil || v < *m.minVal {
		m.minVal = &v
	}
	if m.maxVal == nil || v > *m.maxVal {
		m.maxVal = &v
	}
	m.sum += v
	delta := float64(v) - m.meanAcc
	m.meanAcc += delta / float64(m.count)
	m.sVar += delta * (float64(v) - m.meanAcc)
	return nil
}

func (m *Histogram) stddev() float64 {
	if m.count <= 1 {
		return 0
	}
	variance := m.sVar / float64(m.count-1)
	if variance < 0 {
		return 0
	}
	return math.Sqrt(variance)
}

func (m *Histogram) Report(prefix string, epoch int64) []string {
	p := m.sample.Percentiles(0.5, 0.75, 0.95, 0.98, 0.99, 0.999)
	var minV, maxV, meanV float64
	if m.minVal != nil {
		minV = float64(*m.minVal)
	}
	if m.maxVal != nil {
		maxV = float64(*m.maxVal)
	}
	if m.count > 0 {
		meanV = float64(m.sum) / float64(m.count)
	}
	return []string{
		fmt.Sprintf("%s%s.min %.2f %d", prefix, m.name, minV, epoch),
		fmt.Sprintf("%s%s.max %.2f %d", prefix, m.name, maxV, epoch),
		fmt.Sprintf("%s%s.mean %.2f %d", prefix, m.name, meanV, epoch),
		fmt.Sprintf("%s%s.stddev %.2f %d", prefix, m.name, m.stddev(), epoch),
		fmt.Sprintf("%s%s.median %.2f %d", prefix, m.name, p[0], epoch),
		fmt.Sprintf("%s%s.75percentile %.2f %d", prefix, m.name, p[1], epoch),
		fmt.Sprintf("%s%s.95percentile %.2f %d", prefix, m.name, p[2], epoch),
		fmt.Sprintf("%s%s.98percentile %.2f %d", prefix, m.name, p[3], epoch),
		fmt.Sprintf("%s%s.99percentile %.2f %d", prefix, m.name, p[4], epoch),
		fmt.Sprintf("%s%s.999percentile %.2f %d", prefix, m.name, p[5], epoch),
	}
}

func (m *Histogram) Save() (map[string]any, bool) { return nil, false }
func (m *Histogram) Load(map[string]any, int64)   {}
