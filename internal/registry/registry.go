package registry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Recorder parses collector lines into Metric instances, keyed by their
// full (name, kind, kindArgs) identity, and produces report/save
// snapshots of everything it has seen.
type Recorder struct {
	Prefix   string
	SaveFile string

	metrics map[string]Metric
	order   []string // insertion order, for stable-ish iteration before sort

	savedMetrics map[string]map[string]any
	savedEpoch   int64

	onRecord func()
}

// NewRecorder constructs a Recorder and, if saveFile names an existing
// snapshot, loads it for on-demand restoration as matching metrics are
// first seen.
func NewRecorder(prefix, saveFile string) *Recorder {
	r := &Recorder{
		Prefix:   prefix,
		SaveFile: saveFile,
		metrics:  make(map[string]Metric),
	}
	r.loadSavedMetrics()
	return r
}

// OnRecord installs a hook invoked once per successful Record call, used
// to feed the agent's self-statistics counters.
func (r *Recorder) OnRecord(fn func()) { r.onRecord = fn }

// Record parses a single "name value" line (where value may itself begin
// with a "kind(args)" token) and routes it to the matching metric,
// creating one on first sight.
func (r *Recorder) Record(name, value string) error {
	kind, kindArgs, payload, ok := parseValue(value)
	fullName := fmt.Sprintf("%s:%s:%s", name, kind, kindArgs)

	m, exists := r.metrics[fullName]
	if !exists {
		if !ok {
			r.metrics[fullName] = NewInvalid(name)
			r.order = append(r.order, fullName)
			return fmt.Errorf("invalid metric line: %q %q", name, value)
		}
		nm, err := newMetric(name, kind, kindArgs)
		if err != nil {
			r.metrics[fullName] = NewInvalid(name)
			r.order = append(r.order, fullName)
			return err
		}
		r.restoreMetric(nm, fullName)
		r.metrics[fullName] = nm
		r.order = append(r.order, fullName)
		m = nm
	} else if _, isInvalid := m.(*Invalid); isInvalid {
		return nil
	}

	if err := m.Update(payload); err != nil {
		return err
	}
	if r.onRecord != nil {
		r.onRecord()
	}
	return nil
}

// kindToken identifies one of the known metric kinds by the lowercase
// token a collector line may open with.
type kindToken string

const (
	kindString          kindToken = "string"
	kindGauge           kindToken = "gauge"
	kindCounter         kindToken = "counter"
	kindDerivGauge      kindToken = "derivgauge"
	kindMeter           kindToken = "meter"
	kindDerivMeter      kindToken = "derivmeter"
	kindHistogram       kindToken = "histogram"
)

var kindAliases = map[string]kindToken{
	"string":     kindString,
	"gauge":      kindGauge,
	"counter":    kindCounter,
	"cnt":        kindCounter,
	"derivgauge": kindDerivGauge,
	"meter":      kindMeter,
	"derivmeter": kindDerivMeter,
	"histogram":  kindHistogram,
	"hist":       kindHistogram,
}

// parseValue splits a collector payload into its kind token, kind
// arguments, and remaining payload. With no recognised kind prefix, a
// bare numeric value is treated as a gauge; anything else is unparseable.
func parseValue(valueString string) (kind kindToken, kindArgs, payload string, ok bool) {
	parts := strings.SplitN(valueString, " ", 2)
	head := strings.ToLower(parts[0])

	openIdx := strings.IndexByte(head, '(')
	closeIdx := strings.IndexByte(head, ')')
	if openIdx >= 0 && closeIdx > openIdx+1 {
		kindArgs = head[openIdx+1 : closeIdx]
		head = head[:openIdx]
	}

	if k, known := kindAliases[head]; known {
		if len(parts) > 1 {
			payload = parts[1]
		}
		return k, kindArgs, payload, true
	}

	if _, err := strconv.ParseFloat(valueString, 64); err == nil {
		return kindGauge, "", valueString, true
	}
	return "", "", valueString, false
}

func newMetric(name string, kind kindToken, kindArgs string) (Metric, error) {
	switch kind {
	case kindString:
		return NewString(name), nil
	case kindGauge:
		return NewGauge(name), nil
	case kindCounter:
		return NewCounter(name), nil
	case kindDerivGauge:
		maxValue, err := parseMaxValue(kindArgs)
		if err != nil {
			return nil, fmt.Errorf("derivgauge %s: %w", name, err)
		}
		return NewDerivativeGauge(name, maxValue), nil
	case kindMeter:
		return NewMeter(name), nil
	case kindDerivMeter:
		maxValue, err := parseMaxValue(kindArgs)
		if err != nil {
			return nil, fmt.Errorf("derivmeter %s: %w", name, err)
		}
		return NewDerivativeMeter(name, maxValue), nil
	case kindHistogram:
		return NewHistogram(name), nil
	default:
		return nil, fmt.Errorf("unknown metric kind %q", kind)
	}
}

func parseMaxValue(kindArgs string) (int64, error) {
	if kindArgs == "" {
		return MaxCounter64, nil
	}
	return strconv.ParseInt(kindArgs, 10, 64)
}

// decayable is implemented by metric kinds whose rate windows decay on a
// fixed tick independent of report emission (Meter and DerivativeMeter).
type decayable interface {
	Decay()
}

// DecayRates ticks the EWMA windows of every meter-like metric. Intended
// to be scheduled on the event loop every stats.DecayInterval, separate
// from the reporter's own period.
func (r *Recorder) DecayRates() {
	for _, m := range r.metrics {
		if d, ok := m.(decayable); ok {
			d.Decay()
		}
	}
}

// Publish formats every live metric's report lines, sorted by metric name
// to keep the dispatched output deterministic.
func (r *Recorder) Publish() []string {
	epoch := time.Now().Unix()
	names := make([]string, 0, len(r.metrics))
	for k := range r.metrics {
		names = append(names, k)
	}
	sort.Strings(names)

	var lines []string
	for _, k := range names {
		lines = append(lines, r.metrics[k].Report(r.Prefix, epoch)...)
	}
	return lines
}

// Save writes a text snapshot of every metric's persistable state to
// SaveFile, one JSON-encoded line per metric plus a leading timestamp.
// A no-op when SaveFile is empty.
func (r *Recorder) Save() error {
	if r.SaveFile == "" {
		return nil
	}
	epoch := time.Now().Unix()
	var sb strings.Builder
	sb.WriteString("# squibd metrics save file\n")
	sb.WriteString("# ** DO NOT EDIT **\n")
	fmt.Fprintf(&sb, "timestamp %d\n", epoch)

	for fullName, m := range r.metrics {
		data, ok := m.Save()
		if !ok {
			continue
		}
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode metric %s: %w", fullName, err)
		}
		fmt.Fprintf(&sb, "%s %s\n", fullName, encoded)
	}

	return os.WriteFile(r.SaveFile, []byte(sb.String()), 0o644)
}

func (r *Recorder) loadSavedMetrics() {
	if r.SaveFile == "" {
		return
	}
	f, err := os.Open(r.SaveFile)
	if err != nil {
		return // no prior save file; nothing to restore
	}
	defer f.Close()

	saved := make(map[string]map[string]any)
	var epoch int64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if rest, found := strings.CutPrefix(line, "timestamp "); found {
			if v, err := strconv.ParseInt(rest, 10, 64); err == nil {
				epoch = v
			}
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(parts[1]), &data); err != nil {
			continue
		}
		saved[parts[0]] = data
	}
	r.savedMetrics = saved
	r.savedEpoch = epoch
}

func (r *Recorder) restoreMetric(m Metric, fullName string) {
	if r.savedMetrics == nil {
		return
	}
	data, ok := r.savedMetrics[fullName]
	if !ok {
		return
	}
	m.Load(data, r.savedEpoch)
}
