package registry

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordBareNumberDefaultsToGauge(t *testing.T) {
	r := NewRecorder("", "")
	require.NoError(t, r.Record("myapp.rss", "12345"))
	lines := r.Publish()
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "myapp.rss.value 12345")
}

func TestRecordGaugeExplicit(t *testing.T) {
	r := NewRecorder("", "")
	require.NoError(t, r.Record("cpu.load", "gauge 0.75"))
	lines := r.Publish()
	require.Contains(t, lines[0], "cpu.load.value 0.75")
}

func TestRecordCounterAccumulates(t *testing.T) {
	r := NewRecorder("", "")
	require.NoError(t, r.Record("requests", "counter +5"))
	require.NoError(t, r.Record("requests", "counter +3"))
	lines := r.Publish()
	require.Contains(t, lines[0], "requests.count 8")
}

func TestRecordCounterAbsoluteAndNegativeDelta(t *testing.T) {
	r := NewRecorder("", "")
	require.NoError(t, r.Record("x", "cnt 100"))
	require.NoError(t, r.Record("x", "cnt -10"))
	lines := r.Publish()
	require.Contains(t, lines[0], "x.count 90")
}

func TestRecordUnparseableLineMarksInvalid(t *testing.T) {
	r := NewRecorder("", "")
	err := r.Record("weird", "not a number and no kind")
	require.Error(t, err)
	require.Empty(t, r.Publish())
	// subsequent updates on the same key are silently dropped, not re-erroring
	require.NoError(t, r.Record("weird", "not a number and no kind"))
}

func TestRecordMeterSuppressesRatesUntilDecayed(t *testing.T) {
	r := NewRecorder("", "")
	require.NoError(t, r.Record("hits", "meter +1"))

	lines := r.Publish()
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "hits.count 1")
	require.Contains(t, lines[1], "hits.meanRate")
	for _, line := range lines {
		require.NotContains(t, line, "minuteRate")
	}

	r.DecayRates()
	lines = r.Publish()
	require.Len(t, lines, 5)
	require.Contains(t, lines[2], "hits.1minuteRate")
	require.Contains(t, lines[3], "hits.5minuteRate")
	require.Contains(t, lines[4], "hits.15minuteRate")
}

func TestRecordHistogramReportsPercentiles(t *testing.T) {
	r := NewRecorder("", "")
	for i := 1; i <= 20; i++ {
		require.NoError(t, r.Record("latency", "histogram "+strconv.Itoa(i)))
	}
	lines := r.Publish()
	require.Len(t, lines, 10)
}

func TestDerivGaugeWithExplicitMaxValue(t *testing.T) {
	r := NewRecorder("", "")
	require.NoError(t, r.Record("netin", "derivgauge(4294967295) 100"))
	require.NoError(t, r.Record("netin", "derivgauge(4294967295) 150"))
	lines := r.Publish()
	require.Contains(t, lines[0], "netin.value")
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	saveFile := filepath.Join(dir, "squibd.state")

	r := NewRecorder("", saveFile)
	require.NoError(t, r.Record("counted", "counter +42"))
	require.NoError(t, r.Save())

	data, err := os.ReadFile(saveFile)
	require.NoError(t, err)
	require.Contains(t, string(data), "counted:counter:")

	r2 := NewRecorder("", saveFile)
	require.NoError(t, r2.Record("counted", "counter +1"))
	lines := r2.Publish()
	require.Contains(t, lines[0], "counted.count 43")
}
