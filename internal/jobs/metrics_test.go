package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	assert.NoError(t, m.Track("cash:period:integrity").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("cash:period:integrity").End(boom), boom)

	assert.Equal(t, 1.0, counterValue(t, m.runs.WithLabelValues("cash:period:integrity", "success")))
	assert.Equal(t, 1.0, counterValue(t, m.runs.WithLabelValues("cash:period:integrity", "failure")))
	assert.Equal(t, 1.0, counterValue(t, m.failures.WithLabelValues("cash:period:integrity")))
}

func TestAddAnomalies(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddAnomalies("multiple_open_periods", 2)
	m.AddAnomalies("multiple_open_periods", 0)
	assert.Equal(t, 2.0, counterValue(t, m.anomalies.WithLabelValues("multiple_open_periods")))

	var nilMetrics *Metrics
	nilMetrics.AddAnomalies("x", 1)
	assert.NoError(t, nilMetrics.Track("x").End(nil))
}
