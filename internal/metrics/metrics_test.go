package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CheckIn(OutcomeOK)
	m.CheckIn(OutcomeOK)
	m.CheckIn(OutcomeDuplicate)
	m.Claim("lunch", OutcomeOK, true)
	m.Claim("lunch", OutcomeOK, false)
	m.ImportRow("duplicate", 5)
	m.ImportRow("invalid", 0)
	m.Notification("dropped")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CheckIns.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckIns.WithLabelValues(OutcomeDuplicate)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Claims.WithLabelValues("lunch", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LowStock.WithLabelValues("lunch")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ImportRows.WithLabelValues("duplicate")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ImportRows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("dropped")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CheckIn(OutcomeOK)
		m.Claim("kit", OutcomeError, true)
		m.ImportRow("failed", 1)
		m.Notification("sent")
		m.ObserveTx("claim", 0.1)
	})
}
