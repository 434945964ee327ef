package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.EventsIngested.WithLabelValues("p1", "prod").Inc()
	m.TriggersDropped.Inc()

	n, err := promtestutil.GatherAndCount(reg, "loginsight_events_ingested_total", "loginsight_trigger_dropped_total")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 1.0, promtestutil.ToFloat64(m.EventsIngested.WithLabelValues("p1", "prod")))
}

func TestNewWithoutRegisterer(t *testing.T) {
	m := New(nil)
	m.AlertsCreated.WithLabelValues("p1").Inc()
	require.Equal(t, 1.0, promtestutil.ToFloat64(m.AlertsCreated.WithLabelValues("p1")))
}
