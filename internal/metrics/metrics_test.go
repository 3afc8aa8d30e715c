package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheHit()
		m.CacheMiss()
		m.Recomputed(time.Millisecond, 1, 1)
		m.Planned(3, []string{"workspace-scope"})
		m.Reconciled(2)
		m.ReconcileCancelled()
		m.IndexRebuilt()
		m.Evaluated("ok", time.Millisecond)
	})
	assert.Nil(t, New(nil))
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()
	m.Recomputed(time.Millisecond, 3, 1)
	m.Planned(2, []string{"too-many-graphs", "too-many-graphs"})
	m.Evaluated("timeout", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheMisses))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.fragmentsMemo))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.materializeFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.planWarnings.WithLabelValues("too-many-graphs")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evaluations.WithLabelValues("timeout")))
}
