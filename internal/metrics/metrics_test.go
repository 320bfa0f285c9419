package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.JobFinished("fixtures", "fixtures.refresh", OutcomeSuccess)
	m.JobFinished("fixtures", "fixtures.refresh", OutcomeSuccess)
	m.CacheRefresh(OutcomeFailure)
	m.ReconcileEntry(OutcomeDropped)
	m.BetsMigrated(3)
	m.BetsMigrated(0)
	m.SetSyncQueueSize(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobs.WithLabelValues("fixtures", "fixtures.refresh", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheRefreshes.WithLabelValues(OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciled.WithLabelValues(OutcomeDropped)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.betsMigrated))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.syncQueueSize))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobFinished("q", "t", OutcomeSuccess)
		m.CacheRefresh(OutcomeSuccess)
		m.ReconcileEntry(OutcomeSuccess)
		m.BetsMigrated(1)
		m.SetSyncQueueSize(1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.BetsMigrated(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "matchsync_bets_migrated_total 2")
}
