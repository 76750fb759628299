package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazarusking/theaccelbot/internal/logger"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)

	m.RecordFire(true, 120*time.Millisecond)
	m.RecordFire(false, time.Second)
	m.RecordDelivery(StatusDelivered)
	m.RecordDelivery(StatusFailed)
	m.RecordDelivery(StatusFailed)
	m.RecordRecovery(OutcomeCaughtUp)
	m.SetArmedTimers(3)
	m.AddOrphansSwept(2)
	m.SetStoredJobs(7)
	m.RecordCommand("set", "ok")

	out := scrape(t, reg)
	for _, want := range []string{
		`test_fires_total{kind="recurring"} 1`,
		`test_fires_total{kind="once"} 1`,
		`test_deliveries_total{status="failed"} 2`,
		`test_deliveries_total{status="delivered"} 1`,
		`test_recovery_jobs_total{outcome="caught_up"} 1`,
		`test_armed_timers 3`,
		`test_orphans_swept_total 2`,
		`test_stored_jobs 7`,
		`test_commands_total{command="set",result="ok"} 1`,
		`test_fire_duration_seconds_count 2`,
	} {
		assert.Contains(t, out, want)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordFire(true, time.Second)
		m.RecordDelivery(StatusDelivered)
		m.RecordRecovery(OutcomePruned)
		m.SetArmedTimers(1)
		m.AddOrphansSwept(1)
		m.SetStoredJobs(1)
		m.RecordCommand("all", "ok")
	})
}

func TestServer_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("accel", reg)
	m.SetArmedTimers(5)

	srv := NewServer(":0", reg, logger.Nop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "accel_armed_timers 5"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	srv := NewServer(":0", reg, logger.Nop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
