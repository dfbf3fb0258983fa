package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.Broadcast("All")
	m.Delivered("All")
	m.Delivered("All")
	m.SendFailed("All")
	m.DecodeFailed("truncated")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcasts.WithLabelValues("All")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("All")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sendFailures.WithLabelValues("All")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decodeFailures.WithLabelValues("truncated")))
}

func TestMetrics_DoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestRegisterSessionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := 3
	require.NoError(t, RegisterSessionGauge(reg, func() int { return n }))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "mud_sessions_registered 3"))
}

func TestRegisterPoolGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterPoolGauges(reg, func() (int32, int32, int32) { return 5, 3, 2 }))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "mud_db_conns_total 5")
	assert.Contains(t, body, "mud_db_conns_idle 3")
	assert.Contains(t, body, "mud_db_conns_acquired 2")

	assert.Error(t, RegisterPoolGauges(reg, func() (int32, int32, int32) { return 0, 0, 0 }))
}

func TestAdminHandler_ServesLogLevel(t *testing.T) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	h := AdminHandler(prometheus.NewRegistry(), level)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loglevel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"level":"info"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/loglevel", strings.NewReader(`{"level":"debug"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, zap.DebugLevel, level.Level())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
