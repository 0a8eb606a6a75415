package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/fixsim/internal/matching"
)

func sequentialID(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('0'+n))
	}
}

func TestServer_HealthzReportsOK(t *testing.T) {
	registry := prometheus.NewRegistry()
	eng := matching.New(sequentialID("E"), nil, nil)
	srv := NewServer(DefaultServerConfig(), registry, eng, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsRoutesThroughPromhttp(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.OrderSubmitted()

	eng := matching.New(sequentialID("E"), nil, nil)
	srv := NewServer(DefaultServerConfig(), registry, eng, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fixsim_orders_submitted_total")
}

func TestServer_BookSnapshotForUnknownSymbolIs404(t *testing.T) {
	registry := prometheus.NewRegistry()
	eng := matching.New(sequentialID("E"), nil, nil)
	srv := NewServer(DefaultServerConfig(), registry, eng, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/books/ZZZZ", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_RecordsCountersAndGauges(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.OrderSubmitted()
	m.OrderRejected()
	m.ExecutionRecorded(3)
	m.CancelRecorded()
	m.SetActiveSessions(2)
	m.SetBookDepth("AAPL", "bid", 500)

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
