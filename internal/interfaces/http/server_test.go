package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/oraclefeed/internal/domain"
	"github.com/sawpanic/oraclefeed/internal/health"
	"github.com/sawpanic/oraclefeed/internal/metrics"
)

func TestNewServer_RoutesMetricsAndHealth(t *testing.T) {
	reader := &fakeReader{prices: map[string]domain.Reading{}, history: map[string][]domain.Reading{}}
	reg := metrics.NewRegistry()
	reg.RecordFetch("BTC/USD", "PRIMARY", nil)

	srv, err := NewServer(DefaultServerConfig("127.0.0.1", 0), reader, health.New(), nil, nil, nil, reg)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rw := httptest.NewRecorder()
	srv.router.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), "oraclefeed_fetch_successes_total")
}

func TestNewServer_OmitsMetricsRouteWhenRegistryNil(t *testing.T) {
	reader := &fakeReader{prices: map[string]domain.Reading{}, history: map[string][]domain.Reading{}}
	srv, err := NewServer(DefaultServerConfig("127.0.0.1", 0), reader, health.New(), nil, nil, nil, nil)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rw := httptest.NewRecorder()
	srv.router.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusNotFound, rw.Code)
}
