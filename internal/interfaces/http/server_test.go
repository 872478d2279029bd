package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	status Status
}

func (p staticProvider) Status() Status { return p.status }

func newTestServer(provider StatusProvider) *httptest.Server {
	s := NewServer(DefaultServerConfig(), provider, zerolog.Nop())
	return httptest.NewServer(s.server.Handler)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatus_RendersProviderSnapshot(t *testing.T) {
	provider := staticProvider{status: Status{
		Running:     true,
		Cycle:       7,
		Universe:    []string{"KRW-BTC"},
		Balance:     500_000,
		Equity:      610_000,
		DailyPnL:    10_000,
		TradesToday: 3,
		Breaker:     "active",
		States:      map[string]string{"KRW-BTC": "strong_up"},
		UpdatedAt:   time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC),
	}}
	srv := newTestServer(provider)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Running)
	assert.Equal(t, int64(7), got.Cycle)
	assert.Equal(t, []string{"KRW-BTC"}, got.Universe)
	assert.Equal(t, "strong_up", got.States["KRW-BTC"])
}

func TestStatus_UnavailableWithoutProvider(t *testing.T) {
	srv := newTestServer(nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
