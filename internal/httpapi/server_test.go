package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/poolguard/internal/config"
	"github.com/fyerfyer/poolguard/internal/poolservice"
	"github.com/fyerfyer/poolguard/pool"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newTestService(t *testing.T) *poolservice.InMemoryService {
	t.Helper()
	cfg := config.Default()
	cfg.Alerts.Log = false
	svc := poolservice.NewInMemoryService(cfg)
	t.Cleanup(func() { _ = svc.Close() })

	spec := config.DefaultPoolSpec()
	spec.Name = "cache"
	spec.Pool.MinSize = 1
	spec.Pool.MaxSize = 2
	spec.Pool.EnableHealthChecks = false
	spec.Pool.RetryAttempts = 0
	spec.Breaker.FailureThreshold = 1
	spec.Breaker.Timeout = 0
	require.NoError(t, svc.AddCustomPool(context.Background(), spec, pool.FactoryFuncs{
		CreateFunc: func(ctx context.Context) (any, error) { return "conn", nil },
	}))
	return svc
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_Pools(t *testing.T) {
	svc := newTestService(t)
	h := New(svc)

	rec := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/pools")
	require.Equal(t, http.StatusOK, rec.Code)
	var pools []poolservice.PoolInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pools))
	require.Len(t, pools, 1)
	assert.Equal(t, "cache", pools[0].Name)
	assert.Equal(t, poolservice.KindCustom, pools[0].Kind)

	rec = do(t, h, http.MethodGet, "/pools/cache")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/pools/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "pool not found")
}

func TestRoutes_Health(t *testing.T) {
	svc := newTestService(t)
	h := New(svc)

	rec := do(t, h, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		Overall string                  `json:"overall"`
		Pools   map[string]healthReport `json:"pools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "healthy", summary.Overall)
	assert.True(t, summary.Pools["cache"].Healthy)
	assert.Empty(t, summary.Pools["cache"].Error)

	require.NoError(t, svc.Close())
	rec = do(t, h, http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.True(t, summary.Pools["cache"].Closed)
	assert.NotEmpty(t, summary.Pools["cache"].Error)
}

func TestRoutes_BreakersAndAlerts(t *testing.T) {
	svc := newTestService(t)
	h := New(svc)

	err := svc.Execute(context.Background(), "cache", func(ctx context.Context, res *pool.Resource) error {
		return errors.New("boom")
	})
	require.Error(t, err)

	rec := do(t, h, http.MethodGet, "/breakers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"open"`)

	rec = do(t, h, http.MethodGet, "/alerts?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "circuit_state_change")

	rec = do(t, h, http.MethodGet, "/alerts?limit=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/breakers/reset")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"closed"`)

	rec = do(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pools":1`)
}

func TestServe_StopsOnCancel(t *testing.T) {
	svc := newTestService(t)
	defer leaktest.Check(t)()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, svc) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	http.DefaultClient.CloseIdleConnections()
}
