package poolservice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/poolguard/breaker"
	"github.com/fyerfyer/poolguard/internal/config"
	"github.com/fyerfyer/poolguard/manager"
	"github.com/fyerfyer/poolguard/monitor"
	"github.com/fyerfyer/poolguard/pool"
	"github.com/fyerfyer/poolguard/pool/adapters"
)

func newHealthServer(t *testing.T) (*httptest.Server, *atomic.Bool) {
	t.Helper()
	down := &atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, down
}

func testSpec(name, url string) config.PoolSpec {
	spec := config.DefaultPoolSpec()
	spec.Name = name
	spec.URL = url
	spec.Pool.MinSize = 1
	spec.Pool.MaxSize = 2
	spec.Pool.EnableHealthChecks = false
	spec.Pool.RetryAttempts = 0
	spec.Pool.AcquireTimeout = 200 * time.Millisecond
	spec.Breaker.Timeout = 0
	return spec
}

func newTestService(t *testing.T) *InMemoryService {
	t.Helper()
	cfg := config.Default()
	cfg.Alerts.Log = false
	svc := NewInMemoryService(cfg)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestService_AddPoolFromURL(t *testing.T) {
	srv, _ := newHealthServer(t)
	svc := newTestService(t)

	require.NoError(t, svc.AddPool(context.Background(), testSpec("api", srv.URL+"?health_path=/healthz")))

	pools := svc.ListPools()
	require.Len(t, pools, 1)
	assert.Equal(t, "api", pools[0].Name)
	assert.Equal(t, string(adapters.KindHTTP), pools[0].Kind)
	assert.Equal(t, 1, pools[0].Stats.PoolSize)
	require.NotNil(t, pools[0].Breaker)
	assert.Equal(t, breaker.StateClosed, pools[0].Breaker.State)

	err := svc.AddPool(context.Background(), testSpec("api", srv.URL))
	assert.ErrorIs(t, err, ErrPoolExists)

	err = svc.AddPool(context.Background(), testSpec("bad", "ftp://example.com"))
	assert.ErrorIs(t, err, adapters.ErrUnsupportedBackend)
	assert.Len(t, svc.ListPools(), 1)
}

func TestService_RemovePool(t *testing.T) {
	srv, _ := newHealthServer(t)
	svc := newTestService(t)
	require.NoError(t, svc.AddPool(context.Background(), testSpec("api", srv.URL)))

	require.NoError(t, svc.RemovePool("api"))
	assert.Empty(t, svc.ListPools())
	assert.Empty(t, svc.Breakers())
	assert.ErrorIs(t, svc.RemovePool("api"), ErrPoolNotFound)

	_, err := svc.PoolStats("api")
	assert.ErrorIs(t, err, ErrPoolNotFound)
}

func TestService_HealthAndStatuses(t *testing.T) {
	srv, down := newHealthServer(t)
	svc := newTestService(t)
	require.NoError(t, svc.AddPool(context.Background(), testSpec("api", srv.URL+"?health_path=/")))

	summary := svc.HealthCheckAll(context.Background())
	assert.Equal(t, manager.OverallHealthy, summary.Overall)

	down.Store(true)
	summary = svc.HealthCheckAll(context.Background())
	assert.Equal(t, manager.OverallUnhealthy, summary.Overall)

	// 一个空闲连接，利用率 0
	svc.CheckNow(context.Background())
	assert.Equal(t, monitor.StatusHealthy, svc.Statuses()["api"])
}

func TestService_ExecuteOpensBreaker(t *testing.T) {
	svc := newTestService(t)

	spec := testSpec("custom", "")
	spec.Breaker.FailureThreshold = 2
	factory := pool.FactoryFuncs{
		CreateFunc: func(ctx context.Context) (any, error) { return "conn", nil },
	}
	require.NoError(t, svc.AddCustomPool(context.Background(), spec, factory))

	info, err := svc.PoolInfo("custom")
	require.NoError(t, err)
	assert.Equal(t, KindCustom, info.Kind)

	errDown := errors.New("downstream failure")
	for i := 0; i < 2; i++ {
		err := svc.Execute(context.Background(), "custom", func(ctx context.Context, res *pool.Resource) error {
			return errDown
		})
		assert.ErrorIs(t, err, errDown)
	}
	err = svc.Execute(context.Background(), "custom", func(ctx context.Context, res *pool.Resource) error {
		return nil
	})
	assert.ErrorIs(t, err, breaker.ErrCircuitOpen)

	alerts := svc.Alerts(0)
	require.Len(t, alerts, 1)
	assert.Equal(t, monitor.AlertCircuitStateChange, alerts[0].Type)

	svc.ResetBreakers()
	assert.Equal(t, breaker.StateClosed, svc.Breakers()["custom"].State)
}

func TestService_MonitorsPoolsAddedAfterStart(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.Start(context.Background()))

	spec := testSpec("late", "")
	spec.Pool.MinSize = 0
	spec.Health.CheckInterval = 20 * time.Millisecond
	require.NoError(t, svc.AddCustomPool(context.Background(), spec, pool.FactoryFuncs{
		CreateFunc: func(ctx context.Context) (any, error) { return "conn", nil },
	}))

	// 没有空闲连接，后台循环应把状态评估为 critical 并告警
	assert.Eventually(t, func() bool {
		return svc.Statuses()["late"] == monitor.StatusCritical && len(svc.Alerts(0)) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_AdaptiveBreaker(t *testing.T) {
	svc := newTestService(t)

	spec := testSpec("adaptive", "")
	spec.Breaker.Adaptive = true
	spec.Breaker.FailureThreshold = 30
	err := svc.AddCustomPool(context.Background(), spec, pool.FactoryFuncs{
		CreateFunc: func(ctx context.Context) (any, error) { return 1, nil },
	})
	assert.ErrorIs(t, err, breaker.ErrInvalidConfig)
	assert.Empty(t, svc.ListPools())

	spec.Breaker.FailureThreshold = 5
	require.NoError(t, svc.AddCustomPool(context.Background(), spec, pool.FactoryFuncs{
		CreateFunc: func(ctx context.Context) (any, error) { return 1, nil },
	}))
	assert.Equal(t, 5, svc.Breakers()["adaptive"].FailureThreshold)
}

func TestService_LoadConfigAndClose(t *testing.T) {
	srv, _ := newHealthServer(t)
	svc := newTestService(t)

	cfg := config.Default()
	cfg.Pools = []config.PoolSpec{
		testSpec("a", srv.URL),
		testSpec("b", "bogus://nowhere"),
		testSpec("c", srv.URL),
	}
	err := svc.LoadConfig(context.Background(), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `pool "b"`)
	assert.Len(t, svc.ListPools(), 2)

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	stats, err := svc.PoolStats("a")
	require.NoError(t, err)
	assert.True(t, stats.Closed)

	assert.ErrorIs(t, svc.AddPool(context.Background(), testSpec("d", srv.URL)), ErrServiceClosed)
}

func TestFormatHelpers(t *testing.T) {
	srv, _ := newHealthServer(t)
	svc := newTestService(t)
	require.NoError(t, svc.AddPool(context.Background(), testSpec("api", srv.URL)))

	info, err := svc.PoolInfo("api")
	require.NoError(t, err)

	text := FormatPoolInfo(info)
	assert.Contains(t, text, "Pool: api")
	assert.Contains(t, text, "Size: 1 (min 1, max 2)")
	assert.Contains(t, text, "Breaker: closed")

	text = FormatBreakerStats(svc.Breakers()["api"])
	assert.Contains(t, text, "State: closed")

	assert.Contains(t, FormatGlobalMetrics(svc.GlobalMetrics()), "Pools: 1")

	line := FormatAlert(monitor.NewAlert(monitor.AlertStatusChange, monitor.SeverityWarning, "api", "degraded"))
	assert.True(t, strings.HasSuffix(line, "[WARNING] api: degraded"))

	data, err := ToJSON(info)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name": "api"`)

	assert.Equal(t, "never", formatTimeAgo(time.Time{}))
	assert.Equal(t, "2 minutes ago", formatTimeAgo(time.Now().Add(-2*time.Minute)))
}
