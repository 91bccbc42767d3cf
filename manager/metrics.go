package manager

import (
	"context"
	"sync"
	"time"

	"github.com/fyerfyer/poolguard/pool"
)

// GlobalMetrics 汇总所有池的统计
type GlobalMetrics struct {
	Pools             int `json:"pools"`
	ActiveConnections int `json:"active_connections"`
	IdleConnections   int `json:"idle_connections"`
	TotalConnections  int `json:"total_connections"`

	Created  uint64 `json:"created"`
	Acquired uint64 `json:"acquired"`
	Released uint64 `json:"released"`
	Failed   uint64 `json:"failed"`

	// PoolUtilization = active / max(active+idle, 1)
	PoolUtilization float64 `json:"pool_utilization"`
	// AcquireSuccessRate = acquired / max(acquired+failed, 1)
	AcquireSuccessRate float64 `json:"acquire_success_rate"`

	LastMonitor MonitorSnapshot `json:"last_monitor"`
	Timestamp   time.Time       `json:"timestamp"`
}

// GlobalMetrics 返回所有池的汇总统计，没有池时比率为 0
func (m *Manager) GlobalMetrics() GlobalMetrics {
	pools := m.Pools()

	g := GlobalMetrics{
		Pools:       len(pools),
		LastMonitor: m.Snapshot(),
		Timestamp:   time.Now(),
	}
	for _, p := range pools {
		s := p.Stats()
		g.ActiveConnections += s.InUse
		g.IdleConnections += s.Available
		g.TotalConnections += s.PoolSize
		g.Created += s.Created
		g.Acquired += s.Acquired
		g.Released += s.Released
		g.Failed += s.Failed
	}

	g.PoolUtilization = float64(g.ActiveConnections) / float64(max(g.ActiveConnections+g.IdleConnections, 1))
	g.AcquireSuccessRate = float64(g.Acquired) / float64(max(g.Acquired+g.Failed, 1))
	return g
}

// OverallStatus 是所有池健康状态的汇总
type OverallStatus string

const (
	// OverallHealthy 表示所有池都健康
	OverallHealthy OverallStatus = "healthy"
	// OverallDegraded 表示部分池不健康
	OverallDegraded OverallStatus = "degraded"
	// OverallUnhealthy 表示没有健康的池
	OverallUnhealthy OverallStatus = "unhealthy"
)

// HealthSummary 是 HealthCheckAll 的结果
type HealthSummary struct {
	Overall   OverallStatus                `json:"overall"`
	Healthy   int                          `json:"healthy"`
	Unhealthy int                          `json:"unhealthy"`
	Pools     map[string]pool.HealthReport `json:"pools"`
	CheckedAt time.Time                    `json:"checked_at"`
}

// HealthCheckAll 并发检查所有池
// 全部健康为 healthy，没有健康的池（包括没有池）为 unhealthy，其余为 degraded
func (m *Manager) HealthCheckAll(ctx context.Context) HealthSummary {
	pools := m.Pools()

	summary := HealthSummary{
		Pools:     make(map[string]pool.HealthReport, len(pools)),
		CheckedAt: time.Now(),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, p := range pools {
		wg.Add(1)
		go func(name string, p *pool.Pool) {
			defer wg.Done()
			report := p.HealthCheck(ctx)

			mu.Lock()
			defer mu.Unlock()
			summary.Pools[name] = report
			if report.Healthy {
				summary.Healthy++
			} else {
				summary.Unhealthy++
			}
		}(name, p)
	}
	wg.Wait()

	switch {
	case summary.Healthy > 0 && summary.Unhealthy == 0:
		summary.Overall = OverallHealthy
	case summary.Healthy == 0:
		summary.Overall = OverallUnhealthy
	default:
		summary.Overall = OverallDegraded
	}
	return summary
}
