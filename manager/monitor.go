package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/fyerfyer/poolguard/pool"
)

func (m *Manager) startMonitor() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	m.startMonitorLocked()
}

// resumeMonitor 在 StartAll 之后注册了开启指标的池时补启监控循环
func (m *Manager) resumeMonitor() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.running {
		m.startMonitorLocked()
	}
}

func (m *Manager) startMonitorLocked() {
	if m.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.loopCancel = cancel

	m.wg.Add(1)
	go m.monitorLoop(ctx)
	log.WithField("interval", m.interval).Info("pool monitoring started")
}

func (m *Manager) stopMonitor() {
	m.loopMu.Lock()
	cancel := m.loopCancel
	m.loopCancel = nil
	m.running = false
	m.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
}

// monitorLoop 定期采集每个池的统计和健康状态
func (m *Manager) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.MonitorOnce(ctx)
		}
	}
}

// MonitorOnce 执行一轮监控并返回汇总，单个池的失败只计为不健康
func (m *Manager) MonitorOnce(ctx context.Context) MonitorSnapshot {
	start := time.Now()
	snap := MonitorSnapshot{Timestamp: start}

	for name, p := range m.Pools() {
		if ctx.Err() != nil {
			break
		}

		healthy, err := m.checkPool(ctx, name, p)
		if healthy {
			snap.Healthy++
		} else {
			snap.Unhealthy++
		}
		if err != nil {
			log.WithField("pool", name).WithError(err).Error("pool monitoring failed")
		}
	}
	snap.Duration = time.Since(start)

	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()

	log.WithField("healthy", snap.Healthy).
		WithField("unhealthy", snap.Unhealthy).
		Debug("pool monitoring round completed")
	return snap
}

func (m *Manager) checkPool(ctx context.Context, name string, p *pool.Pool) (healthy bool, err error) {
	now := time.Now()
	defer func() {
		if r := recover(); r != nil {
			healthy = false
			err = fmt.Errorf("panic: %v", r)
		}
		m.recordCheck(name, now, healthy, err)
	}()

	stats := p.Stats()
	m.mu.Lock()
	if e, ok := m.pools[name]; ok {
		e.metrics.Stats = stats
	}
	m.mu.Unlock()

	report := p.HealthCheck(ctx)
	return report.Healthy, report.Err
}

func (m *Manager) recordCheck(name string, at time.Time, healthy bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.pools[name]
	if !ok {
		return
	}
	e.metrics.Healthy = healthy
	e.metrics.LastCheck = at
	e.metrics.Error = ""
	if err != nil {
		e.metrics.Error = err.Error()
	}
	if healthy {
		e.metrics.ConsecutiveFailures = 0
	} else {
		e.metrics.ConsecutiveFailures++
	}
}
