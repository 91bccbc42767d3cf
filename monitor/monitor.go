package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyerfyer/poolguard/pool"
)

// PoolSource 按名称提供池，manager.Manager 满足该接口
type PoolSource interface {
	GetPool(name string) (*pool.Pool, error)
}

// StaticSource 是固定的池集合
type StaticSource map[string]*pool.Pool

// GetPool 实现 PoolSource 接口
func (s StaticSource) GetPool(name string) (*pool.Pool, error) {
	p, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("pool %q not found", name)
	}
	return p, nil
}

type poolState struct {
	check    HealthCheck
	status   Status
	observed bool
	metrics  HealthMetrics
}

// Monitor 周期性评估池的健康等级，等级变化时发出告警
type Monitor struct {
	source PoolSource
	alerts *AlertManager

	mu    sync.RWMutex
	pools map[string]*poolState

	loopMu sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// 检查集合变化时通知循环重新计算周期
	reload chan struct{}
}

// NewMonitor 创建监控器，alerts 为 nil 时只记录状态不发告警
func NewMonitor(source PoolSource, alerts *AlertManager) *Monitor {
	return &Monitor{
		source: source,
		alerts: alerts,
		pools:  make(map[string]*poolState),
		reload: make(chan struct{}, 1),
	}
}

// AddCheck 添加或替换一个池的健康检查，已记录的状态会保留
func (m *Monitor) AddCheck(check HealthCheck) {
	m.mu.Lock()
	if st, ok := m.pools[check.PoolName]; ok {
		st.check = check
	} else {
		m.pools[check.PoolName] = &poolState{check: check, status: StatusUnknown}
	}
	m.mu.Unlock()

	m.notifyReload()
}

// RemoveCheck 删除一个池的健康检查
func (m *Monitor) RemoveCheck(name string) {
	m.mu.Lock()
	delete(m.pools, name)
	m.mu.Unlock()

	m.notifyReload()
}

func (m *Monitor) notifyReload() {
	select {
	case m.reload <- struct{}{}:
	default:
	}
}

// Interval 返回启用的检查中最短的 CheckInterval，没有时为 0
func (m *Monitor) Interval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var interval time.Duration
	for _, st := range m.pools {
		if !st.check.Enabled || st.check.CheckInterval <= 0 {
			continue
		}
		if interval == 0 || st.check.CheckInterval < interval {
			interval = st.check.CheckInterval
		}
	}
	return interval
}

// Start 启动监控循环，重复调用无效
// 循环周期是启用检查中最短的 CheckInterval，检查增删后重新计算，没有启用的检查时空转
func (m *Monitor) Start(ctx context.Context) {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()

	if m.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.loop(loopCtx)

	log.Info("pool monitor started")
}

// Stop 停止监控循环并等待其退出
func (m *Monitor) Stop() {
	m.loopMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	log.Info("pool monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	var (
		ticker  *time.Ticker
		tick    <-chan time.Time
		current time.Duration
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	reset := func() {
		interval := m.Interval()
		if interval == current {
			return
		}
		current = interval
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if interval > 0 {
			ticker = time.NewTicker(interval)
			tick = ticker.C
		}
		log.WithField("interval", interval).Debug("monitor interval changed")
	}
	reset()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.reload:
			reset()
		case <-tick:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow 立即评估所有启用的检查，返回本轮发出的告警
func (m *Monitor) CheckNow(ctx context.Context) []Alert {
	m.mu.RLock()
	names := make([]string, 0, len(m.pools))
	for name, st := range m.pools {
		if st.check.Enabled {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()
	sort.Strings(names)

	var alerts []Alert
	for _, name := range names {
		if alert, ok := m.checkPool(name); ok {
			alerts = append(alerts, alert)
		}
	}

	if m.alerts != nil {
		for _, alert := range alerts {
			m.alerts.Dispatch(ctx, alert)
		}
	}
	return alerts
}

func (m *Monitor) checkPool(name string) (alert Alert, changed bool) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("pool", name).WithField("panic", r).Error("health evaluation panicked")
			changed = false
		}
	}()

	var (
		metrics HealthMetrics
		p       *pool.Pool
		err     error
	)
	if m.source != nil {
		p, err = m.source.GetPool(name)
	} else {
		err = fmt.Errorf("no pool source")
	}
	if err == nil {
		metrics = MetricsFromStats(name, p.Stats())
	} else {
		metrics = HealthMetrics{PoolName: name, Timestamp: time.Now()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.pools[name]
	if !ok {
		return Alert{}, false
	}

	status := StatusUnknown
	if err == nil {
		status = st.check.Evaluate(metrics)
	}

	previous := st.status
	firstObservation := !st.observed
	st.status = status
	st.metrics = metrics
	st.observed = true

	// 第一次观察到健康不告警，之后只在等级变化时告警
	if firstObservation && status == StatusHealthy {
		return Alert{}, false
	}
	if !firstObservation && previous == status {
		return Alert{}, false
	}

	message := fmt.Sprintf("pool %q health changed from %s to %s", name, previous, status)
	if err != nil {
		message = fmt.Sprintf("pool %q is unavailable: %v", name, err)
	}

	alert = NewAlert(AlertStatusChange, SeverityFor(status), name, message)
	alert.PreviousStatus = previous
	alert.CurrentStatus = status
	snapshot := metrics
	alert.Metrics = &snapshot

	log.WithField("pool", name).
		WithField("from", string(previous)).
		WithField("to", string(status)).
		Info("pool health status changed")
	return alert, true
}

// Status 返回池最近一次评估的等级
func (m *Monitor) Status(name string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.pools[name]
	if !ok {
		return StatusUnknown
	}
	return st.status
}

// Statuses 返回所有池最近一次评估的等级
func (m *Monitor) Statuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.pools))
	for name, st := range m.pools {
		out[name] = st.status
	}
	return out
}

// LastMetrics 返回池最近一次评估所用的指标
func (m *Monitor) LastMetrics(name string) (HealthMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.pools[name]
	if !ok || !st.observed {
		return HealthMetrics{}, false
	}
	return st.metrics, true
}
