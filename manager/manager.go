package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyerfyer/poolguard/breaker"
	"github.com/fyerfyer/poolguard/pool"
)

// PoolMetrics 是监控循环为每个池维护的记录
type PoolMetrics struct {
	Name                string     `json:"name"`
	Stats               pool.Stats `json:"stats"`
	Healthy             bool       `json:"healthy"`
	LastCheck           time.Time  `json:"last_check"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Error               string     `json:"error,omitempty"`
}

// MonitorSnapshot 是一轮监控的汇总
type MonitorSnapshot struct {
	Timestamp time.Time     `json:"timestamp"`
	Healthy   int           `json:"healthy"`
	Unhealthy int           `json:"unhealthy"`
	Duration  time.Duration `json:"duration"`
}

type entry struct {
	pool    *pool.Pool
	metrics PoolMetrics
}

// Manager 持有一个进程内所有具名的连接池
type Manager struct {
	mu       sync.RWMutex
	pools    map[string]*entry
	snapshot MonitorSnapshot

	interval time.Duration
	breakers *breaker.Registry

	// 监控循环控制，running 表示 StartAll 之后且 StopAll 之前
	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	running    bool
	wg         sync.WaitGroup
}

// New 创建一个空的管理器
func New(opts ...Option) *Manager {
	m := &Manager{
		pools:    make(map[string]*entry),
		interval: DefaultMonitorInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Breakers 返回管理器使用的熔断器注册表，未配置时为 nil
func (m *Manager) Breakers() *breaker.Registry {
	return m.breakers
}

// RegisterPool 注册并启动一个池，启动失败时撤销注册
func (m *Manager) RegisterPool(ctx context.Context, name string, p *pool.Pool) error {
	if p == nil {
		return fmt.Errorf("manager: register %q: nil pool", name)
	}

	m.mu.Lock()
	if _, exists := m.pools[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrPoolExists, name)
	}
	m.pools[name] = &entry{pool: p, metrics: PoolMetrics{Name: name}}
	m.mu.Unlock()

	if !p.Stats().Started {
		if err := p.Start(ctx); err != nil {
			m.mu.Lock()
			if e, ok := m.pools[name]; ok && e.pool == p {
				delete(m.pools, name)
			}
			m.mu.Unlock()
			return fmt.Errorf("manager: start pool %q: %w", name, err)
		}
	}

	if p.Config().EnableMetrics {
		m.resumeMonitor()
	}

	log.WithField("pool", name).Info("pool registered")
	return nil
}

// UnregisterPool 停止并移除池，停止时的错误只记录日志
func (m *Manager) UnregisterPool(name string) error {
	m.mu.Lock()
	e, exists := m.pools[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrPoolNotFound, name)
	}
	delete(m.pools, name)
	m.mu.Unlock()

	if err := e.pool.Stop(); err != nil {
		log.WithField("pool", name).WithError(err).Warn("failed to stop pool")
	}
	if m.breakers != nil {
		m.breakers.Remove(name)
	}

	log.WithField("pool", name).Info("pool unregistered")
	return nil
}

// GetPool 按名称查找池
func (m *Manager) GetPool(name string) (*pool.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.pools[name]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrPoolNotFound, name)
	}
	return e.pool, nil
}

// Names 返回按字母排序的池名称
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Pools 返回名称到池的快照
func (m *Manager) Pools() map[string]*pool.Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*pool.Pool, len(m.pools))
	for name, e := range m.pools {
		out[name] = e.pool
	}
	return out
}

// StartAll 启动所有池，任一池开启了指标时同时启动监控循环
func (m *Manager) StartAll(ctx context.Context) error {
	pools := m.Pools()

	var errs []error
	metrics := false
	for name, p := range pools {
		if err := p.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("start pool %q: %w", name, err))
			continue
		}
		if p.Config().EnableMetrics {
			metrics = true
		}
	}

	m.loopMu.Lock()
	m.running = true
	m.loopMu.Unlock()

	if metrics {
		m.startMonitor()
	}
	return errors.Join(errs...)
}

// StopAll 停止监控循环并等待其退出，然后停止所有池
func (m *Manager) StopAll() error {
	m.stopMonitor()

	var errs []error
	for name, p := range m.Pools() {
		if err := p.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop pool %q: %w", name, err))
		}
	}
	log.WithField("errors", len(errs)).Info("all pools stopped")
	return errors.Join(errs...)
}

// Metrics 返回池的最新监控记录
func (m *Manager) Metrics(name string) (PoolMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.pools[name]
	if !exists {
		return PoolMetrics{}, fmt.Errorf("%w: %q", ErrPoolNotFound, name)
	}
	return e.metrics, nil
}

// Snapshot 返回最近一轮监控的汇总
func (m *Manager) Snapshot() MonitorSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// ExecuteWithPool 获取池中的资源执行 fn，任何退出路径都会归还资源
// 配置了熔断器注册表时只有 fn 经过以池名命名的熔断器执行，
// 获取资源失败时直接返回池的错误，不计入熔断器
func (m *Manager) ExecuteWithPool(ctx context.Context, name string, fn func(ctx context.Context, res *pool.Resource) error) error {
	p, err := m.GetPool(name)
	if err != nil {
		return err
	}

	if m.breakers == nil {
		return p.With(ctx, func(res *pool.Resource) error {
			return fn(ctx, res)
		})
	}

	cb, err := m.breakers.GetOrCreate(name, nil)
	if err != nil {
		return fmt.Errorf("manager: breaker for %q: %w", name, err)
	}

	res, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	// 资源在 fn 真正返回时归还，熔断器超时后 fn 可能仍在使用它
	var ran atomic.Bool
	err = cb.Call(ctx, func(ctx context.Context) (opErr error) {
		ran.Store(true)
		defer func() {
			if r := recover(); r != nil {
				_ = p.Release(res, fmt.Errorf("panic: %v", r))
				panic(r)
			}
			_ = p.Release(res, opErr)
		}()
		return fn(ctx, res)
	})
	if !ran.Load() && errors.Is(err, breaker.ErrCircuitOpen) {
		// 被熔断器拒绝，资源没有被使用过
		_ = p.Release(res, nil)
	}
	return err
}

// ExecuteWithConn 是 ExecuteWithPool 的泛型版本，把底层连接断言为 T 后交给 fn
func ExecuteWithConn[T any](ctx context.Context, m *Manager, name string, fn func(ctx context.Context, conn T) error) error {
	return m.ExecuteWithPool(ctx, name, func(ctx context.Context, res *pool.Resource) error {
		conn, ok := res.Conn().(T)
		if !ok {
			return fmt.Errorf("%w: got %T", pool.ErrConnType, res.Conn())
		}
		return fn(ctx, conn)
	})
}
