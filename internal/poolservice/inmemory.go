package poolservice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/poolguard/breaker"
	"github.com/fyerfyer/poolguard/internal/config"
	"github.com/fyerfyer/poolguard/manager"
	"github.com/fyerfyer/poolguard/monitor"
	"github.com/fyerfyer/poolguard/pool"
	"github.com/fyerfyer/poolguard/pool/adapters"
)

var log = logrus.WithField("component", "poolservice")

// KindCustom 是使用自定义工厂的池的类型
const KindCustom = "custom"

// InMemoryService 实现了 Service 接口，所有状态保存在进程内存中
type InMemoryService struct {
	manager  *manager.Manager
	breakers *breaker.Registry
	alerts   *monitor.AlertManager
	monitor  *monitor.Monitor

	// 池名称到后端描述的映射
	backends map[string]backendEntry
	// 保护 backends 和 closed 的互斥锁
	mu     sync.RWMutex
	closed bool
}

var _ Service = (*InMemoryService)(nil)

// backendEntry 记录池的后端信息
type backendEntry struct {
	kind    string
	backend string
}

// NewInMemoryService 按配置创建服务，不添加任何池
func NewInMemoryService(cfg config.Config) *InMemoryService {
	alerts := monitor.NewAlertManager(cfg.Alerts.HistorySize)
	if cfg.Alerts.Log {
		alerts.SubscribeAll(monitor.LogHandler{})
	}
	if cfg.Alerts.WebhookURL != "" {
		alerts.SubscribeAll(monitor.NewWebhookHandler(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookTimeout))
	}

	breakers := breaker.NewRegistry(breaker.WithStateChange(monitor.BreakerAlerts(alerts)))
	mgr := manager.New(
		manager.WithMonitorInterval(cfg.Manager.MonitorInterval),
		manager.WithBreakers(breakers),
	)

	return &InMemoryService{
		manager:  mgr,
		breakers: breakers,
		alerts:   alerts,
		monitor:  monitor.NewMonitor(mgr, alerts),
		backends: make(map[string]backendEntry),
	}
}

// Manager 返回底层的池管理器
func (s *InMemoryService) Manager() *manager.Manager {
	return s.manager
}

// LoadConfig 添加配置中的所有池，任一失败时返回合并的错误
func (s *InMemoryService) LoadConfig(ctx context.Context, cfg *config.Config) error {
	var errs []error
	for _, spec := range cfg.Pools {
		if err := s.AddPool(ctx, spec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddPool 从 URL 解析后端并创建池
func (s *InMemoryService) AddPool(ctx context.Context, spec config.PoolSpec) error {
	factory, backend, err := adapters.FactoryFromURL(spec.URL)
	if err != nil {
		return fmt.Errorf("pool %q: %w", spec.Name, err)
	}
	return s.addPool(ctx, spec, factory, backendEntry{
		kind:    string(backend.Kind()),
		backend: backend.String(),
	})
}

// AddCustomPool 使用调用方提供的工厂创建池，spec.URL 被忽略
func (s *InMemoryService) AddCustomPool(ctx context.Context, spec config.PoolSpec, factory pool.Factory) error {
	return s.addPool(ctx, spec, factory, backendEntry{kind: KindCustom, backend: KindCustom})
}

func (s *InMemoryService) addPool(ctx context.Context, spec config.PoolSpec, factory pool.Factory, be backendEntry) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrServiceClosed
	}
	if spec.Name == "" {
		return errors.New("pool name is required")
	}
	if _, err := s.manager.GetPool(spec.Name); err == nil {
		return fmt.Errorf("%w: %q", ErrPoolExists, spec.Name)
	}

	pcfg, err := spec.Pool.PoolConfig()
	if err != nil {
		return fmt.Errorf("pool %q: %w", spec.Name, err)
	}
	p, err := pool.New(factory, pcfg)
	if err != nil {
		return fmt.Errorf("pool %q: %w", spec.Name, err)
	}

	cb, err := s.newBreaker(spec)
	if err != nil {
		return fmt.Errorf("pool %q: %w", spec.Name, err)
	}
	if err := s.breakers.Register(cb); err != nil {
		return fmt.Errorf("pool %q: %w", spec.Name, err)
	}

	if err := s.manager.RegisterPool(ctx, spec.Name, p); err != nil {
		if registered, ok := s.breakers.Get(spec.Name); ok && registered == cb {
			s.breakers.Remove(spec.Name)
		}
		_ = p.Stop()
		return err
	}

	s.mu.Lock()
	s.backends[spec.Name] = be
	s.mu.Unlock()

	s.monitor.AddCheck(spec.Health.HealthCheck(spec.Name))

	log.WithFields(logrus.Fields{
		"pool":    spec.Name,
		"kind":    be.kind,
		"backend": be.backend,
	}).Info("pool added")
	return nil
}

func (s *InMemoryService) newBreaker(spec config.PoolSpec) (*breaker.CircuitBreaker, error) {
	bcfg := spec.Breaker.BreakerConfig(spec.Name)
	if !spec.Breaker.Adaptive {
		return breaker.New(bcfg)
	}
	ab, err := breaker.NewAdaptive(bcfg, spec.Breaker.AdaptiveConfig())
	if err != nil {
		return nil, err
	}
	return ab.CircuitBreaker, nil
}

// RemovePool 停止并删除池
func (s *InMemoryService) RemovePool(name string) error {
	if err := s.manager.UnregisterPool(name); err != nil {
		return err
	}
	s.monitor.RemoveCheck(name)

	s.mu.Lock()
	delete(s.backends, name)
	s.mu.Unlock()
	return nil
}

// ListPools 列出所有池
func (s *InMemoryService) ListPools() []PoolInfo {
	names := s.manager.Names()
	result := make([]PoolInfo, 0, len(names))
	for _, name := range names {
		info, err := s.PoolInfo(name)
		if err != nil {
			// 列出期间被删除
			continue
		}
		result = append(result, info)
	}
	return result
}

// PoolInfo 返回单个池的信息
func (s *InMemoryService) PoolInfo(name string) (PoolInfo, error) {
	p, err := s.manager.GetPool(name)
	if err != nil {
		return PoolInfo{}, err
	}

	s.mu.RLock()
	be := s.backends[name]
	s.mu.RUnlock()

	info := PoolInfo{
		Name:    name,
		Kind:    be.kind,
		Backend: be.backend,
		Status:  s.monitor.Status(name),
		Stats:   p.Stats(),
	}
	if cb, ok := s.breakers.Get(name); ok {
		stats := cb.Stats()
		info.Breaker = &stats
	}
	return info, nil
}

// PoolStats 获取池的统计信息
func (s *InMemoryService) PoolStats(name string) (pool.Stats, error) {
	p, err := s.manager.GetPool(name)
	if err != nil {
		return pool.Stats{}, err
	}
	return p.Stats(), nil
}

// HealthCheckAll 检查所有池的后端
func (s *InMemoryService) HealthCheckAll(ctx context.Context) manager.HealthSummary {
	return s.manager.HealthCheckAll(ctx)
}

// GlobalMetrics 获取所有池的汇总统计
func (s *InMemoryService) GlobalMetrics() manager.GlobalMetrics {
	return s.manager.GlobalMetrics()
}

// Execute 使用池中的资源执行 fn，经过池的熔断器
func (s *InMemoryService) Execute(ctx context.Context, name string, fn func(ctx context.Context, res *pool.Resource) error) error {
	return s.manager.ExecuteWithPool(ctx, name, fn)
}

// Breakers 获取所有熔断器的统计
func (s *InMemoryService) Breakers() map[string]breaker.Stats {
	return s.breakers.AllStats()
}

// BreakerNames 返回排序后的熔断器名称
func (s *InMemoryService) BreakerNames() []string {
	return s.breakers.Names()
}

// ResetBreakers 重置所有熔断器
func (s *InMemoryService) ResetBreakers() {
	s.breakers.ResetAll()
}

// Alerts 获取最近的告警
func (s *InMemoryService) Alerts(limit int) []monitor.Alert {
	return s.alerts.History(limit)
}

// Statuses 获取所有池的健康等级
func (s *InMemoryService) Statuses() map[string]monitor.Status {
	return s.monitor.Statuses()
}

// CheckNow 立即评估所有池的健康等级
func (s *InMemoryService) CheckNow(ctx context.Context) []monitor.Alert {
	return s.monitor.CheckNow(ctx)
}

// Start 启动管理器和健康监控的后台循环
func (s *InMemoryService) Start(ctx context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrServiceClosed
	}

	err := s.manager.StartAll(ctx)
	s.monitor.Start(context.Background())
	return err
}

// Close 停止监控和所有池，重复调用安全
func (s *InMemoryService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.monitor.Stop()
	return s.manager.StopAll()
}
