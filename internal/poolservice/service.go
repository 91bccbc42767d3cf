package poolservice

import (
	"context"
	"errors"

	"github.com/fyerfyer/poolguard/breaker"
	"github.com/fyerfyer/poolguard/internal/config"
	"github.com/fyerfyer/poolguard/manager"
	"github.com/fyerfyer/poolguard/monitor"
	"github.com/fyerfyer/poolguard/pool"
)

var (
	// ErrPoolNotFound 表示请求的池不存在
	ErrPoolNotFound = manager.ErrPoolNotFound

	// ErrPoolExists 表示池已存在
	ErrPoolExists = manager.ErrPoolExists

	// ErrServiceClosed 表示服务已关闭
	ErrServiceClosed = errors.New("pool service closed")
)

// PoolInfo 包含池的基本信息
type PoolInfo struct {
	// 池名称
	Name string `json:"name"`
	// 后端类型，自定义工厂为 custom
	Kind string `json:"kind"`
	// 隐去密码的后端描述
	Backend string `json:"backend"`
	// 最近一次评估的健康等级
	Status monitor.Status `json:"status"`
	// 池统计
	Stats pool.Stats `json:"stats"`
	// 熔断器统计，没有熔断器时为 nil
	Breaker *breaker.Stats `json:"breaker,omitempty"`
}

// Service 定义池服务接口，每个进程持有一个实例
type Service interface {
	// LoadConfig 添加配置中的所有池
	LoadConfig(ctx context.Context, cfg *config.Config) error

	// AddPool 按规格创建、注册并启动一个池
	AddPool(ctx context.Context, spec config.PoolSpec) error

	// RemovePool 停止并删除池
	RemovePool(name string) error

	// ListPools 列出所有池，按名称排序
	ListPools() []PoolInfo

	// PoolInfo 返回单个池的信息
	PoolInfo(name string) (PoolInfo, error)

	// PoolStats 获取池的统计信息
	PoolStats(name string) (pool.Stats, error)

	// HealthCheckAll 检查所有池的后端
	HealthCheckAll(ctx context.Context) manager.HealthSummary

	// GlobalMetrics 获取所有池的汇总统计
	GlobalMetrics() manager.GlobalMetrics

	// Execute 使用池中的资源执行 fn
	Execute(ctx context.Context, name string, fn func(ctx context.Context, res *pool.Resource) error) error

	// Breakers 获取所有熔断器的统计
	Breakers() map[string]breaker.Stats

	// ResetBreakers 重置所有熔断器
	ResetBreakers()

	// Alerts 获取最近的告警
	Alerts(limit int) []monitor.Alert

	// Statuses 获取所有池的健康等级
	Statuses() map[string]monitor.Status

	// CheckNow 立即评估所有池的健康等级
	CheckNow(ctx context.Context) []monitor.Alert

	// Start 启动监控
	Start(ctx context.Context) error

	// Close 停止监控和所有池
	Close() error
}
