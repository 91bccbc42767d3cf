package monitor

import (
	"time"

	"github.com/fyerfyer/poolguard/pool"
)

// Status 是池的健康等级
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// HealthMetrics 是评估健康状态所用的池指标
type HealthMetrics struct {
	PoolName          string        `json:"pool_name"`
	ActiveConnections int           `json:"active_connections"`
	IdleConnections   int           `json:"idle_connections"`
	TotalConnections  int           `json:"total_connections"`
	MaxConnections    int           `json:"max_connections"`
	Utilization       float64       `json:"utilization"`
	ErrorRate         float64       `json:"error_rate"`
	AcquireTimeP95    time.Duration `json:"acquire_time_p95"`
	Timestamp         time.Time     `json:"timestamp"`
}

// MetricsFromStats 把池统计转换为健康指标
func MetricsFromStats(name string, s pool.Stats) HealthMetrics {
	return HealthMetrics{
		PoolName:          name,
		ActiveConnections: s.InUse,
		IdleConnections:   s.Available,
		TotalConnections:  s.PoolSize,
		MaxConnections:    s.Config.MaxSize,
		Utilization:       float64(s.InUse) / float64(max(s.Config.MaxSize, 1)),
		ErrorRate:         float64(s.Failed) / float64(max(s.Acquired+s.Failed, 1)),
		AcquireTimeP95:    s.AcquireTimeP95,
		Timestamp:         time.Now(),
	}
}

// HealthCheck 定义一个池的健康阈值
type HealthCheck struct {
	PoolName string

	// WarningThreshold 和 CriticalThreshold 是利用率阈值
	WarningThreshold  float64
	CriticalThreshold float64

	// MaxErrorRate 为 0 时不检查错误率
	MaxErrorRate float64

	// MaxAcquireTime 为 0 时不检查获取耗时
	MaxAcquireTime time.Duration

	MinIdleConnections int
	CheckInterval      time.Duration
	Enabled            bool
}

// DefaultHealthCheck 返回默认阈值
func DefaultHealthCheck(name string) HealthCheck {
	return HealthCheck{
		PoolName:           name,
		WarningThreshold:   0.8,
		CriticalThreshold:  0.95,
		MaxErrorRate:       0.05,
		MaxAcquireTime:     time.Second,
		MinIdleConnections: 1,
		CheckInterval:      30 * time.Second,
		Enabled:            true,
	}
}

// Evaluate 根据阈值给出健康等级，空闲连接为 0 时总是 critical
func (c HealthCheck) Evaluate(m HealthMetrics) Status {
	switch {
	case m.Utilization >= c.CriticalThreshold,
		c.MaxErrorRate > 0 && m.ErrorRate >= 2*c.MaxErrorRate,
		m.IdleConnections < 1,
		c.MaxAcquireTime > 0 && m.AcquireTimeP95 > 2*c.MaxAcquireTime:
		return StatusCritical
	case m.Utilization >= c.WarningThreshold,
		c.MaxErrorRate > 0 && m.ErrorRate >= c.MaxErrorRate,
		c.MaxAcquireTime > 0 && m.AcquireTimeP95 > c.MaxAcquireTime,
		m.IdleConnections < c.MinIdleConnections:
		return StatusWarning
	}
	return StatusHealthy
}
