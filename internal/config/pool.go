package config

import (
	"time"

	"github.com/fyerfyer/poolguard/breaker"
	"github.com/fyerfyer/poolguard/monitor"
	"github.com/fyerfyer/poolguard/pool"
)

// PoolSpec 描述一个具名的池
type PoolSpec struct {
	Name    string          `mapstructure:"name"`
	URL     string          `mapstructure:"url"`
	Pool    PoolSettings    `mapstructure:"pool"`
	Breaker BreakerSettings `mapstructure:"breaker"`
	Health  HealthSettings  `mapstructure:"health"`
}

// PoolSettings 对应 pool.Config
type PoolSettings struct {
	MinSize             int           `mapstructure:"min_size"`
	MaxSize             int           `mapstructure:"max_size"`
	MaxIdleTime         time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime         time.Duration `mapstructure:"max_lifetime"`
	AcquireTimeout      time.Duration `mapstructure:"acquire_timeout"`
	ValidationTimeout   time.Duration `mapstructure:"validation_timeout"`
	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	ExhaustionPolicy    string        `mapstructure:"exhaustion_policy"`
	EnableMetrics       bool          `mapstructure:"enable_metrics"`
	EnableHealthChecks  bool          `mapstructure:"enable_health_checks"`
	CreateRate          float64       `mapstructure:"create_rate"`
	CreateBurst         int           `mapstructure:"create_burst"`
}

// BreakerSettings 对应 breaker.Config，Adaptive 为 true 时使用自适应熔断器
type BreakerSettings struct {
	FailureThreshold    int           `mapstructure:"failure_threshold"`
	RecoveryTimeout     time.Duration `mapstructure:"recovery_timeout"`
	SuccessThreshold    int           `mapstructure:"success_threshold"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxHalfOpenRequests int           `mapstructure:"max_half_open_requests"`

	Adaptive             bool          `mapstructure:"adaptive"`
	AdaptationInterval   time.Duration `mapstructure:"adaptation_interval"`
	FailureRateThreshold float64       `mapstructure:"failure_rate_threshold"`
	MinFailureThreshold  int           `mapstructure:"min_failure_threshold"`
	MaxFailureThreshold  int           `mapstructure:"max_failure_threshold"`
	MinSamples           int           `mapstructure:"min_samples"`
}

// HealthSettings 对应 monitor.HealthCheck
type HealthSettings struct {
	Enabled            bool          `mapstructure:"enabled"`
	WarningThreshold   float64       `mapstructure:"warning_threshold"`
	CriticalThreshold  float64       `mapstructure:"critical_threshold"`
	MaxErrorRate       float64       `mapstructure:"max_error_rate"`
	MaxAcquireTime     time.Duration `mapstructure:"max_acquire_time"`
	MinIdleConnections int           `mapstructure:"min_idle_connections"`
	CheckInterval      time.Duration `mapstructure:"check_interval"`
}

// DefaultPoolSpec 返回各库默认值组成的池配置
func DefaultPoolSpec() PoolSpec {
	pc := pool.DefaultConfig()
	bc := breaker.DefaultConfig("")
	ac := breaker.DefaultAdaptiveConfig()
	hc := monitor.DefaultHealthCheck("")

	return PoolSpec{
		Pool: PoolSettings{
			MinSize:             pc.MinSize,
			MaxSize:             pc.MaxSize,
			MaxIdleTime:         pc.MaxIdleTime,
			MaxLifetime:         pc.MaxLifetime,
			AcquireTimeout:      pc.AcquireTimeout,
			ValidationTimeout:   pc.ValidationTimeout,
			RetryAttempts:       pc.RetryAttempts,
			RetryDelay:          pc.RetryDelay,
			HealthCheckInterval: pc.HealthCheckInterval,
			ExhaustionPolicy:    pc.ExhaustionPolicy.String(),
			EnableMetrics:       pc.EnableMetrics,
			EnableHealthChecks:  pc.EnableHealthChecks,
		},
		Breaker: BreakerSettings{
			FailureThreshold:     bc.FailureThreshold,
			RecoveryTimeout:      bc.RecoveryTimeout,
			SuccessThreshold:     bc.SuccessThreshold,
			Timeout:              bc.Timeout,
			MaxHalfOpenRequests:  bc.MaxHalfOpenRequests,
			AdaptationInterval:   ac.AdaptationInterval,
			FailureRateThreshold: ac.FailureRateThreshold,
			MinFailureThreshold:  ac.MinFailureThreshold,
			MaxFailureThreshold:  ac.MaxFailureThreshold,
			MinSamples:           ac.MinSamples,
		},
		Health: HealthSettings{
			Enabled:            hc.Enabled,
			WarningThreshold:   hc.WarningThreshold,
			CriticalThreshold:  hc.CriticalThreshold,
			MaxErrorRate:       hc.MaxErrorRate,
			MaxAcquireTime:     hc.MaxAcquireTime,
			MinIdleConnections: hc.MinIdleConnections,
			CheckInterval:      hc.CheckInterval,
		},
	}
}

// PoolConfig 转换为校验过的 pool.Config
func (s PoolSettings) PoolConfig() (pool.Config, error) {
	policy, err := pool.ParseExhaustionPolicy(s.ExhaustionPolicy)
	if err != nil {
		return pool.Config{}, err
	}
	return pool.NewConfig(
		pool.WithMinSize(s.MinSize),
		pool.WithMaxSize(s.MaxSize),
		pool.WithMaxIdleTime(s.MaxIdleTime),
		pool.WithMaxLifetime(s.MaxLifetime),
		pool.WithAcquireTimeout(s.AcquireTimeout),
		pool.WithValidationTimeout(s.ValidationTimeout),
		pool.WithRetry(s.RetryAttempts, s.RetryDelay),
		pool.WithHealthCheckInterval(s.HealthCheckInterval),
		pool.WithHealthChecks(s.EnableHealthChecks),
		pool.WithExhaustionPolicy(policy),
		pool.WithMetrics(s.EnableMetrics),
		pool.WithCreateRate(s.CreateRate, s.CreateBurst),
	)
}

// BreakerConfig 转换为 breaker.Config
func (s BreakerSettings) BreakerConfig(name string) breaker.Config {
	return breaker.Config{
		Name:                name,
		FailureThreshold:    s.FailureThreshold,
		RecoveryTimeout:     s.RecoveryTimeout,
		SuccessThreshold:    s.SuccessThreshold,
		Timeout:             s.Timeout,
		MaxHalfOpenRequests: s.MaxHalfOpenRequests,
	}
}

// AdaptiveConfig 转换为 breaker.AdaptiveConfig
func (s BreakerSettings) AdaptiveConfig() breaker.AdaptiveConfig {
	return breaker.AdaptiveConfig{
		AdaptationInterval:   s.AdaptationInterval,
		FailureRateThreshold: s.FailureRateThreshold,
		MinFailureThreshold:  s.MinFailureThreshold,
		MaxFailureThreshold:  s.MaxFailureThreshold,
		MinSamples:           s.MinSamples,
	}
}

// HealthCheck 转换为 monitor.HealthCheck
func (s HealthSettings) HealthCheck(name string) monitor.HealthCheck {
	return monitor.HealthCheck{
		PoolName:           name,
		WarningThreshold:   s.WarningThreshold,
		CriticalThreshold:  s.CriticalThreshold,
		MaxErrorRate:       s.MaxErrorRate,
		MaxAcquireTime:     s.MaxAcquireTime,
		MinIdleConnections: s.MinIdleConnections,
		CheckInterval:      s.CheckInterval,
		Enabled:            s.Enabled,
	}
}
