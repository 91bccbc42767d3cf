package pool

import (
	"fmt"
	"strings"
	"time"
)

// ExhaustionPolicy 定义池中没有可用资源且已达到上限时的行为
type ExhaustionPolicy int

const (
	// PolicyBlock 在 AcquireTimeout 与调用方截止时间中较早者之前等待
	PolicyBlock ExhaustionPolicy = iota

	// PolicyGrow 超出 MaxSize 临时创建新资源
	PolicyGrow

	// PolicyFail 立即返回 ErrPoolExhausted
	PolicyFail

	// PolicyWait 等待到调用方截止时间，没有截止时间时使用 AcquireTimeout
	PolicyWait
)

func (p ExhaustionPolicy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyGrow:
		return "grow"
	case PolicyFail:
		return "fail"
	case PolicyWait:
		return "wait"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseExhaustionPolicy 解析策略名称，大小写不敏感
func ParseExhaustionPolicy(s string) (ExhaustionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return PolicyBlock, nil
	case "grow":
		return PolicyGrow, nil
	case "fail":
		return PolicyFail, nil
	case "wait":
		return PolicyWait, nil
	default:
		return PolicyBlock, fmt.Errorf("%w: unknown exhaustion policy %q", ErrInvalidConfig, s)
	}
}

// Config 定义连接池的配置选项
type Config struct {
	// MinSize 是池启动时预先创建并在健康检查后维持的资源数
	MinSize int

	// MaxSize 是池可以拥有的最大资源数，PolicyGrow 除外
	MaxSize int

	// MaxIdleTime 是资源保持空闲状态的最长时间，0 表示不限制
	MaxIdleTime time.Duration

	// MaxLifetime 是资源从创建到关闭的最大生命周期，0 表示不限制
	MaxLifetime time.Duration

	// AcquireTimeout 是没有可用资源时等待的默认时长
	AcquireTimeout time.Duration

	// ValidationTimeout 限制每次 Validate 调用的时长，0 表示不限制
	ValidationTimeout time.Duration

	// RetryAttempts 是资源创建失败后的重试次数
	RetryAttempts int

	// RetryDelay 是第一次重试前的等待时间，之后按指数增长
	RetryDelay time.Duration

	// HealthCheckInterval 是后台健康检查的周期
	HealthCheckInterval time.Duration

	// ExhaustionPolicy 是池耗尽时的策略
	ExhaustionPolicy ExhaustionPolicy

	// EnableMetrics 开启获取延迟采样
	EnableMetrics bool

	// EnableHealthChecks 开启后台健康检查
	EnableHealthChecks bool

	// CreateRate 限制每秒创建资源的数量，0 表示不限制
	CreateRate float64

	// CreateBurst 是创建限流的突发容量
	CreateBurst int

	// EventListeners 是资源事件的监听器列表
	EventListeners []EventListener `json:"-"`
}

// DefaultConfig 返回默认的连接池配置
func DefaultConfig() Config {
	return Config{
		MinSize:             1,
		MaxSize:             10,
		MaxIdleTime:         5 * time.Minute,
		MaxLifetime:         time.Hour,
		AcquireTimeout:      30 * time.Second,
		ValidationTimeout:   5 * time.Second,
		RetryAttempts:       3,
		RetryDelay:          time.Second,
		HealthCheckInterval: time.Minute,
		ExhaustionPolicy:    PolicyBlock,
		EnableMetrics:       true,
		EnableHealthChecks:  true,
	}
}

// Validate 检查配置是否合法
func (c Config) Validate() error {
	switch {
	case c.MinSize < 0:
		return fmt.Errorf("%w: min size must be >= 0, got %d", ErrInvalidConfig, c.MinSize)
	case c.MaxSize < 1:
		return fmt.Errorf("%w: max size must be >= 1, got %d", ErrInvalidConfig, c.MaxSize)
	case c.MaxSize < c.MinSize:
		return fmt.Errorf("%w: max size %d is below min size %d", ErrInvalidConfig, c.MaxSize, c.MinSize)
	case c.AcquireTimeout <= 0:
		return fmt.Errorf("%w: acquire timeout must be positive", ErrInvalidConfig)
	case c.MaxIdleTime < 0 || c.MaxLifetime < 0 || c.ValidationTimeout < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	case c.RetryAttempts < 0:
		return fmt.Errorf("%w: retry attempts must be >= 0, got %d", ErrInvalidConfig, c.RetryAttempts)
	case c.RetryDelay < 0:
		return fmt.Errorf("%w: retry delay must not be negative", ErrInvalidConfig)
	case c.EnableHealthChecks && c.HealthCheckInterval <= 0:
		return fmt.Errorf("%w: health check interval must be positive when health checks are enabled", ErrInvalidConfig)
	case c.ExhaustionPolicy < PolicyBlock || c.ExhaustionPolicy > PolicyWait:
		return fmt.Errorf("%w: unknown exhaustion policy %d", ErrInvalidConfig, int(c.ExhaustionPolicy))
	case c.CreateRate < 0 || c.CreateBurst < 0:
		return fmt.Errorf("%w: create rate and burst must not be negative", ErrInvalidConfig)
	}
	return nil
}

// retryDelay 返回第 attempt 次重试前的等待时间（attempt 从 1 开始）
func (c Config) retryDelay(attempt int) time.Duration {
	if c.RetryDelay <= 0 || attempt <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift > 10 {
		shift = 10
	}
	return c.RetryDelay << uint(shift)
}

// Option 是用于配置池选项的函数类型
type Option func(*Config)

// NewConfig 在默认配置上应用选项并校验结果
func NewConfig(options ...Option) (Config, error) {
	cfg := DefaultConfig()
	for _, option := range options {
		option(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithMinSize 设置最小资源数
func WithMinSize(size int) Option {
	return func(c *Config) {
		c.MinSize = size
	}
}

// WithMaxSize 设置最大资源数
func WithMaxSize(size int) Option {
	return func(c *Config) {
		c.MaxSize = size
	}
}

// WithMaxIdleTime 设置最大空闲时间
func WithMaxIdleTime(d time.Duration) Option {
	return func(c *Config) {
		c.MaxIdleTime = d
	}
}

// WithMaxLifetime 设置资源最大生命周期
func WithMaxLifetime(d time.Duration) Option {
	return func(c *Config) {
		c.MaxLifetime = d
	}
}

// WithAcquireTimeout 设置获取资源的等待超时
func WithAcquireTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.AcquireTimeout = d
	}
}

// WithValidationTimeout 设置单次校验的超时
func WithValidationTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ValidationTimeout = d
	}
}

// WithRetry 设置创建重试次数和初始退避
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Config) {
		c.RetryAttempts = attempts
		c.RetryDelay = delay
	}
}

// WithHealthCheckInterval 设置健康检查周期，同时开启健康检查
func WithHealthCheckInterval(d time.Duration) Option {
	return func(c *Config) {
		c.HealthCheckInterval = d
		c.EnableHealthChecks = d > 0
	}
}

// WithHealthChecks 开启或关闭后台健康检查
func WithHealthChecks(enabled bool) Option {
	return func(c *Config) {
		c.EnableHealthChecks = enabled
	}
}

// WithExhaustionPolicy 设置池耗尽策略
func WithExhaustionPolicy(policy ExhaustionPolicy) Option {
	return func(c *Config) {
		c.ExhaustionPolicy = policy
	}
}

// WithMetrics 开启或关闭延迟采样
func WithMetrics(enabled bool) Option {
	return func(c *Config) {
		c.EnableMetrics = enabled
	}
}

// WithCreateRate 设置资源创建限流
func WithCreateRate(perSecond float64, burst int) Option {
	return func(c *Config) {
		c.CreateRate = perSecond
		c.CreateBurst = burst
	}
}

// WithEventListener 添加事件监听器
func WithEventListener(listener EventListener) Option {
	return func(c *Config) {
		c.EventListeners = append(c.EventListeners, listener)
	}
}
