package breaker

import (
	"fmt"
	"time"
)

// AdaptiveConfig 定义自适应熔断器调整失败阈值的方式
type AdaptiveConfig struct {
	// AdaptationInterval 是两次调整之间的最短间隔，历史保留两倍于它的时长
	AdaptationInterval time.Duration

	// FailureRateThreshold 是目标失败率，超过时提高阈值，低于一半时降低阈值
	FailureRateThreshold float64

	// MinFailureThreshold 和 MaxFailureThreshold 是阈值的调整范围
	MinFailureThreshold int
	MaxFailureThreshold int

	// MinSamples 是调整所需的最少样本数
	MinSamples int
}

// DefaultAdaptiveConfig 返回默认的自适应配置
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		AdaptationInterval:   60 * time.Second,
		FailureRateThreshold: 0.5,
		MinFailureThreshold:  2,
		MaxFailureThreshold:  20,
		MinSamples:           10,
	}
}

// Validate 检查自适应配置是否合法
func (c AdaptiveConfig) Validate() error {
	switch {
	case c.AdaptationInterval <= 0:
		return fmt.Errorf("%w: adaptation interval must be positive", ErrInvalidConfig)
	case c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 1:
		return fmt.Errorf("%w: failure rate threshold must be in (0, 1], got %v", ErrInvalidConfig, c.FailureRateThreshold)
	case c.MinFailureThreshold < 1:
		return fmt.Errorf("%w: min failure threshold must be >= 1", ErrInvalidConfig)
	case c.MaxFailureThreshold < c.MinFailureThreshold:
		return fmt.Errorf("%w: max failure threshold %d is below min %d", ErrInvalidConfig, c.MaxFailureThreshold, c.MinFailureThreshold)
	case c.MinSamples < 1:
		return fmt.Errorf("%w: min samples must be >= 1", ErrInvalidConfig)
	}
	return nil
}

type sample struct {
	at      time.Time
	success bool
	state   State
}

// AdaptiveCircuitBreaker 根据近期失败率在范围内调整失败阈值
type AdaptiveCircuitBreaker struct {
	*CircuitBreaker

	acfg AdaptiveConfig

	// 以下字段受 CircuitBreaker.mu 保护
	history        []sample
	lastAdaptation time.Time
	adjustments    uint64
}

// NewAdaptive 创建自适应熔断器，初始阈值必须在调整范围内
func NewAdaptive(cfg Config, acfg AdaptiveConfig) (*AdaptiveCircuitBreaker, error) {
	if err := acfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.FailureThreshold < acfg.MinFailureThreshold || cfg.FailureThreshold > acfg.MaxFailureThreshold {
		return nil, fmt.Errorf("%w: failure threshold %d outside [%d, %d]", ErrInvalidConfig,
			cfg.FailureThreshold, acfg.MinFailureThreshold, acfg.MaxFailureThreshold)
	}

	cb, err := New(cfg)
	if err != nil {
		return nil, err
	}

	ab := &AdaptiveCircuitBreaker{
		CircuitBreaker: cb,
		acfg:           acfg,
		lastAdaptation: time.Now(),
	}
	cb.observe = ab.record
	cb.onReset = ab.reset
	return ab, nil
}

// FailureThreshold 返回当前的失败阈值
func (ab *AdaptiveCircuitBreaker) FailureThreshold() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return ab.failureThreshold
}

// Adjustments 返回阈值被调整的次数
func (ab *AdaptiveCircuitBreaker) Adjustments() uint64 {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return ab.adjustments
}

// record 记录一次结果并按间隔调整阈值，调用时持有锁
func (ab *AdaptiveCircuitBreaker) record(now time.Time, success bool) {
	ab.history = append(ab.history, sample{at: now, success: success, state: ab.state})

	cutoff := now.Add(-2 * ab.acfg.AdaptationInterval)
	drop := 0
	for drop < len(ab.history) && ab.history[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		ab.history = append(ab.history[:0], ab.history[drop:]...)
	}

	if now.Sub(ab.lastAdaptation) < ab.acfg.AdaptationInterval {
		return
	}
	ab.lastAdaptation = now

	if len(ab.history) < ab.acfg.MinSamples {
		return
	}

	failures := 0
	for _, s := range ab.history {
		if !s.success {
			failures++
		}
	}
	rate := float64(failures) / float64(len(ab.history))

	old := ab.failureThreshold
	switch {
	case rate > ab.acfg.FailureRateThreshold && ab.failureThreshold < ab.acfg.MaxFailureThreshold:
		ab.failureThreshold++
	case rate < ab.acfg.FailureRateThreshold/2 && ab.failureThreshold > ab.acfg.MinFailureThreshold:
		ab.failureThreshold--
	default:
		return
	}
	ab.adjustments++

	log.WithField("circuit", ab.cfg.Name).
		WithField("failure_rate", rate).
		WithField("from", old).
		WithField("to", ab.failureThreshold).
		Debug("adapted failure threshold")
}

// reset 恢复配置的阈值并清空历史，调用时持有锁
func (ab *AdaptiveCircuitBreaker) reset() {
	ab.history = nil
	ab.failureThreshold = ab.cfg.FailureThreshold
	ab.lastAdaptation = time.Now()
}
