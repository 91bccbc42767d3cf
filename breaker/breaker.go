// Package breaker 实现熔断器模式，在下游持续失败时快速拒绝调用
//
// 状态转换:
//
//	Closed -> Open -> HalfOpen -> Closed
//	            ^         |
//	            +---------+ (试探失败)
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State 是熔断器状态
type State int

const (
	// StateClosed 正常放行
	StateClosed State = iota
	// StateOpen 拒绝所有调用，直到恢复时间到达
	StateOpen
	// StateHalfOpen 放行有限的试探调用
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText 让状态以名称形式出现在 JSON 中
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 解析 MarshalText 输出的名称
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "closed":
		*s = StateClosed
	case "open":
		*s = StateOpen
	case "half_open":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("breaker: unknown state %q", text)
	}
	return nil
}

// Config 定义熔断器配置
type Config struct {
	// Name 是熔断器名称，通常对应一个下游服务
	Name string

	// FailureThreshold 是 Closed 状态下打开熔断器所需的连续失败次数
	FailureThreshold int

	// RecoveryTimeout 是打开后进入半开状态前的等待时间
	RecoveryTimeout time.Duration

	// SuccessThreshold 是半开状态下关闭熔断器所需的连续成功次数
	SuccessThreshold int

	// Timeout 是单次调用的截止时间，0 表示不限制
	Timeout time.Duration

	// ExpectedErrors 是计入失败的错误，通过 errors.Is 匹配
	ExpectedErrors []error

	// IsExpected 自定义计入失败的错误判断
	// 与 ExpectedErrors 都为空时所有错误都计入失败
	IsExpected func(err error) bool

	// MaxHalfOpenRequests 是半开状态下同时进行的试探调用上限，0 表示不限制
	MaxHalfOpenRequests int
}

// DefaultConfig 返回默认配置
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		FailureThreshold:    5,
		RecoveryTimeout:     60 * time.Second,
		SuccessThreshold:    3,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// Validate 检查配置是否合法
func (c Config) Validate() error {
	switch {
	case c.FailureThreshold < 1:
		return fmt.Errorf("%w: failure threshold must be >= 1, got %d", ErrInvalidConfig, c.FailureThreshold)
	case c.SuccessThreshold < 1:
		return fmt.Errorf("%w: success threshold must be >= 1, got %d", ErrInvalidConfig, c.SuccessThreshold)
	case c.RecoveryTimeout <= 0:
		return fmt.Errorf("%w: recovery timeout must be positive", ErrInvalidConfig)
	case c.Timeout < 0:
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidConfig)
	case c.MaxHalfOpenRequests < 0:
		return fmt.Errorf("%w: max half-open requests must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Stats 是熔断器的统计快照
type Stats struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	FailureThreshold int       `json:"failure_threshold"`
	FailureCount     int       `json:"failure_count"`
	SuccessCount     int       `json:"success_count"`
	LastFailure      time.Time `json:"last_failure"`
	NextAttempt      time.Time `json:"next_attempt"`
	LastStateChange  time.Time `json:"last_state_change"`

	TotalRequests  uint64 `json:"total_requests"`
	TotalSuccesses uint64 `json:"total_successes"`
	TotalFailures  uint64 `json:"total_failures"`
	Rejected       uint64 `json:"rejected"`
	Timeouts       uint64 `json:"timeouts"`
	StateChanges   uint64 `json:"state_changes"`
}

// StateChangeFunc 在状态变化后被调用，调用时不持有熔断器的锁
type StateChangeFunc func(name string, from, to State)

type transition struct {
	from, to State
}

// CircuitBreaker 实现熔断器模式
// 状态只在 Call 和控制方法中修改，被保护的操作在锁外执行
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg Config

	// failureThreshold 初始来自配置，自适应熔断器会调整它
	failureThreshold int

	state            State
	failureCount     int
	successCount     int
	halfOpenInFlight int

	lastFailure     time.Time
	nextAttempt     time.Time
	lastStateChange time.Time

	totalRequests  uint64
	totalSuccesses uint64
	totalFailures  uint64
	rejected       uint64
	timeouts       uint64
	stateChanges   uint64

	listeners []StateChangeFunc
	pending   []transition

	// observe 在每次计入结果后调用，onReset 在 Reset 时调用，调用时都持有锁
	observe func(now time.Time, success bool)
	onReset func()
}

// New 使用给定配置创建熔断器
func New(cfg Config) (*CircuitBreaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CircuitBreaker{
		cfg:              cfg,
		failureThreshold: cfg.FailureThreshold,
		state:            StateClosed,
		lastStateChange:  time.Now(),
	}, nil
}

// Name 返回熔断器名称
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Config 返回创建时的配置
func (cb *CircuitBreaker) Config() Config {
	return cb.cfg
}

// OnStateChange 注册状态变化回调
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.listeners = append(cb.listeners, fn)
}

// State 返回当前状态
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats 返回统计快照
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:             cb.cfg.Name,
		State:            cb.state,
		FailureThreshold: cb.failureThreshold,
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		LastFailure:      cb.lastFailure,
		NextAttempt:      cb.nextAttempt,
		LastStateChange:  cb.lastStateChange,
		TotalRequests:    cb.totalRequests,
		TotalSuccesses:   cb.totalSuccesses,
		TotalFailures:    cb.totalFailures,
		Rejected:         cb.rejected,
		Timeouts:         cb.timeouts,
		StateChanges:     cb.stateChanges,
	}
}

// Call 在熔断器保护下执行 fn
// 熔断器打开时直接返回 ErrCircuitOpen；fn 的错误原样返回
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	halfOpen, err := cb.before()
	if err != nil {
		return err
	}

	panicked, err := cb.run(ctx, fn)
	if panicked != nil {
		cb.after(halfOpen, fmt.Errorf("panic: %v", panicked), false)
		panic(panicked)
	}

	timedOut := errors.Is(err, ErrOperationTimeout)
	cb.after(halfOpen, err, timedOut)
	return err
}

// Execute 是 Call 的泛型版本，返回 fn 的结果
func Execute[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := cb.Call(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// Reset 把熔断器恢复到初始的关闭状态并清空统计
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.transitionTo(StateClosed, time.Now())
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenInFlight = 0
	cb.lastFailure = time.Time{}
	cb.nextAttempt = time.Time{}
	cb.totalRequests = 0
	cb.totalSuccesses = 0
	cb.totalFailures = 0
	cb.rejected = 0
	cb.timeouts = 0
	if cb.onReset != nil {
		cb.onReset()
	}
	cb.unlockAndNotify()
}

// ForceOpen 强制打开熔断器，RecoveryTimeout 之后允许试探
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	now := time.Now()
	cb.transitionTo(StateOpen, now)
	cb.nextAttempt = now.Add(cb.cfg.RecoveryTimeout)
	cb.unlockAndNotify()
}

// ForceClose 强制关闭熔断器
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	cb.transitionTo(StateClosed, time.Now())
	cb.failureCount = 0
	cb.successCount = 0
	cb.unlockAndNotify()
}

// before 决定是否放行，返回本次调用是否为半开试探
func (cb *CircuitBreaker) before() (bool, error) {
	cb.mu.Lock()
	defer cb.unlockAndNotify()

	now := time.Now()
	cb.totalRequests++

	if cb.state == StateOpen {
		if now.Before(cb.nextAttempt) {
			cb.rejected++
			return false, ErrCircuitOpen
		}
		cb.transitionTo(StateHalfOpen, now)
	}

	if cb.state == StateHalfOpen {
		if cb.cfg.MaxHalfOpenRequests > 0 && cb.halfOpenInFlight >= cb.cfg.MaxHalfOpenRequests {
			cb.rejected++
			return false, ErrCircuitOpen
		}
		cb.halfOpenInFlight++
		return true, nil
	}
	return false, nil
}

// run 在 Timeout 截止时间下执行 fn
// fn 忽略 ctx 时调用方仍在截止时间返回，fn 的结果被丢弃
func (cb *CircuitBreaker) run(ctx context.Context, fn func(ctx context.Context) error) (panicked any, err error) {
	if cb.cfg.Timeout <= 0 {
		defer func() {
			panicked = recover()
		}()
		return nil, fn(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, cb.cfg.Timeout)
	defer cancel()

	type outcome struct {
		err      error
		panicked any
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() {
			o.panicked = recover()
			done <- o
		}()
		o.err = fn(tctx)
	}()

	select {
	case o := <-done:
		if o.panicked != nil {
			return o.panicked, nil
		}
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil && tctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrOperationTimeout, o.err)
		}
		return nil, o.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrOperationTimeout
	}
}

// after 记录调用结果
func (cb *CircuitBreaker) after(halfOpen bool, err error, timedOut bool) {
	cb.mu.Lock()
	defer cb.unlockAndNotify()

	if halfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	now := time.Now()
	switch {
	case err == nil:
		cb.onSuccess(now)
	case timedOut:
		cb.timeouts++
		cb.onFailure(now)
	case cb.isExpected(err):
		cb.onFailure(now)
	default:
		// 非预期错误不影响熔断状态
		return
	}

	if cb.observe != nil {
		cb.observe(now, err == nil)
	}
}

func (cb *CircuitBreaker) isExpected(err error) bool {
	if len(cb.cfg.ExpectedErrors) == 0 && cb.cfg.IsExpected == nil {
		return true
	}
	if cb.cfg.IsExpected != nil && cb.cfg.IsExpected(err) {
		return true
	}
	for _, target := range cb.cfg.ExpectedErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// onSuccess 必须持有锁
func (cb *CircuitBreaker) onSuccess(now time.Time) {
	cb.totalSuccesses++

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.transitionTo(StateClosed, now)
		}
	case StateOpen:
		// 强制打开之前已放行的调用
	}
}

// onFailure 必须持有锁
func (cb *CircuitBreaker) onFailure(now time.Time) {
	cb.totalFailures++
	cb.lastFailure = now

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transitionTo(StateOpen, now)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen, now)
	case StateOpen:
	}
}

// transitionTo 修改状态，必须持有锁
func (cb *CircuitBreaker) transitionTo(to State, now time.Time) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.lastStateChange = now
	cb.stateChanges++

	switch to {
	case StateClosed:
		cb.failureCount = 0
		cb.successCount = 0
		cb.halfOpenInFlight = 0
	case StateOpen:
		cb.successCount = 0
		cb.nextAttempt = now.Add(cb.cfg.RecoveryTimeout)
	case StateHalfOpen:
		cb.successCount = 0
		cb.halfOpenInFlight = 0
	}

	log.WithField("circuit", cb.cfg.Name).
		WithField("from", from.String()).
		WithField("to", to.String()).
		Info("circuit breaker state transition")

	cb.pending = append(cb.pending, transition{from: from, to: to})
}

// unlockAndNotify 释放锁后同步通知状态变化
func (cb *CircuitBreaker) unlockAndNotify() {
	pending := cb.pending
	cb.pending = nil
	listeners := cb.listeners
	name := cb.cfg.Name
	cb.mu.Unlock()

	for _, t := range pending {
		for _, fn := range listeners {
			fn(name, t.from, t.to)
		}
	}
}
