// Package connlimit 限制连接池创建新资源的速率，避免启动或扩容时冲击后端
package connlimit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrWaitTimeout 当等待创建许可超过最大等待时间时返回
	ErrWaitTimeout = errors.New("wait for create permit timed out")

	// ErrLimiterClosed 当限流器已关闭时返回
	ErrLimiterClosed = errors.New("limiter is closed")
)

// Limiter 控制资源创建的许可发放
type Limiter interface {
	// Allow 检查当前是否可以立即创建，不等待
	Allow() bool

	// Wait 等待直到获得创建许可或上下文结束
	Wait(ctx context.Context) error

	// Close 释放限流器，之后的 Wait 返回 ErrLimiterClosed
	Close() error
}

// Stats 记录限流器的许可发放情况
type Stats struct {
	// Granted 是获得许可的次数
	Granted uint64

	// Delayed 是需要等待才获得许可的次数
	Delayed uint64

	// Rejected 是超时、取消或关闭导致未获得许可的次数
	Rejected uint64
}

// TokenBucketLimiter 使用令牌桶算法限制资源创建
type TokenBucketLimiter struct {
	limiter     *rate.Limiter
	maxWaitTime time.Duration
	closed      atomic.Bool

	granted  atomic.Uint64
	delayed  atomic.Uint64
	rejected atomic.Uint64
}

// TokenBucketOption 是令牌桶限流器的配置选项
type TokenBucketOption func(*TokenBucketLimiter)

// WithMaxWaitTime 设置单次等待许可的最长时间，0 表示只受上下文约束
func WithMaxWaitTime(d time.Duration) TokenBucketOption {
	return func(l *TokenBucketLimiter) {
		l.maxWaitTime = d
	}
}

// NewTokenBucketLimiter 创建一个新的基于令牌桶算法的限流器
// 参数:
// - perSecond: 每秒允许创建的资源数
// - burst: 允许的最大突发创建数，小于 1 时按 1 处理
func NewTokenBucketLimiter(perSecond float64, burst int, opts ...TokenBucketOption) *TokenBucketLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &TokenBucketLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Allow 立即检查是否允许创建
func (l *TokenBucketLimiter) Allow() bool {
	if l.closed.Load() {
		return false
	}
	if l.limiter.Allow() {
		l.granted.Add(1)
		return true
	}
	return false
}

// Wait 等待直到允许创建或上下文结束
func (l *TokenBucketLimiter) Wait(ctx context.Context) error {
	if l.closed.Load() {
		l.rejected.Add(1)
		return ErrLimiterClosed
	}

	if l.maxWaitTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.maxWaitTime)
		defer cancel()
	}

	if l.limiter.Allow() {
		l.granted.Add(1)
		return nil
	}

	l.delayed.Add(1)
	if err := l.limiter.Wait(ctx); err != nil {
		l.rejected.Add(1)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrWaitTimeout
		}
		// rate.Limiter 在等待时间超过截止时间时直接返回错误
		if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
			return ErrWaitTimeout
		}
		return err
	}
	l.granted.Add(1)
	return nil
}

// SetRate 动态调整速率和突发容量
func (l *TokenBucketLimiter) SetRate(perSecond float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	l.limiter.SetLimit(rate.Limit(perSecond))
	l.limiter.SetBurst(burst)
}

// Stats 返回许可发放统计
func (l *TokenBucketLimiter) Stats() Stats {
	return Stats{
		Granted:  l.granted.Load(),
		Delayed:  l.delayed.Load(),
		Rejected: l.rejected.Load(),
	}
}

// Close 实现 Limiter 接口
func (l *TokenBucketLimiter) Close() error {
	l.closed.Store(true)
	return nil
}
