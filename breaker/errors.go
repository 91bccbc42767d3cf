package breaker

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCircuitOpen 表示熔断器拒绝了调用，操作没有被执行
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrOperationTimeout 表示被保护的操作超过了熔断器的超时时间
	// 同时满足 errors.Is(err, context.DeadlineExceeded)
	ErrOperationTimeout = fmt.Errorf("circuit breaker operation timed out: %w", context.DeadlineExceeded)

	// ErrBreakerExists 表示注册表中已存在同名熔断器
	ErrBreakerExists = errors.New("circuit breaker already registered")

	// ErrInvalidConfig 表示熔断器配置不合法
	ErrInvalidConfig = errors.New("invalid circuit breaker config")
)
