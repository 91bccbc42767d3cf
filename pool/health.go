package pool

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// HealthCheck 创建一个临时连接并校验，用于判断后端是否可用
// 临时连接不计入池的资源和计数
func (p *Pool) HealthCheck(ctx context.Context) HealthReport {
	start := time.Now()
	report := HealthReport{CheckedAt: start}

	p.mu.Lock()
	report.Closed = p.closed
	p.mu.Unlock()

	if report.Closed {
		report.Err = ErrPoolClosed
	} else {
		report.Validated, report.Err = p.probe(ctx)
	}

	report.Healthy = !report.Closed && report.Validated
	report.Duration = time.Since(start)
	report.Stats = p.Stats()
	return report
}

func (p *Pool) probe(ctx context.Context) (bool, error) {
	conn, err := p.factory.Create(ctx)
	if err != nil {
		return false, fmt.Errorf("health check: create: %w", err)
	}
	defer func() {
		if err := p.factory.Close(conn); err != nil {
			log.WithError(err).Warn("failed to close health check connection")
		}
	}()

	vctx := ctx
	if p.cfg.ValidationTimeout > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(ctx, p.cfg.ValidationTimeout)
		defer cancel()
	}
	if !p.factory.Validate(vctx, conn) {
		return false, fmt.Errorf("health check: %w", ErrInvalidResource)
	}
	return true, nil
}

// healthLoop 周期性地清理失效资源并补足 MinSize，直到 ctx 结束
func (p *Pool) healthLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.maintain(ctx)
		}
	}
}

// maintain 执行一轮健康检查，错误和 panic 只记录
func (p *Pool) maintain(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Warn("health check iteration panicked")
		}
	}()

	now := time.Now()
	stale := p.available.RemoveIf(func(res *Resource) bool {
		return res.IsExpired(now, p.cfg.MaxLifetime) || res.IsIdleExpired(now, p.cfg.MaxIdleTime)
	})
	for _, res := range stale {
		p.destroy(res, "expired")
	}

	evicted := 0
	for _, candidate := range p.available.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		// 先从队列取出，校验期间资源不会被其他调用方获取
		taken := p.available.RemoveIf(func(res *Resource) bool { return res == candidate })
		if len(taken) == 0 {
			continue
		}
		ok := p.validate(ctx, candidate)
		if ctx.Err() != nil {
			p.requeue(candidate)
			return
		}
		if ok {
			p.requeue(candidate)
			continue
		}
		evicted++
		p.destroyInvalid(candidate)
	}

	if len(stale) > 0 || evicted > 0 {
		log.WithField("expired", len(stale)).WithField("invalid", evicted).Debug("health check evicted resources")
	}

	if err := p.fill(ctx); err != nil && !errors.Is(err, ErrPoolClosed) && ctx.Err() == nil {
		log.WithError(err).Warn("failed to restore minimum pool size")
	}
}
