// Package pool 提供与后端无关的连接池引擎
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyerfyer/poolguard/pool/connlimit"
	"github.com/fyerfyer/poolguard/queue"
	"github.com/sirupsen/logrus"
)

// counters 是池的累计计数，受 Pool.mu 保护
type counters struct {
	created            uint64
	destroyed          uint64
	acquired           uint64
	released           uint64
	failed             uint64
	timeouts           uint64
	validationFailures uint64
	createErrors       uint64
}

// Pool 管理一组同类后端资源
// 每个资源任一时刻只属于可用队列、使用中集合或已销毁三者之一
type Pool struct {
	// 池配置，构造后不再修改
	cfg Config

	// 资源工厂
	factory Factory

	// 创建限流，未配置时为 nil
	limiter connlimit.Limiter

	// 可用资源队列，自带锁，等待时不持有 mu
	available queue.Queue[*Resource]

	// 保护以下结构性状态
	mu        sync.Mutex
	resources map[*Resource]struct{}
	inUse     map[*Resource]struct{}
	pending   int
	started   bool
	closed    bool
	counters  counters
	latency   *latencyWindow

	// 后台任务的生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 使用给定工厂和配置创建连接池，配置非法时不创建任何资源
func New(factory Factory, cfg Config) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: factory is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:       cfg,
		factory:   factory,
		available: queue.New[*Resource](),
		resources: make(map[*Resource]struct{}),
		inUse:     make(map[*Resource]struct{}),
		latency:   newLatencyWindow(),
		ctx:       ctx,
		cancel:    cancel,
	}
	if cfg.CreateRate > 0 {
		p.limiter = connlimit.NewTokenBucketLimiter(cfg.CreateRate, cfg.CreateBurst)
	}
	return p, nil
}

// Config 返回池的配置
func (p *Pool) Config() Config {
	return p.cfg
}

// Start 预先创建 MinSize 个资源并启动后台健康检查，重复调用无副作用
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.fill(ctx); err != nil {
		return fmt.Errorf("pool: start: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if p.started {
		return nil
	}
	p.started = true

	if p.cfg.EnableHealthChecks && p.cfg.HealthCheckInterval > 0 {
		p.wg.Add(1)
		go p.healthLoop(p.ctx)
	}

	log.WithFields(logrus.Fields{
		"min_size": p.cfg.MinSize,
		"max_size": p.cfg.MaxSize,
		"policy":   p.cfg.ExhaustionPolicy.String(),
	}).Info("pool started")
	return nil
}

// Stop 关闭池：停止后台任务并等待其退出，然后关闭所有资源，重复调用安全
func (p *Pool) Stop() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	owned := make([]*Resource, 0, len(p.resources))
	for res := range p.resources {
		owned = append(owned, res)
	}
	p.counters.destroyed += uint64(len(owned))
	p.resources = make(map[*Resource]struct{})
	p.inUse = make(map[*Resource]struct{})
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	p.available.Clear()
	_ = p.available.Close()
	p.available.Clear()

	for _, res := range owned {
		p.closeResource(res, "pool stopped")
	}
	if p.limiter != nil {
		_ = p.limiter.Close()
	}

	log.WithField("closed_resources", len(owned)).Info("pool stopped")
	return nil
}

// Acquire 从池中获取一个资源
// 没有可用资源时按 ExhaustionPolicy 处理：创建、失败或等待
func (p *Pool) Acquire(ctx context.Context) (*Resource, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	invalidFresh := 0

	for {
		res, fresh, err := p.candidate(ctx, start)
		if err != nil {
			p.recordFailure(err)
			return nil, err
		}

		// 调用方取消不应让正常资源被判为无效
		if !p.validate(context.WithoutCancel(ctx), res) {
			p.destroyInvalid(res)
			if fresh {
				invalidFresh++
				if invalidFresh > p.cfg.RetryAttempts {
					err := fmt.Errorf("%w: %d new resource(s) failed validation", ErrInvalidResource, invalidFresh)
					p.recordFailure(err)
					return nil, err
				}
			}
			continue
		}

		// 调用方已放弃，资源放回队列而不是泄漏
		if err := ctx.Err(); err != nil {
			p.requeue(res)
			p.recordFailure(err)
			return nil, err
		}

		if err := p.checkout(res, start); err != nil {
			p.recordFailure(err)
			return nil, err
		}
		return res, nil
	}
}

// Release 归还资源，opErr 为使用期间的操作错误
// 过期、空闲过久、错误过多或池已关闭的资源会被销毁
func (p *Pool) Release(res *Resource, opErr error) error {
	if res == nil {
		return ErrUnknownResource
	}
	now := time.Now()

	p.mu.Lock()
	if _, ok := p.inUse[res]; !ok {
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return nil
		}
		return ErrUnknownResource
	}
	delete(p.inUse, res)

	errCount := res.recordRelease(opErr)
	var reason string
	switch {
	case res.IsExpired(now, p.cfg.MaxLifetime):
		reason = "expired"
	case res.IsIdleExpired(now, p.cfg.MaxIdleTime):
		reason = "idle expired"
	case errCount > MaxResourceErrors:
		reason = "too many errors"
	case len(p.resources) > p.cfg.MaxSize:
		reason = "over capacity"
	default:
		p.counters.released++
	}
	p.mu.Unlock()

	if reason != "" {
		p.destroy(res, reason)
		p.replenish()
		return nil
	}

	res.markAvailable(now)
	if err := p.available.TryEnqueue(res); err != nil {
		p.destroy(res, "pool closed")
		return nil
	}
	p.notify(EventRelease, res)
	return nil
}

// With 获取资源并执行 fn，任何退出路径都会归还资源
// fn 发生 panic 时先归还资源再重新抛出
func (p *Pool) With(ctx context.Context, fn func(res *Resource) error) (err error) {
	res, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = p.Release(res, fmt.Errorf("panic: %v", r))
			panic(r)
		}
		_ = p.Release(res, err)
	}()

	return fn(res)
}

// WithConn 是 With 的泛型版本，把底层连接断言为 T 后交给 fn
func WithConn[T any](ctx context.Context, p *Pool, fn func(conn T) error) error {
	return p.With(ctx, func(res *Resource) error {
		conn, ok := res.Conn().(T)
		if !ok {
			return fmt.Errorf("%w: got %T", ErrConnType, res.Conn())
		}
		return fn(conn)
	})
}

// Stats 返回池的统计信息
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		PoolSize:           len(p.resources),
		InUse:              len(p.inUse),
		Created:            p.counters.created,
		Destroyed:          p.counters.destroyed,
		Acquired:           p.counters.acquired,
		Released:           p.counters.released,
		Failed:             p.counters.failed,
		Timeouts:           p.counters.timeouts,
		ValidationFailures: p.counters.validationFailures,
		CreateErrors:       p.counters.createErrors,
		Started:            p.started,
		Closed:             p.closed,
		Config:             p.cfg,
	}
	if p.cfg.EnableMetrics {
		s.AcquireTimeP95, s.AcquireTimeAvg = p.latency.summary()
	}
	p.mu.Unlock()

	qs := p.available.Stats()
	s.Available = qs.Size
	s.Waiters = qs.Waiters
	return s
}

// candidate 返回一个待校验的资源，fresh 表示资源是刚创建的
func (p *Pool) candidate(ctx context.Context, start time.Time) (*Resource, bool, error) {
	if res, err := p.available.TryDequeue(); err == nil {
		return res, false, nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, ErrPoolClosed
	}
	total := len(p.resources) + p.pending
	if total < p.cfg.MaxSize || p.cfg.ExhaustionPolicy == PolicyGrow {
		// 在锁内预留名额，并发扩容不会越过上限
		p.pending++
		p.mu.Unlock()
		if total >= p.cfg.MaxSize {
			log.WithField("pool_size", total).Debug("growing beyond max size")
		}
		res, err := p.create(ctx)
		return res, true, err
	}
	p.mu.Unlock()

	if p.cfg.ExhaustionPolicy == PolicyFail {
		return nil, false, ErrPoolExhausted
	}
	res, err := p.wait(ctx, start)
	return res, false, err
}

// wait 在可用队列上阻塞等待
// PolicyBlock 等待 AcquireTimeout 与调用方截止时间中较早者
// PolicyWait 有截止时间时只受调用方约束
func (p *Pool) wait(ctx context.Context, start time.Time) (*Resource, error) {
	var (
		wctx   context.Context
		cancel context.CancelFunc
	)
	if _, ok := ctx.Deadline(); ok && p.cfg.ExhaustionPolicy == PolicyWait {
		wctx, cancel = context.WithCancel(ctx)
	} else {
		wctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	}
	defer cancel()

	res, err := p.available.Dequeue(wctx)
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, queue.ErrQueueClosed):
		return nil, ErrPoolClosed
	case errors.Is(ctx.Err(), context.Canceled):
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("%w after %s", ErrAcquireTimeout, time.Since(start).Round(time.Millisecond))
	}
}

// fill 补充资源直到达到 MinSize
func (p *Pool) fill(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrPoolClosed
		}
		if len(p.resources)+p.pending >= p.cfg.MinSize {
			p.mu.Unlock()
			return nil
		}
		p.pending++
		p.mu.Unlock()

		res, err := p.create(ctx)
		if err != nil {
			return err
		}
		p.requeue(res)
	}
}

// replenish 在有等待者且低于上限时异步补充一个资源
func (p *Pool) replenish() {
	if p.available.Stats().Waiters == 0 {
		return
	}

	p.mu.Lock()
	if p.closed || len(p.resources)+p.pending >= p.cfg.MaxSize {
		p.mu.Unlock()
		return
	}
	p.pending++
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.AcquireTimeout)
		defer cancel()

		res, err := p.create(ctx)
		if err != nil {
			log.WithError(err).Debug("replenish failed")
			return
		}
		p.requeue(res)
	}()
}

// create 创建并登记一个新资源，调用方必须已预留名额
func (p *Pool) create(ctx context.Context) (*Resource, error) {
	conn, err := p.createConn(ctx)

	p.mu.Lock()
	p.pending--
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		if cerr := p.factory.Close(conn); cerr != nil {
			log.WithError(cerr).Warn("failed to close resource created after stop")
		}
		return nil, ErrPoolClosed
	}
	res := newResource(conn)
	p.resources[res] = struct{}{}
	p.counters.created++
	p.mu.Unlock()

	log.WithField("resource", res.id).Debug("resource created")
	p.notify(EventCreate, res)
	return res, nil
}

// createConn 调用工厂创建连接，失败时按指数退避重试
func (p *Pool) createConn(ctx context.Context) (any, error) {
	var lastErr error
	attempts := p.cfg.RetryAttempts + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.cfg.retryDelay(attempt))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("create resource: %w: %w", ctx.Err(), lastErr)
			}
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("create resource: throttled: %w", err)
			}
		}

		conn, err := p.factory.Create(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		p.mu.Lock()
		p.counters.createErrors++
		p.mu.Unlock()

		log.WithError(err).WithField("attempt", attempt+1).Warn("resource creation failed")
		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("create resource after %d attempt(s): %w", attempts, lastErr)
}

// validate 在 ValidationTimeout 内校验资源，工厂 panic 视为无效
func (p *Pool) validate(ctx context.Context, res *Resource) (ok bool) {
	res.setState(StateValidating)

	if p.cfg.ValidationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ValidationTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithField("resource", res.id).WithField("panic", r).Warn("validate panicked")
			ok = false
		}
	}()
	return p.factory.Validate(ctx, res.conn)
}

// checkout 把资源登记为使用中
func (p *Pool) checkout(res *Resource, start time.Time) error {
	now := time.Now()

	p.mu.Lock()
	if _, ok := p.resources[res]; !ok || p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	res.markInUse(now)
	p.inUse[res] = struct{}{}
	p.counters.acquired++
	if p.cfg.EnableMetrics {
		p.latency.record(now.Sub(start))
	}
	p.mu.Unlock()

	p.notify(EventAcquire, res)
	return nil
}

// requeue 把未被使用的资源放回可用队列，不刷新最近使用时间
func (p *Pool) requeue(res *Resource) {
	res.setState(StateAvailable)
	if err := p.available.TryEnqueue(res); err != nil {
		p.destroy(res, "pool closed")
	}
}

func (p *Pool) destroyInvalid(res *Resource) {
	p.mu.Lock()
	p.counters.validationFailures++
	p.mu.Unlock()

	p.notify(EventValidationFailed, res)
	p.destroy(res, "validation failed")
}

// destroy 注销并关闭资源，已注销的资源忽略
func (p *Pool) destroy(res *Resource, reason string) {
	p.mu.Lock()
	if _, ok := p.resources[res]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.resources, res)
	delete(p.inUse, res)
	p.counters.destroyed++
	p.mu.Unlock()

	p.closeResource(res, reason)
}

// closeResource 关闭底层连接，错误只记录不返回
func (p *Pool) closeResource(res *Resource, reason string) {
	res.setState(StateClosing)
	if err := p.factory.Close(res.conn); err != nil {
		res.setState(StateError)
		log.WithError(err).WithField("resource", res.id).Warn("failed to close resource")
	} else {
		res.setState(StateClosed)
	}

	log.WithFields(logrus.Fields{"resource": res.id, "reason": reason}).Debug("resource destroyed")
	p.notify(EventDestroy, res)
}

func (p *Pool) recordFailure(err error) {
	p.mu.Lock()
	p.counters.failed++
	if errors.Is(err, ErrAcquireTimeout) {
		p.counters.timeouts++
	}
	p.mu.Unlock()
}

// notify 同步通知事件监听器，监听器的 panic 不影响池
func (p *Pool) notify(event Event, res *Resource) {
	for _, listener := range p.cfg.EventListeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("event", event.String()).WithField("panic", r).Warn("event listener panicked")
				}
			}()
			listener.OnEvent(event, res)
		}()
	}
}
