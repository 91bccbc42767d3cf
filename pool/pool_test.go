package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConn 是测试用的后端连接
type mockConn struct {
	id     int
	valid  atomic.Bool
	closed atomic.Bool
}

// mockFactory 实现 Factory 接口，用于测试
type mockFactory struct {
	mu        sync.Mutex
	counter   int
	failFirst int
	createErr error
	conns     []*mockConn

	closeCount atomic.Int32
}

func (f *mockFactory) Create(ctx context.Context) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return nil, f.createErr
	}
	// 模拟前几次创建失败
	if f.failFirst > 0 {
		f.failFirst--
		return nil, errors.New("simulated create failure")
	}

	f.counter++
	c := &mockConn{id: f.counter}
	c.valid.Store(true)
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *mockFactory) Validate(ctx context.Context, conn any) bool {
	c := conn.(*mockConn)
	return c.valid.Load() && !c.closed.Load()
}

func (f *mockFactory) Close(conn any) error {
	conn.(*mockConn).closed.Store(true)
	f.closeCount.Add(1)
	return nil
}

func (f *mockFactory) conn(id int) *mockConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[id-1]
}

// mockEventListener 实现 EventListener 接口，用于测试
type mockEventListener struct {
	mu     sync.Mutex
	events []Event
}

func (l *mockEventListener) OnEvent(event Event, res *Resource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *mockEventListener) seen() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func testConfig(t *testing.T, opts ...Option) Config {
	t.Helper()
	base := []Option{
		WithMinSize(0),
		WithMaxSize(5),
		WithHealthChecks(false),
		WithAcquireTimeout(time.Second),
		WithRetry(0, 0),
	}
	cfg, err := NewConfig(append(base, opts...)...)
	require.NoError(t, err)
	return cfg
}

func newTestPool(t *testing.T, factory Factory, opts ...Option) *Pool {
	t.Helper()
	p, err := New(factory, testConfig(t, opts...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func TestPool_StartCreatesMinSize(t *testing.T) {
	factory := &mockFactory{}
	p := newTestPool(t, factory, WithMinSize(2), WithMaxSize(5))

	require.NoError(t, p.Start(context.Background()))

	stats := p.Stats()
	assert.Equal(t, 2, stats.PoolSize)
	assert.Equal(t, 2, stats.Available)
	assert.Equal(t, 0, stats.InUse)
	assert.True(t, stats.Started)

	// 重复启动不会创建更多资源
	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, 2, p.Stats().PoolSize)
}

func TestPool_StartRetriesCreation(t *testing.T) {
	factory := &mockFactory{failFirst: 2}
	p := newTestPool(t, factory, WithMinSize(1), WithRetry(3, time.Millisecond))

	require.NoError(t, p.Start(context.Background()))

	stats := p.Stats()
	assert.Equal(t, 1, stats.PoolSize)
	assert.Equal(t, uint64(2), stats.CreateErrors)
}

func TestPool_StartFailsAfterRetries(t *testing.T) {
	createErr := errors.New("backend down")
	factory := &mockFactory{createErr: createErr}
	p := newTestPool(t, factory, WithMinSize(1), WithRetry(2, time.Millisecond))

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, createErr)
	assert.False(t, p.Stats().Started)
	assert.Equal(t, uint64(3), p.Stats().CreateErrors)
}

func TestPool_InvalidConfig(t *testing.T) {
	_, err := NewConfig(WithMinSize(5), WithMaxSize(2))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewConfig(WithAcquireTimeout(0))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	policy, err := ParseExhaustionPolicy("GROW")
	require.NoError(t, err)
	assert.Equal(t, PolicyGrow, policy)

	_, err = ParseExhaustionPolicy("spin")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPool_FailPolicy(t *testing.T) {
	factory := &mockFactory{}
	p := newTestPool(t, factory, WithMaxSize(1), WithExhaustionPolicy(PolicyFail))
	ctx := context.Background()

	res, err := p.Acquire(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, uint64(1), p.Stats().Failed)

	require.NoError(t, p.Release(res, nil))
}

func TestPool_GrowPolicy(t *testing.T) {
	factory := &mockFactory{}
	p := newTestPool(t, factory, WithMaxSize(1), WithExhaustionPolicy(PolicyGrow))
	ctx := context.Background()

	first, err := p.Acquire(ctx)
	require.NoError(t, err)
	second, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stats().PoolSize)

	// 超出上限的资源在归还时被回收
	require.NoError(t, p.Release(first, nil))
	require.NoError(t, p.Release(second, nil))

	stats := p.Stats()
	assert.Equal(t, 1, stats.PoolSize)
	assert.Equal(t, 1, stats.Available)
	assert.Equal(t, uint64(1), stats.Destroyed)
}

func TestPool_BlockPolicyTimeout(t *testing.T) {
	factory := &mockFactory{}
	timeout := 50 * time.Millisecond
	p := newTestPool(t, factory, WithMaxSize(1), WithAcquireTimeout(timeout))
	ctx := context.Background()

	res, err := p.Acquire(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	assert.GreaterOrEqual(t, time.Since(start), timeout)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Timeouts)
	assert.Equal(t, 0, stats.Waiters)

	require.NoError(t, p.Release(res, nil))
}

func TestPool_BlockPolicyUsesEarlierCallerDeadline(t *testing.T) {
	factory := &mockFactory{}
	p := newTestPool(t, factory, WithMaxSize(1), WithAcquireTimeout(5*time.Second))

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(res, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPool_BlockWakesOnRelease(t *testing.T) {
	factory := &mockFactory{}
	p := newTestPool(t, factory, WithMaxSize(1))
	ctx := context.Background()

	held, err := p.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan *Resource, 1)
	go func() {
		res, err := p.Acquire(ctx)
		if err == nil {
			got <- res
		}
		close(got)
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, p.Release(held, nil))

	select {
	case res, ok := <-got:
		require.True(t, ok, "waiter failed to acquire")
		assert.Same(t, held, res)
		require.NoError(t, p.Release(res, nil))
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestPool_WaitPolicyUsesCallerDeadline(t *testing.T) {
	factory := &mockFactory{}
	p := newTestPool(t, factory,
		WithMaxSize(1),
		WithExhaustionPolicy(PolicyWait),
		WithAcquireTimeout(20*time.Millisecond),
	)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	go func() {
		time.Sleep(80 * time.Millisecond)
		_ = p.Release(held, nil)
	}()

	// 调用方截止时间比 AcquireTimeout 长，WAIT 以调用方为准
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Release(res, nil))
}

func TestPool_CallerCancelWhileWaiting(t *testing.T) {
	factory := &mockFactory{}
	p := newTestPool(t, factory, WithMaxSize(1), WithAcquireTimeout(5*time.Second))

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, p.Release(held, nil))

	stats := p.Stats()
	assert.Equal(t, stats.PoolSize, stats.Available+stats.InUse)
	assert.Equal(t, 1, stats.Available)
}

func TestPool_ExpiredResourceNotReturned(t *testing.T) {
	factory := &mockFactory{}
	p := newTestPool(t, factory, WithMaxLifetime(20*time.Millisecond))

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, p.Release(res, nil))

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Destroyed)
	assert.Equal(t, uint64(0), stats.Released)
	assert.Equal(t, 0, stats.Available)
	assert.Equal(t, StateClosed, res.State())
	assert.True(t, factory.conn(1).closed.Load())
}

func TestPool_ValidationFailureRetries(t *testing.T) {
	factory := &mockFactory{}
	listener := &mockEventListener{}
	p := newTestPool(t, factory, WithMinSize(1), WithEventListener(listener))
	require.NoError(t, p.Start(context.Background()))

	factory.conn(1).valid.Store(false)

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Conn().(*mockConn).id)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.ValidationFailures)
	assert.Equal(t, uint64(1), stats.Destroyed)
	assert.Equal(t, 1, stats.PoolSize)
	assert.Contains(t, listener.seen(), EventValidationFailed)

	require.NoError(t, p.Release(res, nil))
}

func TestPool_NewResourcesAlwaysInvalid(t *testing.T) {
	factory := FactoryFuncs{
		CreateFunc:   func(ctx context.Context) (any, error) { return struct{}{}, nil },
		ValidateFunc: func(ctx context.Context, conn any) bool { return false },
	}
	p := newTestPool(t, factory, WithRetry(2, 0))

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrInvalidResource)
	assert.Equal(t, uint64(3), p.Stats().ValidationFailures)
	assert.Equal(t, 0, p.Stats().PoolSize)
}

func TestPool_ReleaseErrorCeiling(t *testing.T) {
	factory := &mockFactory{}
	p := newTestPool(t, factory, WithMaxSize(1))
	ctx := context.Background()
	opErr := errors.New("query failed")

	for i := 1; i <= MaxResourceErrors; i++ {
		res, err := p.Acquire(ctx)
		require.NoError(t, err)
		require.NoError(t, p.Release(res, opErr))
		assert.Equal(t, i, res.ErrorCount())
	}
	assert.Equal(t, uint64(0), p.Stats().Destroyed)

	res, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(MaxResourceErrors+1), res.UsageCount())
	require.NoError(t, p.Release(res, opErr))

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Destroyed)
	assert.Equal(t, 0, stats.PoolSize)
}

func TestPool_ReleaseUnknownResource(t *testing.T) {
	factory := &mockFactory{}
	p := newTestPool(t, factory)

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Release(res, nil))

	assert.ErrorIs(t, p.Release(res, nil), ErrUnknownResource)
	assert.ErrorIs(t, p.Release(nil, nil), ErrUnknownResource)
	assert.Equal(t, uint64(1), p.Stats().Released)
}

func TestPool_WithReleasesOnError(t *testing.T) {
	factory := &mockFactory{}
	p := newTestPool(t, factory)
	opErr := errors.New("boom")

	err := p.With(context.Background(), func(res *Resource) error {
		assert.Equal(t, StateInUse, res.State())
		return opErr
	})
	assert.Same(t, opErr, err)

	stats := p.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 1, stats.Available)
}

func TestPool_WithReleasesOnPanic(t *testing.T) {
	factory := &mockFactory{}
	p := newTestPool(t, factory)

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = p.With(context.Background(), func(res *Resource) error {
			panic("kaboom")
		})
	})

	stats := p.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 1, stats.Available)
}

func TestPool_WithConn(t *testing.T) {
	factory := &mockFactory{}
	p := newTestPool(t, factory)

	err := WithConn(context.Background(), p, func(conn *mockConn) error {
		assert.Equal(t, 1, conn.id)
		return nil
	})
	require.NoError(t, err)

	err = WithConn(context.Background(), p, func(conn string) error { return nil })
	assert.ErrorIs(t, err, ErrConnType)
}

func TestPool_StopClosesResourcesAndWakesWaiters(t *testing.T) {
	defer leaktest.Check(t)()

	factory := &mockFactory{}
	p, err := New(factory, testConfig(t, WithMinSize(1), WithMaxSize(1), WithAcquireTimeout(5*time.Second)))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	waitErr := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		waitErr <- err
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, p.Stop())

	select {
	case err := <-waitErr:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by stop")
	}

	assert.Equal(t, int32(1), factory.closeCount.Load())
	assert.NoError(t, p.Release(held, nil))
	assert.NoError(t, p.Stop())

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.ErrorIs(t, p.Start(context.Background()), ErrPoolClosed)

	stats := p.Stats()
	assert.True(t, stats.Closed)
	assert.Equal(t, 0, stats.PoolSize)
}

func TestPool_HealthLoopEvictsInvalidResources(t *testing.T) {
	defer leaktest.Check(t)()

	factory := &mockFactory{}
	p, err := New(factory, testConfig(t, WithMinSize(2), WithHealthCheckInterval(20*time.Millisecond)))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	factory.conn(1).valid.Store(false)

	assert.Eventually(t, func() bool {
		s := p.Stats()
		return s.ValidationFailures >= 1 && s.PoolSize == 2 && s.Available == 2
	}, time.Second, 10*time.Millisecond)
	assert.True(t, factory.conn(1).closed.Load())

	require.NoError(t, p.Stop())
}

func TestPool_HealthCheck(t *testing.T) {
	factory := &mockFactory{}
	p := newTestPool(t, factory)

	report := p.HealthCheck(context.Background())
	assert.True(t, report.Healthy)
	assert.True(t, report.Validated)
	assert.NoError(t, report.Err)
	// 探测连接不计入池
	assert.Equal(t, 0, report.Stats.PoolSize)
	assert.Equal(t, int32(1), factory.closeCount.Load())

	require.NoError(t, p.Stop())
	report = p.HealthCheck(context.Background())
	assert.False(t, report.Healthy)
	assert.ErrorIs(t, report.Err, ErrPoolClosed)
}

func TestPool_HealthCheckCreateFailure(t *testing.T) {
	createErr := errors.New("refused")
	p := newTestPool(t, &mockFactory{createErr: createErr})

	report := p.HealthCheck(context.Background())
	assert.False(t, report.Healthy)
	assert.ErrorIs(t, report.Err, createErr)
}

func TestPool_ConcurrentNeverExceedsMax(t *testing.T) {
	factory := &mockFactory{}
	p := newTestPool(t, factory, WithMaxSize(3), WithAcquireTimeout(5*time.Second))

	var current, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				err := p.With(context.Background(), func(res *Resource) error {
					n := atomic.AddInt32(&current, 1)
					for {
						old := atomic.LoadInt32(&peak)
						if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&current, -1)
					return nil
				})
				if err != nil {
					t.Errorf("With failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	stats := p.Stats()
	assert.LessOrEqual(t, peak, int32(3))
	assert.LessOrEqual(t, stats.PoolSize, 3)
	assert.Equal(t, uint64(200), stats.Acquired)
	assert.Equal(t, uint64(200), stats.Released)
	assert.Equal(t, stats.PoolSize, stats.Available)
	assert.Greater(t, stats.AcquireTimeP95, time.Duration(0))
}

func TestPool_Events(t *testing.T) {
	listener := &mockEventListener{}
	p := newTestPool(t, &mockFactory{}, WithEventListener(listener))

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Release(res, nil))
	require.NoError(t, p.Stop())

	assert.Equal(t, []Event{EventCreate, EventAcquire, EventRelease, EventDestroy}, listener.seen())
}

func TestPool_CreateRateLimit(t *testing.T) {
	p := newTestPool(t, &mockFactory{}, WithMinSize(3), WithCreateRate(20, 1))

	start := time.Now()
	require.NoError(t, p.Start(context.Background()))
	// 突发容量为 1，后两个资源各需等待约 50ms
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 3, p.Stats().PoolSize)
}

func TestLatencyWindow_Summary(t *testing.T) {
	w := newLatencyWindow()
	for i := 1; i <= 100; i++ {
		w.record(time.Duration(i) * time.Millisecond)
	}
	p95, avg := w.summary()
	assert.Equal(t, 95*time.Millisecond, p95)
	assert.Equal(t, 50500*time.Microsecond, avg)

	empty := newLatencyWindow()
	p95, avg = empty.summary()
	assert.Zero(t, p95)
	assert.Zero(t, avg)
}
