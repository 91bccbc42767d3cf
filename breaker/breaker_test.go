package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend failure")

func testConfig(name string) Config {
	return Config{
		Name:                name,
		FailureThreshold:    3,
		RecoveryTimeout:     50 * time.Millisecond,
		SuccessThreshold:    2,
		MaxHalfOpenRequests: 1,
	}
}

func fail(ctx context.Context) error { return errBackend }

func succeed(ctx context.Context) error { return nil }

func TestBreaker_InvalidConfig(t *testing.T) {
	cfg := testConfig("bad")
	cfg.FailureThreshold = 0
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig("bad")
	cfg.RecoveryTimeout = 0
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	cb, err := New(testConfig("db"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Call(context.Background(), fail), errBackend)
		assert.Equal(t, StateClosed, cb.State())
	}
	assert.ErrorIs(t, cb.Call(context.Background(), fail), errBackend)
	assert.Equal(t, StateOpen, cb.State())

	// 打开后调用不会执行 fn
	var called atomic.Bool
	err = cb.Call(context.Background(), func(ctx context.Context) error {
		called.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called.Load())

	stats := cb.Stats()
	assert.Equal(t, uint64(4), stats.TotalRequests)
	assert.Equal(t, uint64(3), stats.TotalFailures)
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.False(t, stats.NextAttempt.IsZero())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, err := New(testConfig("db"))
	require.NoError(t, err)

	_ = cb.Call(context.Background(), fail)
	_ = cb.Call(context.Background(), fail)
	require.NoError(t, cb.Call(context.Background(), succeed))
	assert.Equal(t, 0, cb.Stats().FailureCount)

	_ = cb.Call(context.Background(), fail)
	_ = cb.Call(context.Background(), fail)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	cb, err := New(testConfig("api"))
	require.NoError(t, err)

	var transitions []State
	cb.OnStateChange(func(name string, from, to State) {
		assert.Equal(t, "api", name)
		transitions = append(transitions, to)
	})

	for i := 0; i < 3; i++ {
		_ = cb.Call(context.Background(), fail)
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(70 * time.Millisecond)

	require.NoError(t, cb.Call(context.Background(), succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Call(context.Background(), succeed))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, err := New(testConfig("api"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_ = cb.Call(context.Background(), fail)
	}
	firstAttempt := cb.Stats().NextAttempt

	time.Sleep(70 * time.Millisecond)

	assert.ErrorIs(t, cb.Call(context.Background(), fail), errBackend)
	assert.Equal(t, StateOpen, cb.State())
	assert.True(t, cb.Stats().NextAttempt.After(firstAttempt))

	assert.ErrorIs(t, cb.Call(context.Background(), succeed), ErrCircuitOpen)
}

func TestBreaker_HalfOpenLimitsConcurrentProbes(t *testing.T) {
	cb, err := New(testConfig("api"))
	require.NoError(t, err)
	cb.ForceOpen()

	time.Sleep(70 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Call(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, cb.Call(context.Background(), succeed), ErrCircuitOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestBreaker_Timeout(t *testing.T) {
	defer leaktest.Check(t)()

	cfg := testConfig("slow")
	cfg.Timeout = 20 * time.Millisecond
	cb, err := New(cfg)
	require.NoError(t, err)

	start := time.Now()
	err = cb.Call(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	assert.ErrorIs(t, err, ErrOperationTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	stats := cb.Stats()
	assert.Equal(t, uint64(1), stats.Timeouts)
	assert.Equal(t, 1, stats.FailureCount)
}

func TestBreaker_TimeoutIgnoringContext(t *testing.T) {
	cfg := testConfig("stubborn")
	cfg.Timeout = 20 * time.Millisecond
	cb, err := New(cfg)
	require.NoError(t, err)

	finished := make(chan struct{})
	start := time.Now()
	err = cb.Call(context.Background(), func(ctx context.Context) error {
		defer close(finished)
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, ErrOperationTimeout)
	assert.Less(t, time.Since(start), 90*time.Millisecond)
	<-finished
}

func TestBreaker_UnexpectedErrorsNotCounted(t *testing.T) {
	errNotFound := errors.New("not found")

	cfg := testConfig("db")
	cfg.ExpectedErrors = []error{errBackend}
	cb, err := New(cfg)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		err := cb.Call(context.Background(), func(ctx context.Context) error { return errNotFound })
		assert.ErrorIs(t, err, errNotFound)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Stats().FailureCount)

	for i := 0; i < 3; i++ {
		_ = cb.Call(context.Background(), fail)
	}
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_IsExpected(t *testing.T) {
	cfg := testConfig("db")
	cfg.IsExpected = func(err error) bool { return errors.Is(err, errBackend) }
	cb, err := New(cfg)
	require.NoError(t, err)

	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("other") })
	assert.Equal(t, 0, cb.Stats().FailureCount)
	_ = cb.Call(context.Background(), fail)
	assert.Equal(t, 1, cb.Stats().FailureCount)
}

func TestBreaker_PanicCountsAsFailure(t *testing.T) {
	cb, err := New(testConfig("panicky"))
	require.NoError(t, err)

	assert.PanicsWithValue(t, "boom", func() {
		_ = cb.Call(context.Background(), func(ctx context.Context) error {
			panic("boom")
		})
	})
	assert.Equal(t, 1, cb.Stats().FailureCount)
}

func TestBreaker_Execute(t *testing.T) {
	cb, err := New(testConfig("typed"))
	require.NoError(t, err)

	v, err := Execute(context.Background(), cb, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	cb.ForceOpen()
	v, err = Execute(context.Background(), cb, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, v)
}

func TestBreaker_ResetAndForce(t *testing.T) {
	cb, err := New(testConfig("ctl"))
	require.NoError(t, err)

	cb.ForceOpen()
	assert.Equal(t, StateOpen, cb.State())
	cb.ForceClose()
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		_ = cb.Call(context.Background(), fail)
	}
	cb.Reset()

	stats := cb.Stats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Zero(t, stats.FailureCount)
	assert.Zero(t, stats.TotalRequests)
	assert.Zero(t, stats.TotalFailures)
	assert.True(t, stats.NextAttempt.IsZero())
}

func TestBreaker_ConcurrentCalls(t *testing.T) {
	cfg := testConfig("busy")
	cfg.FailureThreshold = 1000
	cb, err := New(cfg)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = cb.Call(context.Background(), succeed)
			} else {
				_ = cb.Call(context.Background(), fail)
			}
		}(i)
	}
	wg.Wait()

	stats := cb.Stats()
	assert.Equal(t, uint64(50), stats.TotalRequests)
	assert.Equal(t, uint64(25), stats.TotalSuccesses)
	assert.Equal(t, uint64(25), stats.TotalFailures)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())

	b, err := StateHalfOpen.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "half_open", string(b))
}

func TestStats_JSONRoundTrip(t *testing.T) {
	json := jsoniter.ConfigCompatibleWithStandardLibrary

	for _, state := range []State{StateClosed, StateOpen, StateHalfOpen} {
		data, err := json.Marshal(Stats{Name: "api", State: state, FailureThreshold: 3})
		require.NoError(t, err)
		assert.Contains(t, string(data), `"state":"`+state.String()+`"`)

		var got Stats
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, state, got.State)
		assert.Equal(t, "api", got.Name)
		assert.Equal(t, 3, got.FailureThreshold)
	}

	var s State
	assert.Error(t, s.UnmarshalText([]byte("sideways")))
}
