package breaker

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreateConcurrent(t *testing.T) {
	reg := NewRegistry(WithDefaults(testConfig("")))

	const workers = 50
	got := make([]*CircuitBreaker, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cb, err := reg.GetOrCreate("orders", nil)
			assert.NoError(t, err)
			got[i] = cb
		}(i)
	}
	wg.Wait()

	for _, cb := range got {
		assert.Same(t, got[0], cb)
	}
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, "orders", got[0].Name())
	assert.Equal(t, 3, got[0].Config().FailureThreshold)
}

func TestRegistry_GetOrCreateWithConfig(t *testing.T) {
	reg := NewRegistry()

	cfg := testConfig("ignored")
	cfg.FailureThreshold = 7
	cb, err := reg.GetOrCreate("payments", &cfg)
	require.NoError(t, err)
	assert.Equal(t, "payments", cb.Name())
	assert.Equal(t, 7, cb.Config().FailureThreshold)

	bad := testConfig("bad")
	bad.SuccessThreshold = 0
	_, err = reg.GetOrCreate("bad", &bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, ok := reg.Get("bad")
	assert.False(t, ok)
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewRegistry()

	cb, err := New(testConfig("db"))
	require.NoError(t, err)
	require.NoError(t, reg.Register(cb))

	other, err := New(testConfig("db"))
	require.NoError(t, err)
	assert.ErrorIs(t, reg.Register(other), ErrBreakerExists)

	got, ok := reg.Get("db")
	require.True(t, ok)
	assert.Same(t, cb, got)
}

func TestRegistry_RemoveAndNames(t *testing.T) {
	reg := NewRegistry(WithDefaults(testConfig("")))
	for _, name := range []string{"c", "a", "b"} {
		_, err := reg.GetOrCreate(name, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, reg.Names())

	assert.True(t, reg.Remove("b"))
	assert.False(t, reg.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, reg.Names())
}

func TestRegistry_StatesAndResetAll(t *testing.T) {
	var mu sync.Mutex
	var changes []string
	reg := NewRegistry(
		WithDefaults(testConfig("")),
		WithStateChange(func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			changes = append(changes, name+":"+to.String())
		}),
	)

	a, err := reg.GetOrCreate("a", nil)
	require.NoError(t, err)
	_, err = reg.GetOrCreate("b", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_ = a.Call(context.Background(), fail)
	}

	states := reg.States()
	assert.Equal(t, StateOpen, states["a"])
	assert.Equal(t, StateClosed, states["b"])

	stats := reg.AllStats()
	assert.Equal(t, uint64(3), stats["a"].TotalFailures)

	reg.ResetAll()
	assert.Equal(t, StateClosed, reg.States()["a"])

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a:open", "a:closed"}, changes)
}
