package breaker

import (
	"fmt"
	"sort"

	cmap "github.com/orcaman/concurrent-map"
)

// Registry 按名称共享熔断器，不相关的调用方对同一个下游使用同一个实例
type Registry struct {
	breakers cmap.ConcurrentMap
	defaults Config
	onChange []StateChangeFunc
}

// RegistryOption 是注册表的配置选项
type RegistryOption func(*Registry)

// WithDefaults 设置 GetOrCreate 懒创建时使用的配置模板
func WithDefaults(cfg Config) RegistryOption {
	return func(r *Registry) {
		r.defaults = cfg
	}
}

// WithStateChange 给注册表中的每个熔断器挂上状态变化回调
func WithStateChange(fn StateChangeFunc) RegistryOption {
	return func(r *Registry) {
		r.onChange = append(r.onChange, fn)
	}
}

// NewRegistry 创建一个空的注册表
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		breakers: cmap.New(),
		defaults: DefaultConfig(""),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register 注册熔断器，同名已存在时返回 ErrBreakerExists
func (r *Registry) Register(cb *CircuitBreaker) error {
	if cb == nil {
		return fmt.Errorf("%w: nil breaker", ErrInvalidConfig)
	}
	if !r.breakers.SetIfAbsent(cb.Name(), cb) {
		return fmt.Errorf("%w: %q", ErrBreakerExists, cb.Name())
	}
	r.attach(cb)
	return nil
}

// Get 按名称查找熔断器
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	v, ok := r.breakers.Get(name)
	if !ok {
		return nil, false
	}
	return v.(*CircuitBreaker), true
}

// GetOrCreate 返回已有的熔断器，不存在时用 cfg 创建
// cfg 为 nil 时使用注册表的默认配置；并发调用总是得到同一个实例
func (r *Registry) GetOrCreate(name string, cfg *Config) (*CircuitBreaker, error) {
	if cb, ok := r.Get(name); ok {
		return cb, nil
	}

	c := r.defaults
	if cfg != nil {
		c = *cfg
	}
	c.Name = name

	cb, err := New(c)
	if err != nil {
		return nil, err
	}
	if r.breakers.SetIfAbsent(name, cb) {
		r.attach(cb)
		return cb, nil
	}

	existing, _ := r.Get(name)
	return existing, nil
}

// Remove 删除熔断器，返回是否存在
func (r *Registry) Remove(name string) bool {
	_, ok := r.breakers.Pop(name)
	return ok
}

// Names 返回按字母排序的熔断器名称
func (r *Registry) Names() []string {
	names := r.breakers.Keys()
	sort.Strings(names)
	return names
}

// Len 返回熔断器数量
func (r *Registry) Len() int {
	return r.breakers.Count()
}

// ResetAll 重置所有熔断器
func (r *Registry) ResetAll() {
	for item := range r.breakers.IterBuffered() {
		item.Val.(*CircuitBreaker).Reset()
	}
}

// States 返回每个熔断器的当前状态
func (r *Registry) States() map[string]State {
	out := make(map[string]State, r.breakers.Count())
	for item := range r.breakers.IterBuffered() {
		out[item.Key] = item.Val.(*CircuitBreaker).State()
	}
	return out
}

// AllStats 返回每个熔断器的统计快照
func (r *Registry) AllStats() map[string]Stats {
	out := make(map[string]Stats, r.breakers.Count())
	for item := range r.breakers.IterBuffered() {
		out[item.Key] = item.Val.(*CircuitBreaker).Stats()
	}
	return out
}

func (r *Registry) attach(cb *CircuitBreaker) {
	for _, fn := range r.onChange {
		cb.OnStateChange(fn)
	}
}
