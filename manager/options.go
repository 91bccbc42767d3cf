package manager

import (
	"time"

	"github.com/fyerfyer/poolguard/breaker"
)

// DefaultMonitorInterval 是监控循环的默认间隔
const DefaultMonitorInterval = 30 * time.Second

// Option 是管理器的配置选项
type Option func(*Manager)

// WithMonitorInterval 设置监控循环的间隔，非正值被忽略
func WithMonitorInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithBreakers 让 ExecuteWithPool 经过以池名命名的熔断器
func WithBreakers(reg *breaker.Registry) Option {
	return func(m *Manager) {
		m.breakers = reg
	}
}
