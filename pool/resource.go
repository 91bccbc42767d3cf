package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxResourceErrors 是资源在被销毁前允许累计的操作错误次数
const MaxResourceErrors = 3

// Resource 封装池中的一个后端连接
// 状态只由池修改，调用方通过 Conn 读取底层连接
type Resource struct {
	id   string
	conn any

	mu         sync.Mutex
	state      State
	createdAt  time.Time
	lastUsedAt time.Time
	usageCount uint64
	errorCount int
}

func newResource(conn any) *Resource {
	now := time.Now()
	return &Resource{
		id:         uuid.NewString(),
		conn:       conn,
		state:      StateAvailable,
		createdAt:  now,
		lastUsedAt: now,
	}
}

// ID 返回资源唯一标识
func (r *Resource) ID() string { return r.id }

// Conn 返回底层连接
func (r *Resource) Conn() any { return r.conn }

// State 返回资源当前状态
func (r *Resource) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// CreatedAt 返回创建时间
func (r *Resource) CreatedAt() time.Time { return r.createdAt }

// LastUsedAt 返回最近一次被获取或归还的时间
func (r *Resource) LastUsedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUsedAt
}

// UsageCount 返回资源被获取的次数
func (r *Resource) UsageCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usageCount
}

// ErrorCount 返回资源累计的操作错误次数
func (r *Resource) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errorCount
}

// Age 返回资源存活时长
func (r *Resource) Age(now time.Time) time.Duration {
	return now.Sub(r.createdAt)
}

// IdleTime 返回资源自上次使用以来的时长
func (r *Resource) IdleTime(now time.Time) time.Duration {
	return now.Sub(r.LastUsedAt())
}

// IsExpired 检查资源是否超过最大生命周期，maxLifetime 为 0 时永不过期
func (r *Resource) IsExpired(now time.Time, maxLifetime time.Duration) bool {
	return maxLifetime > 0 && r.Age(now) > maxLifetime
}

// IsIdleExpired 检查资源是否空闲过久，maxIdle 为 0 时永不过期
func (r *Resource) IsIdleExpired(now time.Time, maxIdle time.Duration) bool {
	return maxIdle > 0 && r.IdleTime(now) > maxIdle
}

func (r *Resource) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// markInUse 标记资源被获取
func (r *Resource) markInUse(now time.Time) {
	r.mu.Lock()
	r.state = StateInUse
	r.usageCount++
	r.lastUsedAt = now
	r.mu.Unlock()
}

// recordRelease 记录一次归还，返回累计错误次数
func (r *Resource) recordRelease(opErr error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if opErr != nil {
		r.errorCount++
	}
	return r.errorCount
}

// markAvailable 标记资源回到可用队列
func (r *Resource) markAvailable(now time.Time) {
	r.mu.Lock()
	r.state = StateAvailable
	r.lastUsedAt = now
	r.mu.Unlock()
}
