package queue

import (
	"context"
)

// Queue 定义队列的基本操作接口
// 泛型参数T代表队列中存储的元素类型
type Queue[T any] interface {
	// Enqueue 将元素添加到队列尾部
	// 有界队列已满时阻塞，直到有空间、上下文结束或队列关闭
	Enqueue(ctx context.Context, item T) error

	// Dequeue 从队列头部移除并返回元素
	// 队列为空时阻塞，直到有元素、上下文结束或队列关闭
	Dequeue(ctx context.Context) (T, error)

	// TryEnqueue 尝试将元素添加到队列尾部，但不阻塞
	// 如果队列已满，将立即返回ErrQueueFull
	TryEnqueue(item T) error

	// TryDequeue 尝试从队列头部获取元素，但不阻塞
	// 如果队列为空，将立即返回ErrQueueEmpty
	TryDequeue() (T, error)

	// RemoveIf 原子地移除所有满足条件的元素并返回它们
	// 判断函数在队列锁内调用，不应阻塞
	RemoveIf(pred func(T) bool) []T

	// Snapshot 返回当前所有元素的副本，按出队顺序排列
	Snapshot() []T

	// Size 返回队列当前元素数量
	Size() int

	// Capacity 返回队列容量，0表示无界队列
	Capacity() int

	// Close 关闭队列，不再接受新元素，已有元素可继续出队
	// 所有阻塞中的调用都会被唤醒
	Close() error

	// IsClosed 检查队列是否已关闭
	IsClosed() bool

	// Clear 清空队列并返回被移除的元素
	Clear() []T

	// Stats 返回队列的统计信息
	Stats() Stats
}

// New 创建一个新的阻塞队列
func New[T any](options ...Option) Queue[T] {
	return NewBlockingQueue[T](options...)
}
