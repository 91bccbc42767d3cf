package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BlockingQueue 是Queue接口的具体实现
// 等待者通过一个在状态变化时关闭并重建的通道被唤醒，不需要轮询
type BlockingQueue[T any] struct {
	// 队列选项
	opts *Options

	// 内部数据存储，items[0] 为队头
	items []T

	// 队列是否已关闭
	closed bool

	// 保护队列操作的互斥锁
	mu sync.Mutex

	// 元素到达或队列关闭时关闭
	notEmpty chan struct{}

	// 元素离开或队列关闭时关闭
	notFull chan struct{}

	// 统计信息
	stats Stats
}

// NewBlockingQueue 创建一个新的阻塞队列实例
func NewBlockingQueue[T any](options ...Option) *BlockingQueue[T] {
	opts := DefaultOptions()
	for _, opt := range options {
		opt(opts)
	}

	return &BlockingQueue[T]{
		opts:     opts,
		items:    make([]T, 0, max(opts.Capacity, 16)),
		notEmpty: make(chan struct{}),
		notFull:  make(chan struct{}),
		stats:    Stats{CreatedAt: time.Now(), Capacity: opts.Capacity},
	}
}

// Enqueue 将元素添加到队列尾部，如果队列已满则阻塞等待
func (q *BlockingQueue[T]) Enqueue(ctx context.Context, item T) error {
	ctx, cancel := withDefaultTimeout(ctx, q.opts.EnqueueTimeout)
	defer cancel()

	for {
		q.mu.Lock()
		if q.closed {
			q.stats.Rejected++
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if !q.isFull() {
			q.push(item)
			q.mu.Unlock()
			return nil
		}
		wait := q.notFull
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			q.mu.Lock()
			q.stats.Rejected++
			q.mu.Unlock()
			return ctxError(ctx)
		}
	}
}

// Dequeue 从队列头部获取元素，如果队列为空则阻塞等待
func (q *BlockingQueue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T

	ctx, cancel := withDefaultTimeout(ctx, q.opts.DequeueTimeout)
	defer cancel()

	blocked := false
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.pop()
			if blocked {
				q.stats.Waiters--
			}
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			if blocked {
				q.stats.Waiters--
			}
			q.mu.Unlock()
			return zero, ErrQueueClosed
		}
		if !blocked {
			blocked = true
			q.stats.DequeueBlocks++
			q.stats.Waiters++
		}
		wait := q.notEmpty
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			q.mu.Lock()
			q.stats.Waiters--
			err := ctxError(ctx)
			if errors.Is(err, ErrOperationTimeout) {
				q.stats.DequeueTimeouts++
			}
			q.mu.Unlock()
			return zero, err
		}
	}
}

// TryEnqueue 尝试将元素添加到队列，但不阻塞等待
func (q *BlockingQueue[T]) TryEnqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.stats.Rejected++
		return ErrQueueClosed
	}
	if q.isFull() {
		q.stats.Rejected++
		return ErrQueueFull
	}

	q.push(item)
	return nil
}

// TryDequeue 尝试从队列获取元素，但不阻塞等待
func (q *BlockingQueue[T]) TryDequeue() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		if q.closed {
			return zero, ErrQueueClosed
		}
		return zero, ErrQueueEmpty
	}
	return q.pop(), nil
}

// RemoveIf 移除所有满足条件的元素，保持剩余元素的相对顺序
func (q *BlockingQueue[T]) RemoveIf(pred func(T) bool) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []T
	kept := q.items[:0]
	for _, item := range q.items {
		if pred(item) {
			removed = append(removed, item)
			continue
		}
		kept = append(kept, item)
	}

	// 清空尾部引用，帮助GC
	var zero T
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = zero
	}
	q.items = kept

	if len(removed) > 0 {
		q.stats.Removed += uint64(len(removed))
		q.stats.Size = len(q.items)
		q.broadcastNotFull()
	}
	return removed
}

// Snapshot 返回当前元素的副本
func (q *BlockingQueue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// Size 返回队列当前元素数量
func (q *BlockingQueue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity 返回队列容量
func (q *BlockingQueue[T]) Capacity() int {
	return q.opts.Capacity
}

// Close 关闭队列
func (q *BlockingQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	// 唤醒所有等待者
	close(q.notEmpty)
	close(q.notFull)
	return nil
}

// IsClosed 检查队列是否已关闭
func (q *BlockingQueue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Clear 清空队列中的所有元素
func (q *BlockingQueue[T]) Clear() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = make([]T, 0, max(q.opts.Capacity, 16))
	q.stats.Size = 0
	if len(out) > 0 {
		q.broadcastNotFull()
	}
	return out
}

// Stats 返回队列的统计信息
func (q *BlockingQueue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// push 追加元素并唤醒出队等待者，调用方必须持有锁
func (q *BlockingQueue[T]) push(item T) {
	q.items = append(q.items, item)
	q.stats.Enqueued++
	q.stats.Size = len(q.items)

	close(q.notEmpty)
	q.notEmpty = make(chan struct{})
}

// pop 移除队头元素，调用方必须持有锁且队列非空
func (q *BlockingQueue[T]) pop() T {
	var zero T
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.stats.Dequeued++
	q.stats.Size = len(q.items)

	q.broadcastNotFull()
	return item
}

// broadcastNotFull 唤醒入队等待者，调用方必须持有锁
func (q *BlockingQueue[T]) broadcastNotFull() {
	if q.closed || q.opts.Capacity <= 0 {
		return
	}
	close(q.notFull)
	q.notFull = make(chan struct{})
}

func (q *BlockingQueue[T]) isFull() bool {
	return q.opts.Capacity > 0 && len(q.items) >= q.opts.Capacity
}

// withDefaultTimeout 在上下文没有截止时间时应用默认超时
func withDefaultTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return ctx, func() {}
}

// ctxError 把上下文错误转换为队列错误
func ctxError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrOperationTimeout
	}
	return ErrOperationCancelled
}
