package queue

import "time"

// Stats 表示队列的统计信息
type Stats struct {
	// 创建时间
	CreatedAt time.Time

	// 队列容量
	Capacity int

	// 当前元素数量
	Size int

	// 当前阻塞等待出队的调用者数量
	Waiters int

	// 入队操作次数
	Enqueued uint64

	// 出队操作次数
	Dequeued uint64

	// 出队阻塞计数
	DequeueBlocks uint64

	// 出队超时计数
	DequeueTimeouts uint64

	// 通过 RemoveIf 移除的元素数量
	Removed uint64

	// 拒绝的入队操作计数（队列已满或已关闭）
	Rejected uint64
}

// Utilization 返回队列利用率，范围从0到1
// 无界队列总是返回0
func (s *Stats) Utilization() float64 {
	if s.Capacity <= 0 {
		return 0
	}
	return float64(s.Size) / float64(s.Capacity)
}
