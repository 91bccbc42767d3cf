package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// AlertType 用于把告警路由到订阅者
type AlertType string

const (
	// AlertStatusChange 表示池的健康等级发生变化
	AlertStatusChange AlertType = "pool_status_change"
	// AlertCircuitStateChange 表示熔断器状态发生变化
	AlertCircuitStateChange AlertType = "circuit_state_change"
)

// Severity 是告警的严重程度
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SeverityFor 返回健康等级对应的告警严重程度
func SeverityFor(s Status) Severity {
	switch s {
	case StatusCritical:
		return SeverityCritical
	case StatusWarning, StatusUnknown:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Alert 是一条告警
type Alert struct {
	ID             string         `json:"id"`
	Type           AlertType      `json:"type"`
	Severity       Severity       `json:"severity"`
	PoolName       string         `json:"pool_name"`
	PreviousStatus Status         `json:"previous_status,omitempty"`
	CurrentStatus  Status         `json:"current_status,omitempty"`
	Metrics        *HealthMetrics `json:"metrics,omitempty"`
	Message        string         `json:"message"`
	Timestamp      time.Time      `json:"timestamp"`
}

// NewAlert 创建一条带 ID 和时间戳的告警
func NewAlert(t AlertType, severity Severity, poolName, message string) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  severity,
		PoolName:  poolName,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Handler 处理一条告警
type Handler interface {
	Handle(ctx context.Context, alert Alert) error
}

// HandlerFunc 把函数适配为 Handler
type HandlerFunc func(ctx context.Context, alert Alert) error

// Handle 实现 Handler 接口
func (f HandlerFunc) Handle(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}

// DefaultHistorySize 是告警历史的默认容量
const DefaultHistorySize = 100

// AlertManager 按类型分发告警并保留最近的告警
type AlertManager struct {
	mu       sync.RWMutex
	handlers map[AlertType][]Handler
	all      []Handler

	// history 的键是递增序号，只写入不读取，最早的告警先被淘汰
	history *lru.Cache[uint64, Alert]
	seq     uint64
}

// NewAlertManager 创建告警管理器，historySize 不大于 0 时使用默认容量
func NewAlertManager(historySize int) *AlertManager {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	cache, err := lru.New[uint64, Alert](historySize)
	if err != nil {
		// 只有容量非正时才会出错
		panic(fmt.Sprintf("monitor: alert history: %v", err))
	}
	return &AlertManager{
		handlers: make(map[AlertType][]Handler),
		history:  cache,
	}
}

// Subscribe 订阅某一类型的告警
func (am *AlertManager) Subscribe(t AlertType, h Handler) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.handlers[t] = append(am.handlers[t], h)
}

// SubscribeAll 订阅所有告警
func (am *AlertManager) SubscribeAll(h Handler) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.all = append(am.all, h)
}

// Dispatch 记录告警并依次调用订阅者
// 单个订阅者的错误或 panic 只记录日志，不影响其他订阅者
func (am *AlertManager) Dispatch(ctx context.Context, alert Alert) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	am.mu.Lock()
	am.seq++
	am.history.Add(am.seq, alert)
	handlers := make([]Handler, 0, len(am.handlers[alert.Type])+len(am.all))
	handlers = append(handlers, am.handlers[alert.Type]...)
	handlers = append(handlers, am.all...)
	am.mu.Unlock()

	for _, h := range handlers {
		am.invoke(ctx, h, alert)
	}
}

func (am *AlertManager) invoke(ctx context.Context, h Handler, alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("alert", alert.ID).
				WithField("panic", r).
				Error("alert handler panicked")
		}
	}()

	if err := h.Handle(ctx, alert); err != nil {
		log.WithField("alert", alert.ID).
			WithField("type", string(alert.Type)).
			WithError(err).
			Warn("alert handler failed")
	}
}

// History 返回最近的 limit 条告警，按时间从旧到新排列，limit 不大于 0 时返回全部
func (am *AlertManager) History(limit int) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	keys := am.history.Keys()
	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}

	out := make([]Alert, 0, len(keys))
	for _, k := range keys {
		if a, ok := am.history.Peek(k); ok {
			out = append(out, a)
		}
	}
	return out
}

// Len 返回历史中的告警数量
func (am *AlertManager) Len() int {
	return am.history.Len()
}

// Clear 清空告警历史
func (am *AlertManager) Clear() {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.history.Purge()
}
