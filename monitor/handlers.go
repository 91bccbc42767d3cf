package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/poolguard/breaker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LogHandler 把告警写入日志，级别由严重程度决定
type LogHandler struct {
	Logger *logrus.Entry
}

// Handle 实现 Handler 接口
func (h LogHandler) Handle(ctx context.Context, alert Alert) error {
	entry := h.Logger
	if entry == nil {
		entry = log
	}
	entry = entry.WithFields(logrus.Fields{
		"alert":    alert.ID,
		"type":     string(alert.Type),
		"pool":     alert.PoolName,
		"severity": string(alert.Severity),
	})

	switch alert.Severity {
	case SeverityCritical:
		entry.Error(alert.Message)
	case SeverityWarning:
		entry.Warn(alert.Message)
	default:
		entry.Info(alert.Message)
	}
	return nil
}

// WebhookHandler 以 JSON 形式 POST 告警
type WebhookHandler struct {
	URL    string
	Client *http.Client
	Header http.Header
}

// NewWebhookHandler 创建带超时的 webhook 处理器
func NewWebhookHandler(url string, timeout time.Duration) *WebhookHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookHandler{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Handle 实现 Handler 接口，非 2xx 响应返回错误
func (h *WebhookHandler) Handle(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("webhook: encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	for k, vs := range h.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// BreakerAlerts 返回把熔断器状态变化转为告警的回调
// 打开为 critical，半开为 warning，关闭为 info
func BreakerAlerts(am *AlertManager) breaker.StateChangeFunc {
	return func(name string, from, to breaker.State) {
		severity := SeverityInfo
		switch to {
		case breaker.StateOpen:
			severity = SeverityCritical
		case breaker.StateHalfOpen:
			severity = SeverityWarning
		}
		alert := NewAlert(AlertCircuitStateChange, severity, name,
			fmt.Sprintf("circuit breaker %q changed from %s to %s", name, from, to))
		am.Dispatch(context.Background(), alert)
	}
}
