package poolservice

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/fyerfyer/poolguard/breaker"
	"github.com/fyerfyer/poolguard/manager"
	"github.com/fyerfyer/poolguard/monitor"
	"github.com/fyerfyer/poolguard/pool"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FormatPoolInfo 返回池信息的格式化字符串表示
func FormatPoolInfo(info PoolInfo) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Pool: %s\n", info.Name))
	sb.WriteString(fmt.Sprintf("Backend: %s (%s)\n", info.Backend, info.Kind))
	sb.WriteString(fmt.Sprintf("Status: %s\n", info.Status))
	sb.WriteString(FormatPoolStats(info.Stats))
	if info.Breaker != nil {
		sb.WriteString(fmt.Sprintf("Breaker: %s (%d/%d failures)\n",
			info.Breaker.State, info.Breaker.FailureCount, info.Breaker.FailureThreshold))
	}
	return sb.String()
}

// FormatPoolStats 返回池统计信息的格式化字符串表示
func FormatPoolStats(stats pool.Stats) string {
	var sb strings.Builder

	state := "running"
	switch {
	case stats.Closed:
		state = "closed"
	case !stats.Started:
		state = "not started"
	}
	sb.WriteString(fmt.Sprintf("State: %s (policy %s)\n", state, stats.Config.ExhaustionPolicy))
	sb.WriteString(fmt.Sprintf("Size: %d (min %d, max %d)\n",
		stats.PoolSize, stats.Config.MinSize, stats.Config.MaxSize))
	sb.WriteString(fmt.Sprintf("Connections: %d in use, %d available\n", stats.InUse, stats.Available))
	if stats.Waiters > 0 {
		sb.WriteString(fmt.Sprintf("Waiters: %d\n", stats.Waiters))
	}
	sb.WriteString(fmt.Sprintf("Operations: %d acquired, %d released, %d failed\n",
		stats.Acquired, stats.Released, stats.Failed))
	sb.WriteString(fmt.Sprintf("Lifecycle: %d created, %d destroyed\n", stats.Created, stats.Destroyed))

	if stats.Timeouts > 0 {
		sb.WriteString(fmt.Sprintf("Timeouts: %d\n", stats.Timeouts))
	}
	if stats.ValidationFailures > 0 || stats.CreateErrors > 0 {
		sb.WriteString(fmt.Sprintf("Errors: %d validation, %d create\n",
			stats.ValidationFailures, stats.CreateErrors))
	}
	if stats.Config.EnableMetrics && stats.Acquired > 0 {
		sb.WriteString(fmt.Sprintf("Acquire time: p95 %s, avg %s\n",
			stats.AcquireTimeP95, stats.AcquireTimeAvg))
	}
	return sb.String()
}

// FormatBreakerStats 返回熔断器统计的格式化字符串表示
func FormatBreakerStats(stats breaker.Stats) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Breaker: %s\n", stats.Name))
	sb.WriteString(fmt.Sprintf("State: %s (changed %s)\n", stats.State, formatTimeAgo(stats.LastStateChange)))
	sb.WriteString(fmt.Sprintf("Failures: %d/%d\n", stats.FailureCount, stats.FailureThreshold))
	sb.WriteString(fmt.Sprintf("Requests: %d total, %d succeeded, %d failed, %d rejected\n",
		stats.TotalRequests, stats.TotalSuccesses, stats.TotalFailures, stats.Rejected))
	if stats.Timeouts > 0 {
		sb.WriteString(fmt.Sprintf("Timeouts: %d\n", stats.Timeouts))
	}
	if stats.State == breaker.StateOpen {
		sb.WriteString(fmt.Sprintf("Next attempt: %s\n", stats.NextAttempt.Format(time.RFC3339)))
	}
	return sb.String()
}

// FormatAlert 返回告警的单行表示
func FormatAlert(alert monitor.Alert) string {
	return fmt.Sprintf("%s [%s] %s: %s",
		alert.Timestamp.Format("15:04:05"), strings.ToUpper(string(alert.Severity)), alert.PoolName, alert.Message)
}

// FormatGlobalMetrics 返回汇总统计的格式化字符串表示
func FormatGlobalMetrics(g manager.GlobalMetrics) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Pools: %d\n", g.Pools))
	sb.WriteString(fmt.Sprintf("Connections: %d active, %d idle, %d total\n",
		g.ActiveConnections, g.IdleConnections, g.TotalConnections))
	sb.WriteString(fmt.Sprintf("Utilization: %.1f%%\n", g.PoolUtilization*100))
	sb.WriteString(fmt.Sprintf("Acquire success rate: %.1f%%\n", g.AcquireSuccessRate*100))
	if !g.LastMonitor.Timestamp.IsZero() {
		sb.WriteString(fmt.Sprintf("Last monitor: %d healthy, %d unhealthy (%s)\n",
			g.LastMonitor.Healthy, g.LastMonitor.Unhealthy, formatTimeAgo(g.LastMonitor.Timestamp)))
	}
	return sb.String()
}

// ToJSON 把值序列化为缩进的 JSON
func ToJSON(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// formatTimeAgo 将时间格式化为人类可读的"多久之前"字符串
func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	duration := time.Since(t)

	seconds := int(duration.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%d seconds ago", seconds)
	}

	minutes := int(duration.Minutes())
	if minutes < 60 {
		return fmt.Sprintf("%d minutes ago", minutes)
	}

	hours := int(duration.Hours())
	if hours < 24 {
		return fmt.Sprintf("%d hours ago", hours)
	}

	days := int(duration.Hours() / 24)
	return fmt.Sprintf("%d days ago", days)
}
