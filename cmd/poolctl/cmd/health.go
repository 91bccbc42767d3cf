package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyerfyer/poolguard/internal/poolservice"
	"github.com/fyerfyer/poolguard/manager"
)

// healthCmd 表示health命令，检查每个池的后端并打印结果
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the backend of every pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printHealth(runHealthCheck(cmd))
	},
}

// checkCmd 与 health 相同，但整体状态不是 healthy 时以非零码退出
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check all pools and fail unless every pool is healthy",
	Long: `Run a health check of every pool and exit with a non-zero status
unless all pools are healthy. Intended for scripts and container probes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		summary := runHealthCheck(cmd)
		if err := printHealth(summary); err != nil {
			return err
		}
		if summary.Overall != manager.OverallHealthy {
			return fmt.Errorf("overall status is %s", summary.Overall)
		}
		return nil
	},
}

func runHealthCheck(cmd *cobra.Command) manager.HealthSummary {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return GetPoolService().HealthCheckAll(ctx)
}

func printHealth(summary manager.HealthSummary) error {
	if jsonOutput {
		// error 无法直接序列化，先转换为字符串
		type report struct {
			Healthy  bool   `json:"healthy"`
			Closed   bool   `json:"closed"`
			Duration string `json:"duration"`
			Error    string `json:"error,omitempty"`
		}
		pools := make(map[string]report, len(summary.Pools))
		for name, r := range summary.Pools {
			rep := report{Healthy: r.Healthy, Closed: r.Closed, Duration: r.Duration.String()}
			if r.Err != nil {
				rep.Error = r.Err.Error()
			}
			pools[name] = rep
		}
		return printJSON(map[string]interface{}{
			"overall":    summary.Overall,
			"healthy":    summary.Healthy,
			"unhealthy":  summary.Unhealthy,
			"pools":      pools,
			"checked_at": summary.CheckedAt,
		})
	}

	fmt.Printf("Overall: %s (%d healthy, %d unhealthy)\n\n", summary.Overall, summary.Healthy, summary.Unhealthy)
	if len(summary.Pools) == 0 {
		fmt.Println("No pools available.")
		return nil
	}

	names := make([]string, 0, len(summary.Pools))
	for name := range summary.Pools {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tHEALTHY\tDURATION\tERROR")
	for _, name := range names {
		r := summary.Pools[name]
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", name, r.Healthy, r.Duration.Round(time.Microsecond), errText)
	}
	return w.Flush()
}

// breakersCmd 表示breakers命令，显示或重置熔断器
var breakersCmd = &cobra.Command{
	Use:   "breakers [reset]",
	Short: "Show or reset circuit breakers",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service := GetPoolService()
		if len(args) == 1 {
			if args[0] != "reset" {
				return errors.New("unknown breakers action, expected 'reset'")
			}
			service.ResetBreakers()
			fmt.Println("All breakers reset.")
			return nil
		}

		stats := service.Breakers()
		if jsonOutput {
			return printJSON(stats)
		}
		if len(stats) == 0 {
			fmt.Println("No breakers registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATE\tFAILURES\tREQUESTS\tREJECTED")
		for _, name := range service.BreakerNames() {
			s, ok := stats[name]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%d\n",
				name, s.State, s.FailureCount, s.FailureThreshold, s.TotalRequests, s.Rejected)
		}
		return w.Flush()
	},
}

// alertsCmd 表示alerts命令，显示最近的告警
var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		alerts := GetPoolService().Alerts(limit)
		if jsonOutput {
			return printJSON(alerts)
		}
		if len(alerts) == 0 {
			fmt.Println("No alerts.")
			return nil
		}
		for _, a := range alerts {
			fmt.Println(poolservice.FormatAlert(a))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(breakersCmd)
	rootCmd.AddCommand(alertsCmd)

	healthCmd.Flags().Duration("timeout", 10*time.Second, "Timeout for the whole check")
	checkCmd.Flags().Duration("timeout", 10*time.Second, "Timeout for the whole check")
	alertsCmd.Flags().IntP("limit", "n", 20, "Number of alerts to show (0 for all)")
}
