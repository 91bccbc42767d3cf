package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyerfyer/poolguard/internal/httpapi"
	"github.com/fyerfyer/poolguard/internal/poolservice"
)

// monitorCmd 表示monitor命令，用于实时监控所有池
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor pool activity in real-time",
	Long: `Watch pool statistics, health levels and alerts update in real-time.
Press Ctrl+C to stop monitoring.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			return fmt.Errorf("interval must be positive")
		}

		service := GetPoolService()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Monitoring %d pool(s) (refresh: %v, press Ctrl+C to stop)...\n\n",
			len(service.ListPools()), interval)

		// 记录上一次的计数，用于计算速率
		prevAcquired := make(map[string]uint64)
		prevTime := time.Now()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nMonitoring stopped.")
				return nil
			case <-ticker.C:
			}

			service.CheckNow(ctx)
			now := time.Now()
			elapsed := now.Sub(prevTime).Seconds()
			prevTime = now

			// 清屏，移动光标到左上角
			fmt.Print("\033[H\033[2J")
			fmt.Printf("Time: %s\n\n", now.Format("15:04:05"))
			fmt.Print(poolservice.FormatGlobalMetrics(service.GlobalMetrics()))
			fmt.Println()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATUS\tIN USE\tIDLE\tWAITERS\tACQ/S\tP95\tBREAKER")
			for _, info := range service.ListPools() {
				var rate float64
				// 池被删除后重建时计数会变小
				if prev := prevAcquired[info.Name]; info.Stats.Acquired >= prev {
					rate = float64(info.Stats.Acquired-prev) / elapsed
				}
				prevAcquired[info.Name] = info.Stats.Acquired

				breakerState := "-"
				if info.Breaker != nil {
					breakerState = info.Breaker.State.String()
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.2f\t%s\t%s\n",
					info.Name, info.Status, info.Stats.InUse, info.Stats.Available,
					info.Stats.Waiters, rate, info.Stats.AcquireTimeP95, breakerState)
			}
			_ = w.Flush()

			if alerts := service.Alerts(5); len(alerts) > 0 {
				fmt.Println("\nRecent alerts:")
				for _, a := range alerts {
					fmt.Println("  " + poolservice.FormatAlert(a))
				}
			}
		}
	},
}

// serveCmd 表示serve命令，运行HTTP API直到收到信号
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve pool stats, health, breakers and alerts over HTTP until interrupted.
The listen address defaults to http.listen from the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("listen")
		if addr == "" {
			addr = appConfig.HTTP.Listen
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Serving HTTP API on %s (press Ctrl+C to stop)...\n", addr)
		return httpapi.Serve(ctx, addr, GetPoolService())
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(serveCmd)

	monitorCmd.Flags().DurationP("interval", "i", time.Second, "Refresh interval")
	serveCmd.Flags().StringP("listen", "l", "", "Listen address (overrides the config file)")
}
