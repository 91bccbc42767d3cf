package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyerfyer/poolguard/internal/config"
)

// addCmd 表示add命令，用于从后端URL创建新池
var addCmd = &cobra.Command{
	Use:   "add [name] [backend-url]",
	Short: "Create a new pool",
	Long: `Create, register and start a pool for the given backend URL.
Backend options go in the URL query, for example:

  add api "http://localhost:8000?health_path=/healthz"
  add cache "redis://localhost:6379/0?dial_timeout=2s"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := config.DefaultPoolSpec()
		spec.Name = args[0]
		spec.URL = args[1]

		flags := cmd.Flags()
		spec.Pool.MinSize, _ = flags.GetInt("min")
		spec.Pool.MaxSize, _ = flags.GetInt("max")
		spec.Pool.ExhaustionPolicy, _ = flags.GetString("policy")
		spec.Pool.AcquireTimeout, _ = flags.GetDuration("acquire-timeout")
		spec.Pool.CreateRate, _ = flags.GetFloat64("create-rate")
		noHealth, _ := flags.GetBool("no-health-checks")
		spec.Pool.EnableHealthChecks = !noHealth
		spec.Breaker.FailureThreshold, _ = flags.GetInt("breaker-threshold")
		spec.Breaker.RecoveryTimeout, _ = flags.GetDuration("breaker-recovery")
		spec.Breaker.Adaptive, _ = flags.GetBool("adaptive")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		service := GetPoolService()
		if err := service.AddPool(ctx, spec); err != nil {
			return fmt.Errorf("failed to add pool: %w", err)
		}

		info, err := service.PoolInfo(spec.Name)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(info)
		}
		fmt.Printf("Pool '%s' created successfully.\n", spec.Name)
		fmt.Printf("Backend: %s (%s)\n", info.Backend, info.Kind)
		fmt.Printf("Size: %d (min %d, max %d)\n", info.Stats.PoolSize, spec.Pool.MinSize, spec.Pool.MaxSize)
		return nil
	},
}

// removeCmd 表示remove命令，用于停止并删除池
var removeCmd = &cobra.Command{
	Use:     "remove [name]",
	Short:   "Stop and remove a pool",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := GetPoolService().RemovePool(args[0]); err != nil {
			return fmt.Errorf("failed to remove pool: %w", err)
		}
		fmt.Printf("Pool '%s' removed.\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)

	defaults := config.DefaultPoolSpec()
	addCmd.Flags().Int("min", defaults.Pool.MinSize, "Minimum number of connections")
	addCmd.Flags().Int("max", defaults.Pool.MaxSize, "Maximum number of connections")
	addCmd.Flags().String("policy", "block", "Exhaustion policy: block, grow, fail, wait")
	addCmd.Flags().Duration("acquire-timeout", defaults.Pool.AcquireTimeout, "Default wait for a connection")
	addCmd.Flags().Float64("create-rate", 0, "Connection creations per second (0 for unlimited)")
	addCmd.Flags().Bool("no-health-checks", false, "Disable background health checks")
	addCmd.Flags().Int("breaker-threshold", defaults.Breaker.FailureThreshold, "Consecutive failures that open the breaker")
	addCmd.Flags().Duration("breaker-recovery", defaults.Breaker.RecoveryTimeout, "How long the breaker stays open")
	addCmd.Flags().Bool("adaptive", false, "Adapt the breaker threshold to the observed failure rate")
}
