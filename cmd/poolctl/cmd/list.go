package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyerfyer/poolguard/internal/poolservice"
)

// listCmd 表示list命令，用于列出所有池
var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List all pools",
	Long:    `Display a list of all pools with their size, usage and breaker state.`,
	Aliases: []string{"ls"},
	RunE: func(cmd *cobra.Command, args []string) error {
		pools := GetPoolService().ListPools()
		if jsonOutput {
			return printJSON(pools)
		}

		if len(pools) == 0 {
			fmt.Println("No pools available.")
			return nil
		}

		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			// 详细模式：显示每个池的完整信息
			fmt.Printf("Found %d pool(s):\n\n", len(pools))
			for i, info := range pools {
				if i > 0 {
					fmt.Println("---")
				}
				fmt.Print(poolservice.FormatPoolInfo(info))
			}
			return nil
		}

		// 表格模式
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tSTATUS\tSIZE\tIN USE\tBREAKER\tOPERATIONS")
		for _, info := range pools {
			breakerState := "-"
			if info.Breaker != nil {
				breakerState = info.Breaker.State.String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\t%d acq, %d failed\n",
				info.Name,
				info.Kind,
				info.Status,
				info.Stats.PoolSize,
				info.Stats.Config.MaxSize,
				info.Stats.InUse,
				breakerState,
				info.Stats.Acquired,
				info.Stats.Failed)
		}
		return w.Flush()
	},
}

// statsCmd 表示stats命令，用于显示池的统计信息
var statsCmd = &cobra.Command{
	Use:   "stats [pool-name]",
	Short: "Display pool statistics",
	Long: `Display detailed statistics for a pool.
Without a pool name the aggregated metrics of all pools are shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service := GetPoolService()

		if len(args) == 0 {
			metrics := service.GlobalMetrics()
			if jsonOutput {
				return printJSON(metrics)
			}
			fmt.Print(poolservice.FormatGlobalMetrics(metrics))
			return nil
		}

		info, err := service.PoolInfo(args[0])
		if err != nil {
			return fmt.Errorf("failed to get pool statistics: %w", err)
		}
		if jsonOutput {
			return printJSON(info)
		}
		fmt.Printf("Statistics for pool '%s':\n\n", args[0])
		fmt.Print(poolservice.FormatPoolInfo(info))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)

	listCmd.Flags().BoolP("verbose", "v", false, "Show detailed information for each pool")
}
