package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fyerfyer/poolguard/internal/config"
	"github.com/fyerfyer/poolguard/internal/poolservice"
)

var (
	// 池服务实例，所有命令共享
	poolSvc *poolservice.InMemoryService

	// 加载后的配置，没有 --config 时为默认配置
	appConfig = config.Default()

	cfgFile    string
	logLevel   string
	jsonOutput bool
)

// rootCmd 表示CLI工具的根命令
var rootCmd = &cobra.Command{
	Use:   "poolctl",
	Short: "A CLI tool for managing connection pools",
	Long: `Pool CLI (poolctl) manages connection pools guarded by circuit breakers.
Pools are created from backend URLs (postgres, mysql, sqlite, http, redis, grpc, amqp)
either on the command line or from a TOML/YAML config file. Without a subcommand
poolctl starts an interactive session.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initService()
	},
	Run: func(cmd *cobra.Command, args []string) {
		// 如果没有子命令被调用，显示帮助信息
		_ = cmd.Help()
	},
}

// Execute 运行根命令并返回进程退出码
func Execute() int {
	defer closeService()

	// 没有参数时直接进入交互模式
	if len(os.Args) == 1 {
		if err := initService(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		runInteractiveMode()
		return 0
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (.toml, .yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

// initService 读取配置并启动池服务，重复调用时什么也不做
func initService() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	if poolSvc != nil {
		return nil
	}

	if cfgFile != "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		appConfig = *cfg
	}

	svc := poolservice.NewInMemoryService(appConfig)
	ctx := context.Background()
	// 单个池失败不影响其他池
	if err := svc.LoadConfig(ctx, &appConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if err := svc.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	poolSvc = svc
	return nil
}

func closeService() {
	if poolSvc == nil {
		return
	}
	if err := poolSvc.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing pools: %v\n", err)
	}
}

// GetPoolService 返回池服务实例，供子命令使用
func GetPoolService() *poolservice.InMemoryService {
	return poolSvc
}

// printJSON 以 JSON 输出 v
func printJSON(v interface{}) error {
	data, err := poolservice.ToJSON(v)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
