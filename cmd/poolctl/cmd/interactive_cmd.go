package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// interactiveCmd 表示交互式命令，用于启动一个REPL
var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start an interactive session",
	Long: `Start an interactive session with the pool CLI.
Pools added in the session live until it exits.
Type 'exit' or 'quit' to exit, or press Ctrl+C.`,
	Aliases: []string{"i", "shell"},
	Run: func(cmd *cobra.Command, args []string) {
		runInteractiveMode()
	},
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
}

func runInteractiveMode() {
	fmt.Println("Pool CLI Interactive Mode")
	fmt.Println("Type 'help' for available commands or 'exit' to quit")

	// 设置信号处理，捕获Ctrl+C
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	doneChan := make(chan struct{})
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		select {
		case <-sigChan:
			fmt.Println("\nReceived interrupt signal, exiting...")
			close(doneChan)
		case <-quit:
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")

		var input string
		select {
		case <-doneChan:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			input = strings.TrimSpace(line)
		}

		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Exiting...")
			return
		}

		executeCommand(input)
	}
}

func executeCommand(input string) {
	// 使用shellwords解析命令行参数，支持引号和环境变量
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing command: %v\n", err)
		return
	}
	if len(args) == 0 {
		return
	}

	rootCmd.SetArgs(args)
	rootCmd.SilenceErrors = true
	defer func() { rootCmd.SilenceErrors = false }()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	resetFlags(rootCmd)
}

// resetFlags 把子命令的标志恢复为默认值，避免上一条命令的标志泄漏到下一条
func resetFlags(c *cobra.Command) {
	for _, sub := range c.Commands() {
		sub.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				_ = f.Value.Set(f.DefValue)
				f.Changed = false
			}
		})
		resetFlags(sub)
	}
}
