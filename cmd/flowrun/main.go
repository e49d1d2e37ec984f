// =============================================================================
// flowrun 主入口
// =============================================================================
// 工作流执行服务：从模板编译执行图，逐字符流式输出最终结果
//
// 使用方法:
//
//	flowrun serve --config config.yaml                            # 启动 HTTP 服务
//	flowrun run --workflow qa.json --input question=你好          # 本地运行一次
//	flowrun validate --workflow qa.yaml                           # 只解析与编译
//	flowrun migrate up --config config.yaml                       # 执行模板表迁移
//	flowrun health --addr http://localhost:8080                   # 健康检查
//	flowrun version                                               # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runCLI(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// runCLI 分发子命令并返回进程退出码
func runCLI(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	var err error
	switch args[0] {
	case "serve":
		err = runServe(ctx, args[1:])
	case "run":
		err = runWorkflow(ctx, args[1:], stdout, stderr)
	case "validate":
		err = runValidate(args[1:], stdout)
	case "migrate":
		err = runMigrate(ctx, args[1:], stdout)
	case "health":
		err = runHealthCheck(ctx, args[1:], stdout)
	case "version":
		printVersion(stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 2
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "flowrun %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `flowrun - workflow graph executor

Usage:
  flowrun <command> [options]

Commands:
  serve      Start the HTTP server
  run        Execute a workflow template once and stream its output
  validate   Parse and compile a workflow template
  migrate    Manage the template table schema (up, down, status, version, force)
  health     Check server health
  version    Show version information
  help       Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)
  --env <path>      Path to .env file (default .env)

Options for 'run':
  --workflow <path>      Template file (JSON or YAML)
  --input key=value      Seed input, repeatable; values are strings
  --inputs '<json>'      Seed inputs as a JSON object

Examples:
  flowrun serve --config /etc/flowrun/config.yaml
  flowrun run --workflow qa.json --input question="What is flowrun?"
  flowrun validate --workflow qa.yaml
  flowrun health --addr http://localhost:8080`)
}
