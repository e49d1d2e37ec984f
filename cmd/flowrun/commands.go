package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowrun/config"
	"github.com/BaSui01/flowrun/internal/database"
	"github.com/BaSui01/flowrun/internal/migration"
	"github.com/BaSui01/flowrun/workflow/dsl"
)

// =============================================================================
// 🔧 公共参数
// =============================================================================

type configFlags struct {
	path   string
	dotEnv string
}

func (c *configFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.path, "config", "", "Path to config file")
	fs.StringVar(&c.dotEnv, "env", ".env", "Path to .env file")
}

func (c *configFlags) load() (*config.Config, error) {
	loader := config.NewLoader().
		WithDotEnv(c.dotEnv).
		WithValidator((*config.Config).Validate)
	if c.path != "" {
		loader = loader.WithConfigPath(c.path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// inputFlags 收集可重复的 --input key=value
type inputFlags map[string]any

func (f inputFlags) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func (f inputFlags) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("input %q must be key=value", v)
	}
	f[key] = value
	return nil
}

// parseSeed 合并 --inputs JSON 与 --input 键值，后者优先
func parseSeed(inputsJSON string, kv inputFlags) (map[string]any, error) {
	seed := make(map[string]any)
	if inputsJSON != "" {
		dec := json.NewDecoder(strings.NewReader(inputsJSON))
		dec.UseNumber()
		if err := dec.Decode(&seed); err != nil {
			return nil, fmt.Errorf("--inputs must be a JSON object: %w", err)
		}
	}
	for k, v := range kv {
		seed[k] = v
	}
	return seed, nil
}

// =============================================================================
// 🖥️ serve
// =============================================================================

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var cf configFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := cf.load()
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting flowrun",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	app, err := newApp(ctx, cfg, logger, appOptions{withDatabase: true, indexKnowledge: true})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := app.Close(shutdownCtx); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()

	if err := NewServer(app).Run(ctx); err != nil {
		return err
	}
	logger.Info("flowrun stopped")
	return nil
}

// =============================================================================
// ▶️ run
// =============================================================================

func runWorkflow(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cf configFlags
	cf.register(fs)
	path := fs.String("workflow", "", "Workflow template file (JSON or YAML)")
	inputsJSON := fs.String("inputs", "", "Seed inputs as a JSON object")
	inputs := inputFlags{}
	fs.Var(inputs, "input", "Seed input key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("--workflow is required")
	}
	seed, err := parseSeed(*inputsJSON, inputs)
	if err != nil {
		return err
	}

	cfg, err := cf.load()
	if err != nil {
		return err
	}
	// 标准输出只留给工作流结果
	cfg.Log.OutputPaths = []string{"stderr"}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	graph, err := dsl.NewParser(logger).ParseFile(*path)
	if err != nil {
		return err
	}

	app, err := newApp(ctx, cfg, logger, appOptions{indexKnowledge: true})
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	exec, err := app.newExecutor(graph)
	if err != nil {
		return err
	}
	stream, err := exec.Stream(ctx, seed)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(stdout)
	for c := range stream.Chars() {
		if _, err := w.WriteRune(c); err != nil {
			return err
		}
		// 逐字符刷新，保持流式效果
		if err := w.Flush(); err != nil {
			return err
		}
	}
	if _, err := w.WriteString("\n"); err != nil {
		return err
	}
	return w.Flush()
}

// =============================================================================
// ✅ validate
// =============================================================================

func runValidate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	path := fs.String("workflow", "", "Workflow template file (JSON or YAML)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("--workflow is required")
	}

	graph, err := dsl.LoadFile(*path)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "OK: %d nodes, %d edges, start=%s end=%s\n",
		graph.NodeCount(), len(graph.Edges()), graph.StartID(), graph.EndID())
	return nil
}

// =============================================================================
// 🗄️ migrate
// =============================================================================

const migrateUsage = `Usage: flowrun migrate <up|down|status|version> [--config path] [--env path]
       flowrun migrate force [--config path] [--env path] VERSION`

// runMigrate 在配置的数据库上执行模板表的版本迁移
func runMigrate(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return errors.New(migrateUsage)
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	var cf configFlags
	cf.register(fs)
	if err := fs.Parse(rest); err != nil {
		return err
	}

	var forceVersion int
	switch sub {
	case "up", "down", "status", "version":
		if fs.NArg() != 0 {
			return fmt.Errorf("migrate %s takes no arguments", sub)
		}
	case "force":
		if fs.NArg() != 1 {
			return errors.New("migrate force requires a version")
		}
		v, err := strconv.Atoi(fs.Arg(0))
		if err != nil || v < -1 {
			return fmt.Errorf("invalid version %q", fs.Arg(0))
		}
		forceVersion = v
	default:
		return fmt.Errorf("unknown migrate subcommand %q\n%s", sub, migrateUsage)
	}

	cfg, err := cf.load()
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	pool, err := database.Open(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = pool.Close() }()

	migrator, err := migration.NewMigratorFromPool(ctx, pool, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _ = migrator.Close() }()

	cli := migration.NewCLI(migrator)
	cli.SetOutput(stdout)

	switch sub {
	case "up":
		return cli.RunUp(ctx)
	case "down":
		return cli.RunDown(ctx)
	case "status":
		return cli.RunStatus(ctx)
	case "version":
		return cli.RunVersion(ctx)
	default:
		return cli.RunForce(ctx, forceVersion)
	}
}

// =============================================================================
// 🏥 health
// =============================================================================

func runHealthCheck(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	ready := fs.Bool("ready", false, "Use the readiness endpoint")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := "/health"
	if *ready {
		path = "/ready"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(*addr, "/")+path, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("health check failed: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	fmt.Fprintln(stdout, "OK")
	return nil
}
