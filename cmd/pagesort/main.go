package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfgpkg "pagesort/internal/config"
	"pagesort/internal/diag"
	"pagesort/internal/pipeline"
	"pagesort/internal/watch"
)

// 可替换以便测试。
var (
	pipelineRun     = pipeline.Run
	pipelineInspect = pipeline.Inspect
	watchRun        = watch.Run
)

// 退出码：与错误分类解耦。
const (
	exitOK      = 0
	exitRuntime = 1
	exitUsage   = 2
	exitConfig  = 3
)

// exitError 携带退出码穿过 cobra 的 RunE。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configErr(format string, a ...any) error {
	return &exitError{code: exitConfig, err: fmt.Errorf(format, a...)}
}

type cliFlags struct {
	config      string
	concurrency int
	stable      bool
	verify      bool
	inPlace     bool
	logLevel    string
	logDir      string
	status      bool
	watch       bool
	debounce    time.Duration
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if !errors.Is(err, context.Canceled) {
			fprintf(stderr, "%v\n", err)
		}
		return ee.code
	}
	// 其余均来自 cobra 的参数/旗标解析
	fprintf(stderr, "用法错误: %v\n", err)
	fprintf(stderr, "%s", root.UsageString())
	return exitUsage
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &cliFlags{}
	root := &cobra.Command{
		Use:   "pagesort [flags] [<source> <dest>]",
		Short: "按 <id> 对文档内的 page 记录重排，其余字节保持不变",
		Long: `pagesort 读取整个文档，定位 "  <page>" … "  </page>\n" 记录块，
按块内首个 <id> 的前导十进制值升序重排后写出；输出与输入等长。
"-" 表示 STDIN/STDOUT。源为目录时按 walk 规则展开，目标视为目录。
未提供位置参数时使用配置中的 jobs。`,
		Args: func(cmd *cobra.Command, args []string) error {
			if n := len(args); n != 0 && n != 2 {
				return fmt.Errorf("accepts <source> <dest> or no arguments, received %d", n)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSort(cmd, args, f, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&f.config, "config", "", "配置文件路径（JSON/YAML）；缺省读取 ./pagesort.json|yaml（若存在）")
	pf.StringVar(&f.logLevel, "log-level", "", "日志等级 debug|info|warn|error（覆盖配置）")
	pf.StringVar(&f.logDir, "log-dir", "", "日志目录（覆盖配置，默认 logs）")

	fl := root.Flags()
	fl.IntVar(&f.concurrency, "concurrency", 0, "文档并发度（覆盖配置）")
	fl.BoolVar(&f.stable, "stable", false, "稳定排序：相同 id 保持原相对顺序")
	fl.BoolVar(&f.verify, "verify", false, "提交前重扫输出并校验仅为重排")
	fl.BoolVar(&f.inPlace, "in-place", false, "非原子写：直接截断并写入目标（不得与源为同一文件）")
	fl.BoolVar(&f.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	fl.BoolVar(&f.watch, "watch", false, "监视源文档，变化后重新排序（Ctrl-C 退出）")
	fl.DurationVar(&f.debounce, "debounce", 500*time.Millisecond, "监视模式下事件静默期")

	root.AddCommand(newInspectCmd(f, stdout, stderr), newInitConfigCmd(stdout))
	return root
}

func newInspectCmd(f *cliFlags, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <source>",
		Short: "扫描文档并以 JSON 输出统计（不写出）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f, nil)
			if err != nil {
				return err
			}
			comp, err := cfgpkg.AssembleComponents(cfg)
			if err != nil {
				return configErr("装配失败: %w", err)
			}
			logger := diag.NewLogger(uuid.NewString(), cfg.Logging.Level, cfg.Logging.Dir)
			defer logger.Close()
			start := time.Now()
			t := logger.StartWith("inspect", "scan", args[0])
			sum, err := pipelineInspect(cmd.Context(), comp, args[0])
			if err != nil {
				logger.ErrorWith("inspect", string(diag.Classify(err)), "inspect failed", &start, args[0])
				return &exitError{code: exitRuntime, err: fmt.Errorf("检查失败: %w", err)}
			}
			t.Finish("scan", int64(sum.Pages))
			b, err := json.MarshalIndent(sum, "", "  ")
			if err != nil {
				return &exitError{code: exitRuntime, err: err}
			}
			if _, err := stdout.Write(append(b, '\n')); err != nil {
				return &exitError{code: exitRuntime, err: err}
			}
			return nil
		},
	}
}

func newInitConfigCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "在指定目录生成默认配置 pagesort.json（已存在则失败，不覆盖）；dir 为 - 时输出到 STDOUT",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			cfg := cfgpkg.DefaultTemplateConfig()
			if dir == "-" {
				return writeConfig(stdout, "-", cfg)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return configErr("生成默认配置失败: %w", err)
			}
			if err := writeConfig(stdout, filepath.Join(dir, "pagesort.json"), cfg); err != nil {
				return configErr("生成默认配置失败: %w", err)
			}
			return nil
		},
	}
}

func runSort(cmd *cobra.Command, args []string, f *cliFlags, stderr io.Writer) error {
	start := time.Now()
	corrID := uuid.NewString()

	cfg, err := loadConfig(cmd, f, args)
	if err != nil {
		return err
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		dumpConfig(stderr, cfg)
		return configErr("配置校验失败: %w", err)
	}

	logger := diag.NewLogger(corrID, cfg.Logging.Level, cfg.Logging.Dir)
	defer logger.Close()

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		logger.Error("config", string(diag.Classify(err)), "assemble failed", &start)
		return configErr("装配失败: %w", err)
	}

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(stderr, f.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	logger.DebugStart("config", "effective", "", map[string]string{
		"jobs":        fmt.Sprintf("%d", len(set.Jobs)),
		"concurrency": fmt.Sprintf("%d", set.Concurrency),
		"verify":      fmt.Sprintf("%t", set.Verify),
		"source":      cfg.Components.Source,
		"scanner":     cfg.Components.Scanner,
		"sorter":      cfg.Components.Sorter,
		"writer":      cfg.Components.Writer,
		"sink":        cfg.Components.Sink,
		"sorter_opts": string(cfg.Options.Sorter),
		"sink_opts":   string(cfg.Options.Sink),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if f.watch {
		targets, err := watch.NewTargets(set.Jobs, set.Walk.Exts)
		if err != nil {
			return configErr("监视目标无效: %w", err)
		}
		err = watchRun(ctx, targets, watch.Options{Debounce: f.debounce}, logger, func(ctx context.Context) error {
			return pipelineRun(ctx, comp, set, logger)
		})
		if err != nil {
			logger.Error("cli", string(diag.Classify(err)), "watch failed", &start)
			return &exitError{code: exitRuntime, err: fmt.Errorf("监视失败: %w", err)}
		}
		return nil
	}
	if err := pipelineRun(ctx, comp, set, logger); err != nil {
		code := string(diag.Classify(err))
		logger.Error("cli", code, "first error", &start)
		return &exitError{code: exitRuntime, err: fmt.Errorf("运行失败: %w", err)}
	}
	logger.InfoFinish("cli", "done", start, int64(len(set.Jobs)))
	return nil
}

// loadConfig: 默认值 → 文件/内联 JSON → ENV → CLI。
// args 非空时（2 个）作为唯一 job 覆盖配置中的 jobs。
func loadConfig(cmd *cobra.Command, f *cliFlags, args []string) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()

	path := f.config
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	inline := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON")
	if path == "" && inline == "" {
		path = cfgpkg.DiscoverFile(".")
	}
	var (
		base cfgpkg.Config
		err  error
	)
	switch {
	case inline != "":
		base, err = cfgpkg.LoadJSON("", []byte(inline))
	case path != "":
		base, err = cfgpkg.LoadFile(path)
	}
	if err != nil {
		return cfg, configErr("配置解析失败: %w", err)
	}
	cfg = cfgpkg.Merge(cfg, base)

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, configErr("环境变量解析失败: %w", err)
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	var overCLI cfgpkg.Config
	flags := cmd.Flags()
	if len(args) == 2 {
		overCLI.Jobs = []cfgpkg.Job{{Source: args[0], Dest: args[1]}}
	}
	if f.concurrency > 0 {
		overCLI.Concurrency = f.concurrency
	}
	if flags.Changed("verify") {
		v := f.verify
		overCLI.Verify = &v
	}
	overCLI.Logging = cfgpkg.Logging{Level: f.logLevel, Dir: f.logDir}
	cfg = cfgpkg.Merge(cfg, overCLI)

	// 组件开关映射到 Options 子树
	if flags.Changed("stable") {
		if cfg.Options.Sorter, err = cfgpkg.SetOption(cfg.Options.Sorter, "stable", f.stable); err != nil {
			return cfg, configErr("options.sorter: %w", err)
		}
	}
	if flags.Changed("in-place") {
		if cfg.Options.Sink, err = cfgpkg.SetOption(cfg.Options.Sink, "atomic", !f.inPlace); err != nil {
			return cfg, configErr("options.sink: %w", err)
		}
	}
	return cfg, nil
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return
	}
	fprintf(w, "有效配置:\n%s\n", b)
}

func writeConfig(stdout io.Writer, path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer fh.Close()
	if _, err := fh.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}
