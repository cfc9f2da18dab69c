package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	cfgpkg "tokenscope/internal/config"
	"tokenscope/internal/diag"
	"tokenscope/internal/estimator"
	"tokenscope/internal/replay"
	"tokenscope/internal/report"
	"tokenscope/pkg/contract"
)

// 退出码：0 成功；2 用法/配置错误；3 分析失败。
const (
	exitOK       = 0
	exitUsage    = 2
	exitAnalysis = 3
)

// exitError 携带退出码；cobra 自身的解析错误按用法错误处理。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErr(format string, a ...any) error {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, a...)}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	fprintf(stderr, "error: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUsage
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "tokenscope",
		Short:         "Per-token uncertainty analysis for language-model generations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(newAnalyzeCmd(), newInitConfigCmd())
	return root
}

type analyzeFlags struct {
	fixtures     []string
	concurrency  int
	config       string
	insightModel string
	topK         int
	format       string
	metricsAddr  string
	trace        bool
}

func newAnalyzeCmd() *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Replay a recorded generation through the estimator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyze(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringArrayVar(&f.fixtures, "fixture", nil, "记录的逐步分数（.json/.yaml），可重复")
	fl.IntVar(&f.concurrency, "concurrency", 1, "多个 fixture 时的并发度")
	fl.StringVar(&f.config, "config", "", "配置文件路径（json/yaml）；缺省查找 ./tokenscope.yaml")
	fl.StringVar(&f.insightModel, "insight-model", "", "洞察后端 {provider}:{model}（覆盖配置）")
	fl.IntVar(&f.topK, "top-k", 0, "每步保留的候选数（覆盖配置）")
	fl.StringVar(&f.format, "format", "text", "输出格式 json|text")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "在该地址暴露 /metrics（例如 127.0.0.1:9464）")
	fl.BoolVar(&f.trace, "trace", false, "把 OpenTelemetry span 以 JSON 写到 stderr")
	_ = cmd.MarkFlagRequired("fixture")
	return cmd
}

func runAnalyze(cmd *cobra.Command, f analyzeFlags) error {
	start := time.Now()
	if f.format != "json" && f.format != "text" {
		return usageErr("--format must be json or text, got %q", f.format)
	}

	cfg, err := cfgpkg.Load(f.config)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	// CLI 覆盖
	if cmd.Flags().Changed("insight-model") {
		cfg.Insight.Model = strings.TrimSpace(f.insightModel)
	}
	if cmd.Flags().Changed("top-k") {
		cfg.TopK = f.topK
	}
	ec, err := cfgpkg.ToEstimator(cfg)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	corrID := uuid.NewString()
	logger, err := diag.NewLogger(corrID, cfgpkg.LoggerOptions(cfg))
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	defer func() { _ = logger.Sync() }()
	logger.DebugStart("config", "effective", map[string]string{
		"top_k":         fmt.Sprint(ec.TopK),
		"equivalence":   ec.Equivalence,
		"insight_model": ec.InsightModel,
		"has_api_key":   fmt.Sprint(ec.InsightAPIKey != ""),
	})

	estOpts := []estimator.Option{estimator.WithLogger(logger)}
	if f.trace {
		tp, err := newTraceProvider(cmd.ErrOrStderr())
		if err != nil {
			return &exitError{code: exitUsage, err: err}
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
		estOpts = append(estOpts, estimator.WithTracerProvider(tp))
	}
	est, err := estimator.New(ec, estOpts...)
	if err != nil {
		logger.Error("cli", string(diag.Classify(err)), err.Error(), &start)
		return &exitError{code: exitUsage, err: err}
	}

	fxs := make([]replay.Fixture, 0, len(f.fixtures))
	for _, p := range f.fixtures {
		fx, err := replay.Load(p)
		if err != nil {
			logger.Error("cli", string(diag.Classify(err)), err.Error(), &start)
			return &exitError{code: exitUsage, err: err}
		}
		fxs = append(fxs, fx)
	}

	if f.metricsAddr != "" {
		stop, err := serveMetrics(f.metricsAddr)
		if err != nil {
			return &exitError{code: exitUsage, err: err}
		}
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()
	results, err := replay.RunAll(ctx, est, fxs, f.concurrency)
	if err != nil {
		logger.Error("cli", string(diag.Classify(err)), err.Error(), &start)
		return &exitError{code: exitAnalysis, err: err}
	}
	if err := writeResults(cmd.OutOrStdout(), f.format, results); err != nil {
		return &exitError{code: exitAnalysis, err: err}
	}
	logger.InfoFinish("cli", "analyze", start, int64(len(results)))
	return nil
}

// writeResults: 单个结果输出对象；多个结果在 json 下输出数组，text 下依次输出。
func writeResults(w io.Writer, format string, results []contract.GenerationResult) error {
	if format == "json" {
		if len(results) == 1 {
			return report.JSON(w, results[0])
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for i, res := range results {
		if i > 0 {
			fprintf(w, "\n")
		}
		if err := report.Text(w, res, report.Options{}); err != nil {
			return err
		}
	}
	return nil
}

// serveMetrics 在后台暴露 diag.Registry()；返回的 stop 关闭监听。
func serveMetrics(addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(diag.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "Write a template tokenscope.yaml and .env (existing files are kept)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			p, err := cfgpkg.WriteTemplate(dir)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			if err := writeDotEnv(dir); err != nil {
				fprintf(cmd.ErrOrStderr(), "提示：.env 生成失败（已跳过）：%v\n", err)
			}
			fprintf(cmd.OutOrStdout(), "wrote %s\n", p)
			return nil
		},
	}
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }
