// Package estimator 是不确定性估计的门面：产出采集钩子，并在生成结束后汇总指标与洞察。
package estimator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tokenscope/internal/capture"
	"tokenscope/internal/cluster"
	"tokenscope/internal/diag"
	"tokenscope/internal/entropy"
	"tokenscope/internal/insight"
	"tokenscope/internal/rate"
	"tokenscope/pkg/contract"
	"tokenscope/pkg/registry"
)

const tracerName = "tokenscope/estimator"

// Estimator 构造后只读；可跨独立生成复用，每次生成需调用 NewProcessor 取新钩子。
type Estimator struct {
	cfg       Config
	threshold float64
	clusterer *cluster.Clusterer
	insight   *insight.Client
	log       *diag.Logger
	tracer    trace.Tracer
}

// New 校验配置并解析等价策略与洞察后端。
// 远程后端缺凭据、未知提供方、裸标识符但未提供进程内模型，均返回 contract.ErrConfiguration。
func New(cfg Config, opts ...Option) (*Estimator, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = diag.Nop()
	}
	if o.tp == nil {
		o.tp = otel.GetTracerProvider()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deps := registry.Deps{Local: o.local, Embedder: o.embedder, HTTPClient: o.httpClient}

	eqName := strings.TrimSpace(cfg.Equivalence)
	if eqName == "" {
		eqName = registry.DefaultEquivalence
	}
	newEq, ok := registry.Equivalence[eqName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown equivalence policy %q", contract.ErrConfiguration, eqName)
	}
	eq, err := newEq(cfg.EquivalenceOptions, deps)
	if err != nil {
		return nil, err
	}

	ic := insight.New(nil, insight.Options{TracerProvider: o.tp})
	if id := strings.TrimSpace(cfg.InsightModel); id != "" {
		backend, provider, err := registry.ResolveBackend(id, cfg.InsightAPIKey, cfg.ProviderOptions, deps)
		if err != nil {
			return nil, err
		}
		_, model := registry.ParseModelID(id)
		gate := o.gate
		if gate == nil && (cfg.Limits != rate.Limits{}) {
			gate = rate.NewGate(map[rate.LimitKey]rate.Limits{rate.DeriveKey(provider, cfg.InsightAPIKey): cfg.Limits}, nil)
		}
		ic = insight.New(backend, insight.Options{
			Provider:       provider,
			Model:          model,
			Timeout:        cfg.InsightTimeout,
			MaxPromptSteps: cfg.MaxPromptSteps,
			PromptTopN:     cfg.PromptTopN,
			Gate:           gate,
			LimitKey:       rate.DeriveKey(provider, cfg.InsightAPIKey),
			TracerProvider: o.tp,
		})
	}

	threshold := cfg.HighEntropyThreshold
	if threshold == 0 {
		threshold = DefaultHighEntropyThreshold
	}
	return &Estimator{
		cfg:       cfg,
		threshold: threshold,
		clusterer: cluster.New(eq),
		insight:   ic,
		log:       o.log,
		tracer:    o.tp.Tracer(tracerName),
	}, nil
}

// Config 返回构造时的配置副本。
func (e *Estimator) Config() Config { return e.cfg }

// InsightProvider 返回洞察提供方；关闭时为空。
func (e *Estimator) InsightProvider() string { return e.insight.Provider() }

// NewProcessor 返回一个新的采集钩子（独占缓冲，仅用于一次生成）。
func (e *Estimator) NewProcessor() *capture.Processor {
	return capture.New(e.cfg.TopK, e.cfg.MinTokenProb)
}

// AnalyzeGeneration 汇总钩子缓冲中的每一步，并发起一次洞察调用。
// 只有空缓冲（ErrEmptyCapture）、钩子正被分析（ErrProcessorBusy）与非法参数返回错误；
// 洞察失败体现在结果的 Insight 字段中。
func (e *Estimator) AnalyzeGeneration(ctx context.Context, out contract.GenerationOutput, decode contract.DecodeFunc, proc *capture.Processor) (contract.GenerationResult, error) {
	if proc == nil || decode == nil {
		return contract.GenerationResult{}, fmt.Errorf("analyze: nil processor or decode: %w", contract.ErrInvalidInput)
	}
	id := uuid.NewString()
	log := e.log.With(id)
	ctx, span := e.tracer.Start(ctx, "estimator.AnalyzeGeneration")
	defer span.End()
	span.SetAttributes(attribute.String("corr_id", id))

	start := time.Now()
	snaps, err := proc.Begin()
	if err != nil {
		code := diag.Classify(err)
		diag.IncOp("estimator", "analyze", "error")
		diag.IncError("estimator", string(code))
		log.Error("estimator", string(code), err.Error(), &start)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		return contract.GenerationResult{}, err
	}
	// decode 或等价策略 panic 时钩子也要离开 analyzing
	completed := false
	defer func() { proc.End(completed) }()
	timer := log.StartWithKV("estimator", "analyze generation", map[string]string{"steps": fmt.Sprint(len(snaps))})

	metrics := make([]contract.TokenMetrics, 0, len(snaps))
	for _, s := range snaps {
		metrics = append(metrics, e.stepMetrics(ctx, s, decode))
	}
	summary := entropy.Summarize(metrics, e.threshold)
	if summary.DegenerateSteps > 0 {
		log.Warn("estimator", string(diag.CodeDegenerate), "degenerate steps excluded from aggregates",
			map[string]string{"count": fmt.Sprint(summary.DegenerateSteps)})
	}

	text := out.Text
	if text == "" && len(out.Tokens) > 0 {
		var sb strings.Builder
		for _, t := range out.Tokens {
			sb.WriteString(decode(t))
		}
		text = sb.String()
	}

	ins := e.insight.Generate(ctx, log, insight.Input{Text: text, Metrics: metrics, Summary: summary})
	completed = true

	span.SetAttributes(
		attribute.Int("steps", len(metrics)),
		attribute.String("insight.status", string(ins.Status)),
	)
	diag.IncOp("estimator", "analyze", "success")
	timer.Finish("analysis complete", int64(len(metrics)))
	return contract.GenerationResult{
		ID:           id,
		Text:         text,
		TokenMetrics: metrics,
		Summary:      summary,
		Insight:      ins,
	}, nil
}

// stepMetrics 在解码副本上计算单步指标，不修改缓冲中的快照。
func (e *Estimator) stepMetrics(ctx context.Context, s contract.StepSnapshot, decode contract.DecodeFunc) contract.TokenMetrics {
	m := contract.TokenMetrics{Step: s.Step, Degenerate: s.Degenerate}
	if s.Degenerate || len(s.TopK) == 0 {
		m.Degenerate = true
		return m
	}
	decoded := make([]contract.Candidate, len(s.TopK))
	m.Predictions = make([]contract.TokenPrediction, len(s.TopK))
	for i, c := range s.TopK {
		c.Text = decode(c.TokenID)
		decoded[i] = c
		m.Predictions[i] = contract.TokenPrediction{Token: c.Text, Probability: c.Prob}
	}
	view := s
	view.TopK = decoded
	clusters := e.clusterer.ClusterContext(ctx, decoded)
	t := entropy.Step(view, clusters)

	m.RawEntropy = t.Raw
	m.SemanticEntropy = t.Semantic
	m.RestrictedEntropy = t.Restricted
	m.Clusters = clusters
	m.HighUncertainty = t.Raw >= e.threshold
	diag.ObserveEntropy("raw", t.Raw)
	diag.ObserveEntropy("semantic", t.Semantic)
	return m
}
