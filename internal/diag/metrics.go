package diag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// 指标命名：
// - tokenscope_op_total{comp,stage,result}
// - tokenscope_error_total{comp,code}
// - tokenscope_op_duration_ms{comp,stage}
// - tokenscope_step_entropy_nats{kind}
// - tokenscope_insight_attempts_total{provider,outcome}
var (
	registry = prometheus.NewRegistry()

	opTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscope",
		Name:      "op_total",
		Help:      "Operations by component, stage and result.",
	}, []string{"comp", "stage", "result"})

	errorTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscope",
		Name:      "error_total",
		Help:      "Errors by component and classified code.",
	}, []string{"comp", "code"})

	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tokenscope",
		Name:      "op_duration_ms",
		Help:      "Stage duration in milliseconds.",
		Buckets:   []float64{1, 5, 10, 50, 100, 250, 500, 1000, 5000, 30000, 60000},
	}, []string{"comp", "stage"})

	stepEntropy = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tokenscope",
		Name:      "step_entropy_nats",
		Help:      "Per-step entropy in nats.",
		Buckets:   []float64{0, 0.1, 0.25, 0.5, 1, 1.5, 2, 3, 4, 6, 8, 12},
	}, []string{"kind"})

	insightAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscope",
		Name:      "insight_attempts_total",
		Help:      "Insight backend attempts by provider and outcome.",
	}, []string{"provider", "outcome"})
)

func init() {
	registry.MustRegister(
		opTotal, errorTotal, opDuration, stepEntropy, insightAttempts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Registry 返回本包指标所在的注册表（供 /metrics 暴露与测试读取）。
func Registry() *prometheus.Registry { return registry }

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// ObserveEntropy 记录单步熵（kind=raw|semantic）。
func ObserveEntropy(kind string, nats float64) {
	stepEntropy.WithLabelValues(kind).Observe(nats)
}

// IncInsightAttempt 记录一次洞察后端调用（outcome=ok 或错误分类码）。
func IncInsightAttempt(provider, outcome string) {
	insightAttempts.WithLabelValues(provider, outcome).Inc()
}
