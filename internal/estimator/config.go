package estimator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"

	"tokenscope/internal/diag"
	"tokenscope/internal/rate"
	"tokenscope/pkg/contract"
)

// DefaultHighEntropyThreshold: 高不确定性步的默认阈值（nats）。
const DefaultHighEntropyThreshold = 1.0

// Config 在构造期设定，之后只读，可按引用在并发分析间共享。
type Config struct {
	// TopK: 每步保留的候选数。
	TopK int `validate:"gt=0"`
	// MinTokenProb: 低于该概率的候选不进入 top-k（最高的一项始终保留）。
	MinTokenProb float64 `validate:"gte=0,lt=1"`
	// InsightModel: "{provider}:{model}"，或裸模型名（复用进程内模型）；为空则关闭洞察。
	InsightModel string
	// InsightAPIKey: 远程后端的显式凭据。
	InsightAPIKey string
	// ProviderOptions: 传给后端工厂的原样 JSON（严格解码）。
	ProviderOptions json.RawMessage
	// HighEntropyThreshold: RawEntropy ≥ 阈值的步标记为高不确定性；0 取默认值。
	HighEntropyThreshold float64 `validate:"gte=0"`
	// Equivalence: 语义等价策略名（surface|exact|embedding），为空取 surface。
	Equivalence        string
	EquivalenceOptions json.RawMessage
	// InsightTimeout: 单次后端调用超时；0 取默认。
	InsightTimeout time.Duration `validate:"gte=0"`
	MaxPromptSteps int           `validate:"gte=0"`
	PromptTopN     int           `validate:"gte=0"`
	// Limits: 洞察后端的限流额度（仅在 WithGate 未提供闸门时生效）。
	Limits rate.Limits
}

// DefaultConfig 返回常用默认值（洞察关闭）。
func DefaultConfig() Config {
	return Config{
		TopK:                 5,
		MinTokenProb:         0,
		HighEntropyThreshold: DefaultHighEntropyThreshold,
		Equivalence:          "surface",
	}
}

var validate = validator.New()

// Validate 校验数值约束，失败时包装 contract.ErrConfiguration。
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", contract.ErrConfiguration, err)
	}
	return nil
}

// Option 为构造期注入的进程内协作者。
type Option func(*options)

type options struct {
	log        *diag.Logger
	local      contract.LocalModel
	embedder   contract.Embedder
	httpClient *http.Client
	gate       rate.Gate
	tp         trace.TracerProvider
}

// WithLogger 设置日志器（默认丢弃）。
func WithLogger(l *diag.Logger) Option { return func(o *options) { o.log = l } }

// WithLocalModel 提供进程内模型，供裸标识符的洞察后端使用。
func WithLocalModel(m contract.LocalModel) Option { return func(o *options) { o.local = m } }

// WithEmbedder 提供向量化器，供 embedding 等价策略使用。
func WithEmbedder(e contract.Embedder) Option { return func(o *options) { o.embedder = e } }

// WithHTTPClient 覆盖远程后端使用的 HTTP 客户端。
func WithHTTPClient(hc *http.Client) Option { return func(o *options) { o.httpClient = hc } }

// WithGate 使用外部限流闸门（多个 Estimator 共享额度时）。
func WithGate(g rate.Gate) Option { return func(o *options) { o.gate = g } }

// WithTracerProvider 指定 span 的去向（默认 otel 全局 provider）。
func WithTracerProvider(tp trace.TracerProvider) Option { return func(o *options) { o.tp = tp } }
