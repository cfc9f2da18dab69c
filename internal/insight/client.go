// Package insight 将整段生成的不确定性统计一次性发送给推理后端，并解析结构化洞察。
// 所有运行期失败都收敛为 contract.Insight 的“不可用”标记，不向上返回错误。
package insight

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tokenscope/internal/diag"
	"tokenscope/internal/rate"
	"tokenscope/pkg/contract"
)

const tracerName = "tokenscope/insight"

const (
	DefaultTimeout        = 60 * time.Second
	DefaultRetryDelay     = 500 * time.Millisecond
	DefaultMaxPromptSteps = 64
	DefaultPromptTopN     = 3
	// 瞬时失败的额外尝试次数（固定一次）。
	maxRetries = 1
)

// Options: 调用参数；零值字段取默认。
type Options struct {
	Provider       string
	Model          string
	Timeout        time.Duration // 单次尝试超时
	RetryDelay     time.Duration
	MaxPromptSteps int
	PromptTopN     int
	// 可选限流：Gate 为空则不限流。
	Gate     rate.Gate
	LimitKey rate.LimitKey
	// TracerProvider 为空时取 otel 全局 provider。
	TracerProvider trace.TracerProvider
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxPromptSteps <= 0 {
		o.MaxPromptSteps = DefaultMaxPromptSteps
	}
	if o.PromptTopN <= 0 {
		o.PromptTopN = DefaultPromptTopN
	}
	if o.TracerProvider == nil {
		o.TracerProvider = otel.GetTracerProvider()
	}
}

// Client 只读、可并发复用。
type Client struct {
	backend contract.InsightBackend
	opts    Options
	tracer  trace.Tracer
}

// New 构造客户端；backend 为空表示洞察被关闭（始终返回 disabled）。
func New(backend contract.InsightBackend, opts Options) *Client {
	opts.defaults()
	return &Client{backend: backend, opts: opts, tracer: opts.TracerProvider.Tracer(tracerName)}
}

// Enabled 报告是否配置了后端。
func (c *Client) Enabled() bool { return c != nil && c.backend != nil }

// Provider 返回提供方名称。
func (c *Client) Provider() string {
	if c == nil {
		return ""
	}
	return c.opts.Provider
}

// shouldRetry: 限流与网络类（含上游 5xx/408、单次超时）重试；认证/畸形/取消不重试。
func shouldRetry(err error) bool {
	switch diag.Classify(err) {
	case diag.CodeBudget, diag.CodeNetwork:
		return true
	default:
		return false
	}
}

// reasonFor 将最终错误映射为原因码。
func reasonFor(err error) contract.ReasonCode {
	switch diag.Classify(err) {
	case diag.CodeCancel:
		return contract.ReasonCanceled
	case diag.CodeAuth:
		return contract.ReasonAuth
	case diag.CodeBudget:
		return contract.ReasonRateLimited
	case diag.CodeNetwork:
		return contract.ReasonNetwork
	case diag.CodeProtocol:
		return contract.ReasonMalformed
	default:
		return contract.ReasonUnknown
	}
}

func upstreamKV(err error, attempt int) map[string]string {
	kv := map[string]string{"attempt": strconv.Itoa(attempt)}
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		kv["http_status"] = strconv.Itoa(ue.UpstreamStatus())
		msg := ue.UpstreamMessage()
		if len(msg) > 256 {
			msg = msg[:256]
		}
		if msg != "" {
			kv["upstream_msg"] = msg
		}
	}
	return kv
}

// errPromptTooLarge: 提示词超过单请求 token 上限，重试无意义。
var errPromptTooLarge = fmt.Errorf("prompt exceeds per-request token limit: %w", contract.ErrRateLimited)

// attempt: 单次受限时调用（先过限流闸门）。
func (c *Client) attempt(ctx context.Context, p contract.ChatPrompt, tokens int) (contract.Raw, error) {
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	if c.opts.Gate != nil {
		if err := c.opts.Gate.Wait(ctx, rate.Ask{Key: c.opts.LimitKey, Requests: 1, Tokens: tokens}); err != nil {
			if errors.Is(err, contract.ErrInvalidInput) {
				return contract.Raw{}, errPromptTooLarge
			}
			return contract.Raw{}, err
		}
	}
	actx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	raw, err := c.backend.Complete(actx, p)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		// 单次超时属瞬时失败，父 ctx 仍有效
		return contract.Raw{}, fmt.Errorf("attempt timed out after %s: %w", c.opts.Timeout, contract.ErrBackendUnavailable)
	}
	return raw, err
}

// Generate 产出整段生成的洞察；最多一次重试，永不返回错误。
func (c *Client) Generate(ctx context.Context, log *diag.Logger, in Input) contract.Insight {
	if !c.Enabled() {
		return contract.Unavailable(contract.ReasonDisabled, "no insight model configured", 0)
	}
	ctx, span := c.tracer.Start(ctx, "insight.Generate", trace.WithAttributes(
		attribute.String("provider", c.opts.Provider),
		attribute.String("model", c.opts.Model),
		attribute.Int("steps", len(in.Metrics)),
	))
	defer span.End()

	kv := map[string]string{"provider": c.opts.Provider, "model": c.opts.Model}
	timer := log.StartWithKV("insight", "generate insight", kv)
	start := time.Now()

	fail := func(err error, attempts int) contract.Insight {
		reason := reasonFor(err)
		span.SetAttributes(attribute.Int("attempts", attempts))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(reason))
		diag.IncOp("insight", "generate", "unavailable")
		log.Warn("insight", string(diag.Classify(err)), "insight unavailable: "+err.Error(), map[string]string{"reason": string(reason)})
		return contract.Unavailable(reason, err.Error(), attempts)
	}

	prompt, err := BuildPrompt(in, c.opts.MaxPromptSteps, c.opts.PromptTopN)
	if err != nil {
		return fail(err, 0)
	}
	tokens := rate.EstimateTokens(prompt.Flatten())

	attempts := 0
	var raw contract.Raw
	backoff := retry.WithMaxRetries(maxRetries, retry.NewConstant(c.opts.RetryDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		r, err := c.attempt(ctx, prompt, tokens)
		if err != nil {
			code := diag.Classify(err)
			diag.IncInsightAttempt(c.opts.Provider, string(code))
			diag.IncError("insight", string(code))
			log.ErrorWithKV("insight", string(code), err.Error(), &start, upstreamKV(err, attempts))
			if shouldRetry(err) && !errors.Is(err, errPromptTooLarge) {
				return retry.RetryableError(err)
			}
			return err
		}
		diag.IncInsightAttempt(c.opts.Provider, "ok")
		raw = r
		return nil
	})
	if err != nil {
		return fail(err, attempts)
	}

	ins, err := Parse(raw.Text)
	if err != nil {
		diag.IncError("insight", string(diag.CodeProtocol))
		return fail(err, attempts)
	}
	ins.Attempts = attempts
	span.SetAttributes(attribute.Int("attempts", attempts))
	span.SetStatus(codes.Ok, "")
	diag.IncOp("insight", "generate", "success")
	timer.Finish("insight ok", int64(attempts))
	return ins
}
