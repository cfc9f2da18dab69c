// Package openai 通过 go-openai 访问 OpenAI 及其兼容服务（Together/OpenRouter/Ollama）。
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"tokenscope/pkg/contract"
)

// DefaultBaseURL: 各兼容提供方的默认入口。
var DefaultBaseURL = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"together":   "https://api.together.xyz/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"ollama":     "http://localhost:11434/v1",
}

// keyless: 无需凭据的提供方（本地服务）。
var keyless = map[string]bool{"ollama": true}

// Options: 最小必需配置。
type Options struct {
	BaseURL        string   `json:"base_url"`        // 为空则按提供方取默认
	TimeoutSeconds int      `json:"timeout_seconds"` // 可选 client 级超时（秒），默认 60
	Temperature    *float32 `json:"temperature,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	// JSONMode: 请求 response_format=json_object（部分兼容服务不支持，默认关闭）。
	JSONMode bool `json:"json_mode,omitempty"`
}

type Client struct {
	provider string
	model    string
	cli      *goopenai.Client
	opts     Options
}

// New 构造客户端。凭据由调用方显式传入；除 keyless 提供方外缺失即为配置错误。
func New(provider, model, apiKey string, raw json.RawMessage, hc *http.Client) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("%s options: %v: %w", provider, err, contract.ErrConfiguration)
		}
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%s: %w: missing model", provider, contract.ErrConfiguration)
	}
	if strings.TrimSpace(apiKey) == "" && !keyless[provider] {
		return nil, fmt.Errorf("%s: %w: missing api key", provider, contract.ErrConfiguration)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL[provider]
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("%s: %w: missing base_url", provider, contract.ErrConfiguration)
	}
	// 未配置则采用安全默认 60s
	if opts.TimeoutSeconds <= 0 {
		opts.TimeoutSeconds = 60
	}
	if hc == nil {
		hc = &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	}
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	cfg.HTTPClient = hc
	return &Client{provider: provider, model: model, cli: goopenai.NewClientWithConfig(cfg), opts: opts}, nil
}

func messages(p contract.Prompt) ([]goopenai.ChatCompletionMessage, error) {
	switch v := p.(type) {
	case contract.TextPrompt:
		return []goopenai.ChatCompletionMessage{{Role: goopenai.ChatMessageRoleUser, Content: string(v)}}, nil
	case contract.ChatPrompt:
		out := make([]goopenai.ChatCompletionMessage, 0, len(v))
		for _, m := range v {
			out = append(out, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
		}
		return out, nil
	default:
		return nil, contract.ErrInvalidInput
	}
}

// Complete 实现 contract.InsightBackend。
func (c *Client) Complete(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	msgs, err := messages(p)
	if err != nil {
		return contract.Raw{}, err
	}
	req := goopenai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  msgs,
		MaxTokens: c.opts.MaxTokens,
	}
	if c.opts.Temperature != nil {
		req.Temperature = *c.opts.Temperature
	}
	if c.opts.JSONMode {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject}
	}
	resp, err := c.cli.CreateChatCompletion(ctx, req)
	if err != nil {
		return contract.Raw{}, c.mapError(ctx, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return contract.Raw{}, fmt.Errorf("%s: empty completion: %w", c.provider, contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: resp.Choices[0].Message.Content}, nil
}

// mapError 将 go-openai 错误映射为统一分类。
func (c *Client) mapError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		if mapped := contract.StatusError(c.provider, apiErr.HTTPStatusCode, apiErr.Message); mapped != nil {
			return mapped
		}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		if mapped := contract.StatusError(c.provider, reqErr.HTTPStatusCode, reqErr.Error()); mapped != nil {
			return mapped
		}
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return err
	}
	// 2xx 但响应体无法解码
	return fmt.Errorf("%s: %v: %w", c.provider, err, contract.ErrResponseInvalid)
}

var _ contract.InsightBackend = (*Client)(nil)
