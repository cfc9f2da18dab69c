// Package anthropic 以原始 HTTP 调用 Anthropic Messages API。
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tokenscope/pkg/contract"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultVersion = "2023-06-01"
)

// Options: Messages API 最小配置。
type Options struct {
	BaseURL        string   `json:"base_url"`
	Version        string   `json:"anthropic_version"`
	MaxTokens      int      `json:"max_tokens"`
	Temperature    *float32 `json:"temperature,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL
	}
	if o.Version == "" {
		o.Version = defaultVersion
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 1024
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

type Client struct {
	url    string
	model  string
	apiKey string
	opts   Options
	do     func(*http.Request) (*http.Response, error)
}

func New(model, apiKey string, raw json.RawMessage, hc *http.Client) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("anthropic options: %v: %w", err, contract.ErrConfiguration)
		}
	}
	opts.defaults()
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("anthropic: %w: missing model", contract.ErrConfiguration)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("anthropic: %w: missing api key", contract.ErrConfiguration)
	}
	if hc == nil {
		hc = &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	}
	return &Client{
		url:    strings.TrimRight(opts.BaseURL, "/") + "/v1/messages",
		model:  model,
		apiKey: apiKey,
		opts:   opts,
		do:     hc.Do,
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float32  `json:"temperature,omitempty"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// encode: system 消息并入顶层 system 字段，其余按 user/assistant 发送。
func (c *Client) encode(p contract.Prompt) ([]byte, error) {
	req := request{Model: c.model, MaxTokens: c.opts.MaxTokens, Temperature: c.opts.Temperature}
	switch v := p.(type) {
	case contract.TextPrompt:
		req.Messages = []message{{Role: "user", Content: string(v)}}
	case contract.ChatPrompt:
		var sys []string
		for _, m := range v {
			switch strings.ToLower(strings.TrimSpace(m.Role)) {
			case "system":
				sys = append(sys, m.Content)
			case "assistant":
				req.Messages = append(req.Messages, message{Role: "assistant", Content: m.Content})
			default:
				req.Messages = append(req.Messages, message{Role: "user", Content: m.Content})
			}
		}
		req.System = strings.Join(sys, "\n\n")
	default:
		return nil, contract.ErrInvalidInput
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("anthropic: no user message: %w", contract.ErrInvalidInput)
	}
	return json.Marshal(&req)
}

// Complete 实现 contract.InsightBackend。
func (c *Client) Complete(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	body, err := c.encode(p)
	if err != nil {
		return contract.Raw{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return contract.Raw{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.opts.Version)

	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return contract.Raw{}, ctx.Err()
			}
		}
		return contract.Raw{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return contract.Raw{}, contract.StatusError("anthropic", resp.StatusCode, strings.TrimSpace(string(slurp)))
	}
	var ar response
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return contract.Raw{}, fmt.Errorf("anthropic decode: %w", contract.ErrResponseInvalid)
	}
	var sb strings.Builder
	for _, part := range ar.Content {
		if part.Type == "text" {
			sb.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return contract.Raw{}, fmt.Errorf("anthropic: empty content: %w", contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: sb.String()}, nil
}

var _ contract.InsightBackend = (*Client)(nil)
