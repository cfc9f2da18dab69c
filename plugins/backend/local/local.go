// Package local 复用生成文本的进程内模型产出洞察。
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tokenscope/pkg/contract"
)

// Options: 本地推理参数。
type Options struct {
	MaxTokens int `json:"max_tokens"` // 默认 512
}

type Client struct {
	model     contract.LocalModel
	maxTokens int
}

// New 构造本地后端；model 为空时返回配置错误。
func New(model contract.LocalModel, raw json.RawMessage) (*Client, error) {
	if model == nil {
		return nil, fmt.Errorf("local: %w: no in-process model supplied", contract.ErrConfiguration)
	}
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("local options: %v: %w", err, contract.ErrConfiguration)
		}
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 512
	}
	return &Client{model: model, maxTokens: o.MaxTokens}, nil
}

// Complete 将 Prompt 展平为单段文本后调用本地模型。
func (c *Client) Complete(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	var text string
	switch v := p.(type) {
	case contract.TextPrompt:
		text = string(v)
	case contract.ChatPrompt:
		text = v.Flatten()
	default:
		return contract.Raw{}, contract.ErrInvalidInput
	}
	out, err := c.model.Generate(ctx, text, c.maxTokens)
	if err != nil {
		return contract.Raw{}, err
	}
	if strings.TrimSpace(out) == "" {
		return contract.Raw{}, fmt.Errorf("local: empty output: %w", contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: out}, nil
}

var _ contract.InsightBackend = (*Client)(nil)
