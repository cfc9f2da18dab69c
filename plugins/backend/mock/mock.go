// Package mock 提供离线洞察后端（调试/联调用），不发起任何网络请求。
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tokenscope/pkg/contract"
)

// Options: 最小调试配置（可选）。
type Options struct {
	Prefix string `json:"prefix"` // 说明前缀，默认 "MOCK"
	// ResponseMode:
	//  - "" / "insight_json": 返回带 explanation/scores/uncertainty_analysis 的 JSON 对象；
	//  - "fenced": 同上，但包在 ```json 代码块与前后说明文字中；
	//  - "raw": 原样返回 Text（用于构造畸形响应）；
	//  - "echo": 回显 Prompt 摘要。
	ResponseMode string `json:"response_mode,omitempty"`
	Text         string `json:"text,omitempty"`
}

type Client struct {
	prefix string
	mode   string
	text   string
}

func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %v: %w", err, contract.ErrConfiguration)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	mode := strings.TrimSpace(o.ResponseMode)
	if mode == "" {
		mode = "insight_json"
	}
	return &Client{prefix: o.Prefix, mode: mode, text: o.Text}, nil
}

// Insight 生成一个满足最小契约的洞察对象。
func Insight(prefix string, promptChars int) string {
	obj := map[string]any{
		"explanation": fmt.Sprintf("%s: uncertainty summary received (%d chars)", prefix, promptChars),
		"scores":      map[string]any{"overall_confidence": 0.5},
		"uncertainty_analysis": map[string]any{
			"source": strings.ToLower(prefix),
		},
	}
	b, _ := json.Marshal(obj)
	return string(b)
}

func promptChars(p contract.Prompt) int {
	switch v := p.(type) {
	case contract.TextPrompt:
		return len(v)
	case contract.ChatPrompt:
		return len(v.Flatten())
	default:
		return 0
	}
}

// Complete 实现 contract.InsightBackend。
func (c *Client) Complete(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	switch c.mode {
	case "insight_json":
		return contract.Raw{Text: Insight(c.prefix, promptChars(p))}, nil
	case "fenced":
		return contract.Raw{Text: "Here is the analysis:\n```json\n" + Insight(c.prefix, promptChars(p)) + "\n```\nDone."}, nil
	case "raw":
		return contract.Raw{Text: c.text}, nil
	}
	// 兜底：回显 Prompt 摘要
	switch v := p.(type) {
	case contract.TextPrompt:
		return contract.Raw{Text: fmt.Sprintf("%s(text): %s", c.prefix, string(v))}, nil
	case contract.ChatPrompt:
		if len(v) == 0 {
			return contract.Raw{Text: fmt.Sprintf("%s(chat): <empty>", c.prefix)}, nil
		}
		// 取最后一条消息内容
		last := v[len(v)-1]
		return contract.Raw{Text: fmt.Sprintf("%s(chat:%s): %s", c.prefix, last.Role, last.Content)}, nil
	default:
		return contract.Raw{Text: fmt.Sprintf("%s(unknown prompt type)", c.prefix)}, nil
	}
}

var _ contract.InsightBackend = (*Client)(nil)
