// Package gemini 以原始 HTTP 调用 Google Generative Language API。
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tokenscope/pkg/contract"
)

// Options: Gemini 最小配置。凭据由构造参数显式传入。
type Options struct {
	BaseURL string `json:"base_url"` // https://generativelanguage.googleapis.com
	// 客户端超时（秒）。未设置或 <=0 时采用默认 60 秒。
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	// 第三方兼容（最小）
	EndpointPath  string            `json:"endpoint_path"`    // 默认 /v1beta/models/{model}:generateContent；支持 {model} 占位
	APIKeyInQuery *bool             `json:"api_key_in_query"` // 默认 true；为 false 时使用 x-goog-api-key 头
	ExtraHeaders  map[string]string `json:"extra_headers"`
	ExtraQuery    map[string]string `json:"extra_query"`
	// JSON 输出 MIME：默认 application/json（洞察要求 JSON 对象）；设为 "-" 关闭
	ResponseMIMEType string `json:"response_mime_type,omitempty"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if o.EndpointPath == "" {
		o.EndpointPath = "/v1beta/models/{model}:generateContent"
	}
	// 默认把 key 放在 query（与官方 API 对齐）
	if o.APIKeyInQuery == nil {
		t := true
		o.APIKeyInQuery = &t
	}
	if o.ResponseMIMEType == "" {
		o.ResponseMIMEType = "application/json"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

type Client struct {
	url      string // 完整路径（模型占位已展开）
	apiKey   string
	inQuery  bool
	extraH   map[string]string
	extraQ   map[string]string
	respMIME string
	do       func(*http.Request) (*http.Response, error)
}

func New(model, apiKey string, raw json.RawMessage, hc *http.Client) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("gemini options: %v: %w", err, contract.ErrConfiguration)
		}
	}
	opts.defaults()
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("gemini: %w: missing model", contract.ErrConfiguration)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key", contract.ErrConfiguration)
	}
	path := strings.ReplaceAll(opts.EndpointPath, "{model}", url.PathEscape(model))
	if !(strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")) {
		path = strings.TrimRight(opts.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}
	if hc == nil {
		hc = &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	}
	mime := opts.ResponseMIMEType
	if mime == "-" {
		mime = ""
	}
	return &Client{url: path, apiKey: apiKey, inQuery: *opts.APIKeyInQuery, extraH: opts.ExtraHeaders, extraQ: opts.ExtraQuery, respMIME: mime, do: hc.Do}, nil
}

// 请求/响应（最小字段）。
type gmPart struct {
	Text string `json:"text"`
}
type gmContent struct {
	Role  string   `json:"role,omitempty"`
	Parts []gmPart `json:"parts"`
}
type gmGenerationConfig struct {
	ResponseMIMEType string `json:"response_mime_type,omitempty"`
}
type gmReq struct {
	SystemInstruction *gmContent          `json:"systemInstruction,omitempty"`
	Contents          []gmContent         `json:"contents"`
	GenerationConfig  *gmGenerationConfig `json:"generationConfig,omitempty"`
}
type gmResp struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// normalizeRole 将通用 Chat 角色映射为 Gemini 支持的集合：user|model。
func normalizeRole(r string) string {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "model", "assistant":
		return "model"
	default:
		return "user"
	}
}

// encodePrompt: system 消息放入 systemInstruction，其余映射到 contents。
func encodePrompt(p contract.Prompt, gc *gmGenerationConfig) ([]byte, error) {
	req := gmReq{GenerationConfig: gc}
	switch v := p.(type) {
	case contract.TextPrompt:
		req.Contents = []gmContent{{Role: "user", Parts: []gmPart{{Text: string(v)}}}}
	case contract.ChatPrompt:
		req.Contents = make([]gmContent, 0, len(v))
		for _, m := range v {
			if strings.EqualFold(strings.TrimSpace(m.Role), "system") {
				if req.SystemInstruction == nil {
					req.SystemInstruction = &gmContent{}
				}
				req.SystemInstruction.Parts = append(req.SystemInstruction.Parts, gmPart{Text: m.Content})
				continue
			}
			req.Contents = append(req.Contents, gmContent{Role: normalizeRole(m.Role), Parts: []gmPart{{Text: m.Content}}})
		}
	default:
		return nil, contract.ErrInvalidInput
	}
	return json.Marshal(&req)
}

// Complete 实现 contract.InsightBackend。
func (c *Client) Complete(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	var genCfg *gmGenerationConfig
	if c.respMIME != "" {
		genCfg = &gmGenerationConfig{ResponseMIMEType: c.respMIME}
	}
	body, err := encodePrompt(p, genCfg)
	if err != nil {
		return contract.Raw{}, err
	}
	// 构造 URL 并安全追加 query 参数
	u, err := url.Parse(c.url)
	if err != nil {
		return contract.Raw{}, fmt.Errorf("invalid url: %v: %w", err, contract.ErrInvalidInput)
	}
	q := u.Query()
	if c.inQuery {
		q.Set("key", c.apiKey)
	}
	for k, v := range c.extraQ {
		if k != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return contract.Raw{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if !c.inQuery {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}
	for k, v := range c.extraH {
		if k != "" {
			req.Header.Set(k, v)
		}
	}
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
		return contract.Raw{}, contract.StatusError("gemini", resp.StatusCode, strings.TrimSpace(string(slurp)))
	}
	var gr gmResp
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return contract.Raw{}, fmt.Errorf("gemini decode: %w", contract.ErrResponseInvalid)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 || gr.Candidates[0].Content.Parts[0].Text == "" {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	return contract.Raw{Text: gr.Candidates[0].Content.Parts[0].Text}, nil
}

var _ contract.InsightBackend = (*Client)(nil)
