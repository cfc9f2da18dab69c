// Package flaky 提供先失败后成功的洞察后端（重试演练用）。
package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"

	"tokenscope/pkg/contract"
	"tokenscope/plugins/backend/mock"
)

// Options 定义可选项。
type Options struct {
	// Failures: 前 N 次调用失败，之后成功；默认 1。
	Failures *int `json:"failures"`
	// Mode: 失败形态 server_error|rate_limited|auth|malformed；默认 server_error。
	Mode string `json:"mode"`
	// Status: server_error 模式下的状态码，默认 500。
	Status int `json:"status"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的后端实现；调用计数跨 goroutine 安全。
type Client struct {
	opts     Options
	failures int
	count    atomic.Int32
}

// New 构造 Client。
func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("flaky options: %v: %w", err, contract.ErrConfiguration)
		}
	}
	failures := 1
	if o.Failures != nil {
		failures = *o.Failures
	}
	if failures < 0 {
		return nil, fmt.Errorf("flaky: %w: failures must be >= 0", contract.ErrConfiguration)
	}
	if o.Mode == "" {
		o.Mode = "server_error"
	}
	switch o.Mode {
	case "server_error", "rate_limited", "auth", "malformed":
	default:
		return nil, fmt.Errorf("flaky: %w: unknown mode %q", contract.ErrConfiguration, o.Mode)
	}
	if o.Status == 0 {
		o.Status = http.StatusInternalServerError
	}
	return &Client{opts: o, failures: failures}, nil
}

// Calls 返回已发生的调用次数。
func (c *Client) Calls() int { return int(c.count.Load()) }

func (c *Client) log(s string) {
	if c.opts.LogPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(c.opts.LogPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// Complete 实现 contract.InsightBackend。
func (c *Client) Complete(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	n := int(c.count.Add(1))
	if n <= c.failures {
		c.log(c.opts.Mode)
		switch c.opts.Mode {
		case "rate_limited":
			return contract.Raw{}, contract.StatusError("flaky", http.StatusTooManyRequests, "slow down")
		case "auth":
			return contract.Raw{}, contract.StatusError("flaky", http.StatusUnauthorized, "bad key")
		case "malformed":
			return contract.Raw{Text: "invalid"}, nil
		default:
			return contract.Raw{}, contract.StatusError("flaky", c.opts.Status, "upstream failure")
		}
	}
	c.log("ok")
	return contract.Raw{Text: mock.Insight("FLAKY", n)}, nil
}

var _ contract.InsightBackend = (*Client)(nil)
