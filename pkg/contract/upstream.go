package contract

import (
	"fmt"
	"net/http"
)

// UpstreamError 用于承载 HTTP 上游错误的最小诊断信息。
// 实现方应提供可选的状态码与简短消息，便于记录结构化日志字段。
type UpstreamError interface {
	error
	UpstreamStatus() int
	UpstreamMessage() string
}

// HTTPError 实现 UpstreamError 与 net.Error：5xx/408 视为网络类（可重试）错误。
type HTTPError struct {
	Provider string
	Status   int
	Msg      string
}

func (e HTTPError) Error() string {
	return fmt.Sprintf("%s upstream %d: %s", e.Provider, e.Status, e.Msg)
}
func (e HTTPError) Timeout() bool           { return e.Status == http.StatusRequestTimeout }
func (e HTTPError) Temporary() bool         { return e.Status/100 == 5 }
func (e HTTPError) UpstreamStatus() int     { return e.Status }
func (e HTTPError) UpstreamMessage() string { return e.Msg }

// Unwrap 让 errors.Is(err, ErrBackendUnavailable) 对 5xx/408 成立。
func (e HTTPError) Unwrap() error {
	if e.Timeout() || e.Temporary() {
		return ErrBackendUnavailable
	}
	return nil
}

// StatusError 将非 2xx 状态码映射为分类错误：
//   - 401/403 → ErrBackendAuth
//   - 429     → ErrRateLimited
//   - 408/5xx → HTTPError（网络类）
//   - 其他 4xx → ErrInvalidInput
//
// 2xx 返回 nil。
func StatusError(provider string, status int, msg string) error {
	switch {
	case status/100 == 2:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s upstream %d: %w", provider, status, ErrBackendAuth)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s upstream %d: %w", provider, status, ErrRateLimited)
	case status == http.StatusRequestTimeout || status/100 == 5:
		return HTTPError{Provider: provider, Status: status, Msg: msg}
	default:
		return fmt.Errorf("%s upstream %d: %w", provider, status, ErrInvalidInput)
	}
}
