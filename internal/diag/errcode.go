package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"tokenscope/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown    Code = "unknown"
	CodeNetwork    Code = "network"
	CodeProtocol   Code = "protocol"
	CodeInvariant  Code = "invariant"
	CodeBudget     Code = "budget"
	CodeAuth       Code = "auth"
	CodeConfig     Code = "config"
	CodeDegenerate Code = "degenerate"
	CodeCancel     Code = "cancel"
	CodeIO         Code = "io"
)

// Classify 将错误归为最小分类。
// 说明：仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrConfiguration) {
		return CodeConfig
	}
	if errors.Is(err, contract.ErrBackendAuth) {
		return CodeAuth
	}
	// 限流
	if errors.Is(err, contract.ErrRateLimited) {
		return CodeBudget
	}
	// 协议/解码
	if errors.Is(err, contract.ErrResponseInvalid) {
		return CodeProtocol
	}
	if errors.Is(err, contract.ErrCaptureDegenerate) {
		return CodeDegenerate
	}
	// 不变量
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrEmptyCapture) ||
		errors.Is(err, contract.ErrProcessorBusy) {
		return CodeInvariant
	}
	// I/O
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	// 网络（连接/超时/上游 5xx）
	var nerr net.Error
	if errors.As(err, &nerr) || errors.Is(err, contract.ErrBackendUnavailable) {
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
