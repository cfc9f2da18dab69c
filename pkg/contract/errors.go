package contract

import "errors"

// 错误分类（上层按 errors.Is 判定，不做字符串匹配）。
var (
	// ErrCaptureDegenerate: 某步分数向量无任何有限值；仅记录，不中断采集。
	ErrCaptureDegenerate = errors.New("capture degenerate")
	// ErrConfiguration: 构造期配置无效（top_k/min_token_prob/后端/凭据）。致命，不重试。
	ErrConfiguration = errors.New("configuration error")
	// ErrBackendUnavailable: 后端暂不可达（网络/超时/上游 5xx）。
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBackendAuth: 凭据被拒绝。不重试。
	ErrBackendAuth = errors.New("backend auth rejected")
	// ErrEmptyCapture: 分析时没有任何已记录的步。
	ErrEmptyCapture = errors.New("empty capture")
	// ErrProcessorBusy: 同一采集器被重叠的分析复用。
	ErrProcessorBusy = errors.New("processor busy")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
