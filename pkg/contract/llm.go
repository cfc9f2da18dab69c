package contract

import (
	"context"
	"errors"
)

// Raw: 后端返回的原始文本载荷。
// 约束：原样返回，不做清洗/截断/归一化。
type Raw struct {
	Text string
}

// InsightBackend: 以 Prompt 为单位与推理模型交互，返回原始文本 Raw。
// 单次调用、同步返回；应尊重 ctx 取消/超时并及时释放资源。
type InsightBackend interface {
	Complete(ctx context.Context, p Prompt) (Raw, error)
}

// LocalModel: 进程内已加载的模型（与生成文本的模型相同）。
type LocalModel interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// 后端调用的最小错误分类（用于重试策略判定）。
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrResponseInvalid = errors.New("response invalid")
	ErrInvalidInput    = errors.New("invalid input")
)
