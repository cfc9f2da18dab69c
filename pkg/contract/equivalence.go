package contract

import "context"

// Equivalence: 两个候选文本是否在不确定性度量意义下等价。
// 要求对称；不要求传递（非传递时由聚类的首个匹配顺序决定结果）。
type Equivalence interface {
	Equivalent(a, b string) bool
}

// ContextEquivalence: 判定需要外部调用（如 embedding）的策略可额外实现，
// 聚类时以分析调用的 ctx 约束这些调用。
type ContextEquivalence interface {
	Equivalence
	EquivalentContext(ctx context.Context, a, b string) bool
}

// EquivalenceFunc 适配普通函数。
type EquivalenceFunc func(a, b string) bool

func (f EquivalenceFunc) Equivalent(a, b string) bool { return f(a, b) }

// Embedder: 文本向量化（embedding 等价策略使用）。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
