// Package entropy 计算单步与整段生成的不确定性度量。
// 单位统一为 nat（自然对数）。纯计算，无 I/O。
package entropy

import (
	"math"

	"tokenscope/pkg/contract"
)

// Shannon 返回 −Σ p·ln p（仅计非零项）。单点分布为 0。
// 输入不要求严格归一化；调用方负责先归一化。
func Shannon(p []float64) float64 {
	var h float64
	for _, v := range p {
		if v > 0 && !math.IsInf(v, 0) {
			h -= v * math.Log(v)
		}
	}
	if h < 0 {
		// 浮点误差
		return 0
	}
	return h
}

// Renormalize 返回按总和重新归一化的副本；总和为 0 时返回 nil。
func Renormalize(p []float64) []float64 {
	var sum float64
	for _, v := range p {
		if v > 0 {
			sum += v
		}
	}
	if sum <= 0 {
		return nil
	}
	out := make([]float64, len(p))
	for i, v := range p {
		if v > 0 {
			out[i] = v / sum
		}
	}
	return out
}

// Restricted 返回 top-k 单例（重新归一化）上的熵。
func Restricted(topk []contract.Candidate) float64 {
	ps := make([]float64, len(topk))
	for i, c := range topk {
		ps[i] = c.Prob
	}
	return Shannon(Renormalize(ps))
}

// Semantic 返回语义簇（在 top-k 内重新归一化）上的熵。
func Semantic(clusters []contract.SemanticCluster) float64 {
	ps := make([]float64, len(clusters))
	for i, c := range clusters {
		ps[i] = c.Prob
	}
	return Shannon(Renormalize(ps))
}

// Triple 为单步的三项熵。
type Triple struct {
	Raw        float64
	Semantic   float64
	Restricted float64
}

// Step 计算单步的 raw/semantic/restricted 熵。
// 退化快照返回全 0。
// 后置条件：Semantic ≤ Restricted 且 Semantic ≤ Raw（合并概率质量不会增加熵；
// 超出部分只可能来自浮点误差，直接截断）。
func Step(s contract.StepSnapshot, clusters []contract.SemanticCluster) Triple {
	if s.Degenerate || len(s.TopK) == 0 {
		return Triple{}
	}
	t := Triple{
		Raw:        Shannon(s.Dist),
		Restricted: Restricted(s.TopK),
		Semantic:   Semantic(clusters),
	}
	if t.Semantic > t.Restricted {
		t.Semantic = t.Restricted
	}
	if t.Semantic > t.Raw {
		t.Semantic = t.Raw
	}
	return t
}
