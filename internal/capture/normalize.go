package capture

import (
	"container/heap"
	"math"
	"sort"

	"tokenscope/pkg/contract"
)

// probTolerance: 判定输入“已归一化”的容差。
const probTolerance = 1e-3

// Normalize 将分数向量转为概率分布（float64 副本，不修改入参）。
// 规则：
//   - 存在 +Inf 时分布是点质量：所有 +Inf 项均分概率 1，其余为 0；
//   - NaN/−Inf 视为概率 0（−Inf 是常见的屏蔽值）；
//   - 全部有限值落在 [0,1] 且总和在 1±probTolerance 内时按概率处理，仅做重新归一化；
//   - 否则视为 logits，做数值稳定的 softmax。
//
// 没有任何有限值时返回 ok=false（即使含 +Inf，也记为退化步）。
func Normalize(scores []float32) (dist []float64, ok bool) {
	finite := 0
	probLike := true
	var sum float64
	maxv := math.Inf(-1)
	for _, s := range scores {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		finite++
		if v < 0 || v > 1 {
			probLike = false
		}
		sum += v
		if v > maxv {
			maxv = v
		}
	}
	if finite == 0 {
		return nil, false
	}
	if dist, ok := pointMass(scores); ok {
		return dist, true
	}
	dist = make([]float64, len(scores))
	if probLike && math.Abs(sum-1) <= probTolerance && sum > 0 {
		for i, s := range scores {
			v := float64(s)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			dist[i] = v / sum
		}
		return dist, true
	}
	var z float64
	for i, s := range scores {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		e := math.Exp(v - maxv)
		dist[i] = e
		z += e
	}
	for i := range dist {
		dist[i] /= z
	}
	return dist, true
}

// pointMass 处理含 +Inf 的向量（logit 或概率意义下都压倒一切有限值）。
func pointMass(scores []float32) ([]float64, bool) {
	n := 0
	for _, s := range scores {
		if math.IsInf(float64(s), 1) {
			n++
		}
	}
	if n == 0 {
		return nil, false
	}
	dist := make([]float64, len(scores))
	for i, s := range scores {
		if math.IsInf(float64(s), 1) {
			dist[i] = 1 / float64(n)
		}
	}
	return dist, true
}

// ranksBefore: 概率降序，同概率按 token id 升序。
func ranksBefore(a, b contract.Candidate) bool {
	if a.Prob != b.Prob {
		return a.Prob > b.Prob
	}
	return a.TokenID < b.TokenID
}

// worstFirst: 堆顶为当前保留集合中排名最靠后的候选。
type worstFirst []contract.Candidate

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return ranksBefore(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(contract.Candidate)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// SelectTopK 返回概率最高的 k 项（零概率项不参与），并剔除低于 minProb 的项；
// 若全部低于 minProb，仍保留最高的一项。结果按 ranksBefore 排序。
func SelectTopK(dist []float64, k int, minProb float64) []contract.Candidate {
	if k <= 0 || len(dist) == 0 {
		return nil
	}
	h := make(worstFirst, 0, k)
	for i, p := range dist {
		if p <= 0 {
			continue
		}
		c := contract.Candidate{TokenID: contract.TokenID(i), Prob: p}
		if len(h) < k {
			heap.Push(&h, c)
			continue
		}
		if ranksBefore(c, h[0]) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}
	out := []contract.Candidate(h)
	sort.Slice(out, func(i, j int) bool { return ranksBefore(out[i], out[j]) })
	kept := out[:0]
	for _, c := range out {
		if c.Prob >= minProb {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 && len(out) > 0 {
		kept = append(kept, out[0])
	}
	return kept
}
