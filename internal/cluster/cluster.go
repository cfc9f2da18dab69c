// Package cluster 将 top-k 候选划分为语义等价簇，供语义熵计算。
package cluster

import (
	"context"
	"sort"

	"tokenscope/pkg/contract"
)

// Clusterer: 概率贪心的确定性聚类。
// 候选按概率降序（同概率按 id 升序）遍历；每个候选归入第一个代表项与之等价的簇，
// 否则以自身为代表新建簇。Equivalence 不要求传递，结果由此顺序唯一确定。
type Clusterer struct {
	eq contract.Equivalence
}

// New 构造 Clusterer。eq 为 nil 时退化为逐字节相等。
func New(eq contract.Equivalence) *Clusterer {
	if eq == nil {
		eq = contract.EquivalenceFunc(func(a, b string) bool { return a == b })
	}
	return &Clusterer{eq: eq}
}

// Cluster 返回 topk 的一个划分（无重叠、无遗漏），簇按创建顺序排列。
// 不修改入参。
func (c *Clusterer) Cluster(topk []contract.Candidate) []contract.SemanticCluster {
	return c.ClusterContext(context.Background(), topk)
}

// ClusterContext 同 Cluster；策略实现 contract.ContextEquivalence 时把 ctx 交给它。
func (c *Clusterer) ClusterContext(ctx context.Context, topk []contract.Candidate) []contract.SemanticCluster {
	if len(topk) == 0 {
		return nil
	}
	ordered := make([]contract.Candidate, len(topk))
	copy(ordered, topk)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Prob != ordered[j].Prob {
			return ordered[i].Prob > ordered[j].Prob
		}
		return ordered[i].TokenID < ordered[j].TokenID
	})

	equivalent := c.eq.Equivalent
	if ce, ok := c.eq.(contract.ContextEquivalence); ok {
		equivalent = func(a, b string) bool { return ce.EquivalentContext(ctx, a, b) }
	}

	var out []contract.SemanticCluster
	for _, cand := range ordered {
		placed := false
		for i := range out {
			if equivalent(out[i].Representative, cand.Text) {
				out[i].Members = append(out[i].Members, cand.TokenID)
				out[i].Prob += cand.Prob
				placed = true
				break
			}
		}
		if !placed {
			out = append(out, contract.SemanticCluster{
				Representative: cand.Text,
				Members:        []contract.TokenID{cand.TokenID},
				Prob:           cand.Prob,
			})
		}
	}
	return out
}
