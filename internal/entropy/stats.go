package entropy

import "tokenscope/pkg/contract"

// Summarize 聚合整段生成的统计。退化步计数但不参与均值/最大值。
// threshold>0 时，RawEntropy ≥ threshold 的步列入 HighUncertaintySteps。
func Summarize(ms []contract.TokenMetrics, threshold float64) contract.Summary {
	s := contract.Summary{Steps: len(ms), MaxRawStep: -1}
	var sumRaw, sumSem float64
	for _, m := range ms {
		if m.Degenerate {
			s.DegenerateSteps++
			continue
		}
		s.ScoredSteps++
		sumRaw += m.RawEntropy
		sumSem += m.SemanticEntropy
		if s.MaxRawStep < 0 || m.RawEntropy > s.MaxRawEntropy {
			s.MaxRawEntropy = m.RawEntropy
			s.MaxRawStep = m.Step
		}
		if m.SemanticEntropy > s.MaxSemanticEntropy {
			s.MaxSemanticEntropy = m.SemanticEntropy
		}
		if threshold > 0 && m.RawEntropy >= threshold {
			s.HighUncertaintySteps = append(s.HighUncertaintySteps, m.Step)
		}
	}
	if s.ScoredSteps > 0 {
		s.MeanRawEntropy = sumRaw / float64(s.ScoredSteps)
		s.MeanSemanticEntropy = sumSem / float64(s.ScoredSteps)
	}
	return s
}
