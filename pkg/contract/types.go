package contract

// TokenID: 词表内的 token 编号（与外部分词器一致）。
type TokenID int

// Candidate: 单步 top-k 中的一个候选。
// Text 在采集期为空，由分析期使用 DecodeFunc 回填（产出副本，不回写缓冲）。
type Candidate struct {
	TokenID TokenID `json:"token_id"`
	Text    string  `json:"text,omitempty"`
	Prob    float64 `json:"prob"`
}

// StepSnapshot: 单个解码步的分布快照。记录后只读。
// 约束：
//  1. Dist 以 token id 为下标，归一化（Σ≈1）；退化步为 nil；
//  2. TopK 按概率降序、同概率按 id 升序；长度 ≤ 配置 top_k；
//  3. 低于 min_token_prob 的候选被剔除，但至少保留概率最高的一项；
//  4. Degenerate=true 表示输入向量无任何有限值，TopK 为空。
type StepSnapshot struct {
	Step       int         `json:"step"`
	Dist       []float64   `json:"-"`
	TopK       []Candidate `json:"top_k"`
	Degenerate bool        `json:"degenerate,omitempty"`
}

// TokenPrediction: top-k 候选的只读展示视图。
type TokenPrediction struct {
	Token       string  `json:"token"`
	Probability float64 `json:"probability"`
}

// SemanticCluster: 一次语义熵计算内的等价候选组（临时对象）。
type SemanticCluster struct {
	Representative string    `json:"representative"`
	Members        []TokenID `json:"members"`
	Prob           float64   `json:"prob"`
}

// TokenMetrics: 单步不确定性度量（自然对数，单位 nat）。构造后不再修改。
// 不变量：0 ≤ SemanticEntropy ≤ RestrictedEntropy，且 SemanticEntropy ≤ RawEntropy。
type TokenMetrics struct {
	Step int `json:"step"`
	// RawEntropy: 全词表分布上的 Shannon 熵。
	RawEntropy float64 `json:"raw_entropy"`
	// SemanticEntropy: top-k 语义簇（重新归一化）上的熵。
	SemanticEntropy float64 `json:"semantic_entropy"`
	// RestrictedEntropy: top-k 单例（重新归一化）上的熵，即不做聚类时的对照值。
	RestrictedEntropy float64           `json:"restricted_entropy"`
	Predictions       []TokenPrediction `json:"token_predictions"`
	Clusters          []SemanticCluster `json:"clusters,omitempty"`
	HighUncertainty   bool              `json:"high_uncertainty,omitempty"`
	Degenerate        bool              `json:"degenerate,omitempty"`
}

// Summary: 整段生成的聚合统计；退化步不参与均值/最大值。
type Summary struct {
	Steps                int     `json:"steps"`
	ScoredSteps          int     `json:"scored_steps"`
	DegenerateSteps      int     `json:"degenerate_steps"`
	MeanRawEntropy       float64 `json:"mean_raw_entropy"`
	MaxRawEntropy        float64 `json:"max_raw_entropy"`
	MaxRawStep           int     `json:"max_raw_step"`
	MeanSemanticEntropy  float64 `json:"mean_semantic_entropy"`
	MaxSemanticEntropy   float64 `json:"max_semantic_entropy"`
	HighUncertaintySteps []int   `json:"high_uncertainty_steps,omitempty"`
}

// GenerationResult: 一次生成的最终分析结果。构造后只读。
type GenerationResult struct {
	ID           string         `json:"id"`
	Text         string         `json:"text"`
	TokenMetrics []TokenMetrics `json:"token_metrics"`
	Summary      Summary        `json:"summary"`
	Insight      Insight        `json:"overall_insight"`
}

// GenerationOutput: 外部生成循环结束后交付的最小视图。
// Text 为空时由分析方按 Tokens 逐个解码拼接。
type GenerationOutput struct {
	Tokens []TokenID
	Text   string
}

// DecodeFunc: token id → 文本（由外部分词器提供）。
type DecodeFunc func(id TokenID) string
