package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"tokenscope/pkg/contract"
)

// Options: 向量相似度等价策略。
type Options struct {
	// Threshold: 余弦相似度阈值，默认 0.9。
	Threshold float64 `json:"threshold"`
	// TimeoutMS: 单次 Embed 超时（毫秒），默认 2000。
	TimeoutMS int `json:"timeout_ms"`
}

// Policy: 余弦相似度 ≥ 阈值视为等价；Embed 失败时退化为逐字节相等。
// 向量按文本缓存，同一 Policy 可跨步复用。
type Policy struct {
	emb       contract.Embedder
	threshold float64
	timeout   time.Duration

	mu    sync.Mutex
	cache map[string][]float32
}

// New 构造策略；emb 不可为空。
func New(raw json.RawMessage, emb contract.Embedder) (*Policy, error) {
	if emb == nil {
		return nil, fmt.Errorf("embedding: %w: embedder required", contract.ErrConfiguration)
	}
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("embedding options: %w", err)
		}
	}
	if o.Threshold <= 0 {
		o.Threshold = 0.9
	}
	if o.Threshold > 1 {
		return nil, fmt.Errorf("embedding: %w: threshold must be <= 1", contract.ErrConfiguration)
	}
	if o.TimeoutMS <= 0 {
		o.TimeoutMS = 2000
	}
	return &Policy{
		emb:       emb,
		threshold: o.Threshold,
		timeout:   time.Duration(o.TimeoutMS) * time.Millisecond,
		cache:     make(map[string][]float32),
	}, nil
}

// Equivalent 实现 contract.Equivalence。
func (p *Policy) Equivalent(a, b string) bool {
	return p.EquivalentContext(context.Background(), a, b)
}

// EquivalentContext 实现 contract.ContextEquivalence：Embed 调用受 ctx 与单次超时共同约束。
func (p *Policy) EquivalentContext(ctx context.Context, a, b string) bool {
	if a == b {
		return true
	}
	va, err := p.vector(ctx, a)
	if err != nil {
		return false
	}
	vb, err := p.vector(ctx, b)
	if err != nil {
		return false
	}
	return CosineSimilarity(va, vb) >= p.threshold
}

// vector 只缓存成功结果；失败（含超时、取消）下次重新 Embed。
func (p *Policy) vector(ctx context.Context, s string) ([]float32, error) {
	p.mu.Lock()
	v, ok := p.cache[s]
	p.mu.Unlock()
	if ok {
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	v, err := p.emb.Embed(ctx, s)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, errors.New("embedding: empty vector")
	}
	p.mu.Lock()
	p.cache[s] = v
	p.mu.Unlock()
	return v, nil
}

// CosineSimilarity 计算余弦相似度；长度不一致或零向量返回 0。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

var _ contract.ContextEquivalence = (*Policy)(nil)
