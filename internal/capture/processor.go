// Package capture 提供挂在外部解码循环上的分布采集器。
// 采集器只观察：原样返回分数向量，不影响采样结果。
package capture

import (
	"fmt"
	"sync"

	"tokenscope/internal/diag"
	"tokenscope/pkg/contract"
)

// Phase: 单次生成的生命周期阶段。
type Phase int32

const (
	PhaseConfigured Phase = iota
	PhaseCapturing
	PhaseAnalyzing
	PhaseComplete
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseConfigured:
		return "configured"
	case PhaseCapturing:
		return "capturing"
	case PhaseAnalyzing:
		return "analyzing"
	case PhaseComplete:
		return "complete"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Processor 实现 contract.LogitsProcessor。
// 每个实例独占自己的缓冲，只服务一次生成；不支持跨重叠生成复用同一实例。
type Processor struct {
	topK    int
	minProb float64

	mu         sync.Mutex
	buf        []contract.StepSnapshot
	phase      Phase
	degenerate int
}

// New 构造采集器。参数合法性由上层（estimator）在构造期校验。
func New(topK int, minProb float64) *Processor {
	return &Processor{topK: topK, minProb: minProb}
}

// Process 记录当前步的分布快照并原样返回 scores。
// 无有限值的向量记为退化步（TopK 为空），不中断采集。
func (p *Processor) Process(history []contract.TokenID, scores []float32) []float32 {
	dist, ok := Normalize(scores)
	var snap contract.StepSnapshot
	if ok {
		snap = contract.StepSnapshot{Dist: dist, TopK: SelectTopK(dist, p.topK, p.minProb)}
	} else {
		snap = contract.StepSnapshot{Degenerate: true}
	}

	p.mu.Lock()
	snap.Step = len(p.buf)
	p.buf = append(p.buf, snap)
	if !ok {
		p.degenerate++
	}
	if p.phase == PhaseConfigured {
		p.phase = PhaseCapturing
	}
	p.mu.Unlock()
	if !ok {
		diag.IncError("capture", string(diag.Classify(contract.ErrCaptureDegenerate)))
	}
	return scores
}

// Len 返回已记录的步数。
func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Degenerate 返回退化步数量。
func (p *Processor) Degenerate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degenerate
}

// Phase 返回当前阶段。
func (p *Processor) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Snapshots 返回缓冲的浅拷贝（快照本身只读）。
func (p *Processor) Snapshots() []contract.StepSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]contract.StepSnapshot, len(p.buf))
	copy(out, p.buf)
	return out
}

// Begin 进入分析阶段并返回缓冲快照。
//   - 已在分析中：ErrProcessorBusy（阶段不变）；
//   - 零步：ErrEmptyCapture，阶段置为 failed。
func (p *Processor) Begin() ([]contract.StepSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase == PhaseAnalyzing {
		return nil, contract.ErrProcessorBusy
	}
	if len(p.buf) == 0 {
		p.phase = PhaseFailed
		return nil, contract.ErrEmptyCapture
	}
	p.phase = PhaseAnalyzing
	out := make([]contract.StepSnapshot, len(p.buf))
	copy(out, p.buf)
	return out, nil
}

// End 结束分析阶段。
func (p *Processor) End(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ok {
		p.phase = PhaseComplete
	} else {
		p.phase = PhaseFailed
	}
}

var _ contract.LogitsProcessor = (*Processor)(nil)
