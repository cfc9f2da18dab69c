package stress

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"
	"time"

	"tokenscope/internal/estimator"
	"tokenscope/internal/replay"
	"tokenscope/pkg/contract"
)

// synthFixture 构造大词表随机 logits 的 fixture（固定种子，结果可复现）。
func synthFixture(seed int64, vocab, steps int) replay.Fixture {
	r := rand.New(rand.NewSource(seed))
	fx := replay.Fixture{Vocab: make([]string, vocab)}
	for i := range fx.Vocab {
		// 制造大小写变体，使聚类有事可做
		if i%2 == 0 {
			fx.Vocab[i] = fmt.Sprintf("tok%d", i/2)
		} else {
			fx.Vocab[i] = fmt.Sprintf("TOK%d", i/2)
		}
	}
	for s := 0; s < steps; s++ {
		scores := make([]float32, vocab)
		for i := range scores {
			scores[i] = float32(r.NormFloat64() * 3)
		}
		fx.Steps = append(fx.Steps, replay.Step{Scores: scores})
		fx.Tokens = append(fx.Tokens, r.Intn(vocab))
	}
	return fx
}

// checkInvariants 校验每步的熵关系。
func checkInvariants(t *testing.T, res contract.GenerationResult, steps, vocab int) {
	t.Helper()
	if len(res.TokenMetrics) != steps {
		t.Fatalf("metrics=%d want %d", len(res.TokenMetrics), steps)
	}
	for i, m := range res.TokenMetrics {
		if m.Step != i {
			t.Fatalf("step order broken at %d: %d", i, m.Step)
		}
		if m.SemanticEntropy < 0 || m.SemanticEntropy > m.RestrictedEntropy+1e-12 || m.SemanticEntropy > m.RawEntropy+1e-12 {
			t.Fatalf("step %d: raw=%v restricted=%v semantic=%v", i, m.RawEntropy, m.RestrictedEntropy, m.SemanticEntropy)
		}
		if m.RawEntropy > math.Log(float64(vocab))+1e-9 {
			t.Fatalf("step %d: implausible raw entropy %v", i, m.RawEntropy)
		}
	}
}

// TestStress 在不同并发度下重放大词表生成并记录延迟统计。
func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress skipped in -short")
	}
	const (
		vocab = 32000
		steps = 64
		gens  = 16
	)
	cfg := estimator.DefaultConfig()
	cfg.TopK = 10
	cfg.InsightModel = "mock:stress"
	est, err := estimator.New(cfg)
	if err != nil {
		t.Fatalf("estimator: %v", err)
	}
	fxs := make([]replay.Fixture, gens)
	for i := range fxs {
		fxs[i] = synthFixture(int64(i+1), vocab, steps)
	}

	levels := []int{1, 4, 8, 16}
	for _, conc := range levels {
		t.Run(fmt.Sprintf("concurrency_%d", conc), func(t *testing.T) {
			const runs = 3
			latencies := make([]time.Duration, 0, runs)
			for i := 0; i < runs; i++ {
				start := time.Now()
				results, err := replay.RunAll(context.Background(), est, fxs, conc)
				dur := time.Since(start)
				if err != nil {
					t.Fatalf("run %d: %v", i, err)
				}
				for _, res := range results {
					checkInvariants(t, res, steps, vocab)
					if !res.Insight.Available() {
						t.Fatalf("insight unavailable: %s %s", res.Insight.Reason, res.Insight.Detail)
					}
				}
				latencies = append(latencies, dur)
			}
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			var total time.Duration
			for _, d := range latencies {
				total += d
			}
			avg := total / time.Duration(len(latencies))
			idx := int(math.Ceil(float64(len(latencies))*0.95)) - 1
			if idx < 0 {
				idx = 0
			}
			t.Logf("并发%d 生成%d 平均%v 95%%延迟%v", conc, gens, avg, latencies[idx])
		})
	}
}

// 相同输入重放两次结果一致（ID 除外）。
func TestDeterministicReplay(t *testing.T) {
	est, err := estimator.New(estimator.DefaultConfig())
	if err != nil {
		t.Fatalf("estimator: %v", err)
	}
	fx := synthFixture(42, 4096, 16)
	a, err := replay.Run(context.Background(), est, fx)
	if err != nil {
		t.Fatal(err)
	}
	b, err := replay.Run(context.Background(), est, fx)
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Fatalf("result ids must differ")
	}
	for i := range a.TokenMetrics {
		if a.TokenMetrics[i].RawEntropy != b.TokenMetrics[i].RawEntropy || a.TokenMetrics[i].SemanticEntropy != b.TokenMetrics[i].SemanticEntropy {
			t.Fatalf("step %d differs", i)
		}
	}
	checkInvariants(t, a, 16, 4096)
}
