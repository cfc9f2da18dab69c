package estimator

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"tokenscope/internal/capture"
	"tokenscope/pkg/contract"
)

func vocabDecode(vocab []string) contract.DecodeFunc {
	return func(id contract.TokenID) string {
		if int(id) < 0 || int(id) >= len(vocab) {
			return ""
		}
		return vocab[id]
	}
}

func mockConfig() Config {
	cfg := DefaultConfig()
	cfg.InsightModel = "mock:offline"
	return cfg
}

// 场景 1：一步 one-hot → 熵为 0，唯一预测概率 1
func TestScenarioOneHot(t *testing.T) {
	e, err := New(mockConfig())
	require.NoError(t, err)
	vocab := []string{"A", "B", "C"}
	p := e.NewProcessor()
	p.Process(nil, []float32{1, 0, 0})
	p.Process([]contract.TokenID{0}, []float32{0.5, 0.3, 0.2})
	p.Process([]contract.TokenID{0, 1}, []float32{2, 1, 0})

	res, err := e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{Tokens: []contract.TokenID{0, 1, 2}}, vocabDecode(vocab), p)
	require.NoError(t, err)
	require.Len(t, res.TokenMetrics, 3)
	m0 := res.TokenMetrics[0]
	assert.Equal(t, 0.0, m0.RawEntropy)
	assert.Equal(t, 0.0, m0.SemanticEntropy)
	require.Len(t, m0.Predictions, 1)
	assert.Equal(t, "A", m0.Predictions[0].Token)
	assert.InDelta(t, 1.0, m0.Predictions[0].Probability, 1e-9)
	assert.Equal(t, "ABC", res.Text)
	assert.NotEmpty(t, res.ID)
	for i, m := range res.TokenMetrics {
		assert.Equal(t, i, m.Step)
	}
}

// 场景 2：大小写不敏感聚类
func TestScenarioParisClusters(t *testing.T) {
	e, err := New(mockConfig())
	require.NoError(t, err)
	vocab := []string{"Paris", "paris", "London", "london", "Berlin"}
	p := e.NewProcessor()
	p.Process(nil, []float32{0.4, 0.3, 0.2, 0.05, 0.05})

	res, err := e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{Text: "Paris"}, vocabDecode(vocab), p)
	require.NoError(t, err)
	m := res.TokenMetrics[0]
	require.Len(t, m.Clusters, 3)
	assert.InDelta(t, 0.7, m.Clusters[0].Prob, 1e-6)
	assert.InDelta(t, 0.25, m.Clusters[1].Prob, 1e-6)
	assert.InDelta(t, 0.05, m.Clusters[2].Prob, 1e-6)
	assert.Less(t, m.SemanticEntropy, m.RawEntropy)
	assert.LessOrEqual(t, m.SemanticEntropy, m.RestrictedEntropy)
	assert.True(t, m.HighUncertainty, "raw entropy over 5 tokens exceeds 1 nat")
	assert.Equal(t, []int{0}, res.Summary.HighUncertaintySteps)
}

func TestExactPolicySingletonsEqualRestricted(t *testing.T) {
	cfg := mockConfig()
	cfg.Equivalence = "exact"
	e, err := New(cfg)
	require.NoError(t, err)
	p := e.NewProcessor()
	p.Process(nil, []float32{0.4, 0.3, 0.2, 0.05, 0.05})
	res, err := e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{Text: "x"}, vocabDecode([]string{"Paris", "paris", "London", "london", "Berlin"}), p)
	require.NoError(t, err)
	m := res.TokenMetrics[0]
	assert.Len(t, m.Clusters, 5)
	assert.InDelta(t, m.RestrictedEntropy, m.SemanticEntropy, 1e-12)
}

// 场景 4：远程后端缺凭据 → 构造期配置错误
func TestScenarioMissingCredential(t *testing.T) {
	for _, id := range []string{"openai:gpt-4o-mini", "anthropic:claude-3-5-haiku", "gemini:gemini-2.5-flash", "together:x", "openrouter:x"} {
		cfg := DefaultConfig()
		cfg.InsightModel = id
		_, err := New(cfg)
		assert.ErrorIs(t, err, contract.ErrConfiguration, id)
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"top_k_zero", func(c *Config) { c.TopK = 0 }},
		{"min_prob_one", func(c *Config) { c.MinTokenProb = 1 }},
		{"min_prob_negative", func(c *Config) { c.MinTokenProb = -0.1 }},
		{"min_prob_nan", func(c *Config) { c.MinTokenProb = math.NaN() }},
		{"threshold_negative", func(c *Config) { c.HighEntropyThreshold = -1 }},
		{"unknown_provider", func(c *Config) { c.InsightModel = "nope:x" }},
		{"bare_without_local", func(c *Config) { c.InsightModel = "qwen2.5" }},
		{"unknown_equivalence", func(c *Config) { c.Equivalence = "fuzzy" }},
		{"embedding_without_embedder", func(c *Config) { c.Equivalence = "embedding" }},
		{"provider_option_unknown_field", func(c *Config) {
			c.InsightModel = "mock:x"
			c.ProviderOptions = json.RawMessage(`{"nope":true}`)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mut(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, contract.ErrConfiguration)
		})
	}
}

// 场景 5：空缓冲 → EmptyCapture
func TestScenarioEmptyCapture(t *testing.T) {
	e, err := New(DefaultConfig())
	require.NoError(t, err)
	res, err := e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{}, vocabDecode(nil), e.NewProcessor())
	require.ErrorIs(t, err, contract.ErrEmptyCapture)
	assert.Empty(t, res.TokenMetrics)
	assert.Empty(t, res.ID)
}

func TestAnalyzeInvalidArgs(t *testing.T) {
	e, err := New(DefaultConfig())
	require.NoError(t, err)
	_, err = e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{}, nil, e.NewProcessor())
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{}, vocabDecode(nil), nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

// 洞察不可用时 token_metrics 仍完整
func TestInsightUnavailableKeepsMetrics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InsightModel = "mock:broken"
	cfg.ProviderOptions = json.RawMessage(`{"response_mode":"raw","text":"definitely not json"}`)
	e, err := New(cfg)
	require.NoError(t, err)
	p := e.NewProcessor()
	for i := 0; i < 4; i++ {
		p.Process(nil, []float32{0.6, 0.4})
	}
	res, err := e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{Text: "abab"}, vocabDecode([]string{"a", "b"}), p)
	require.NoError(t, err)
	assert.Equal(t, contract.InsightUnavailable, res.Insight.Status)
	assert.Equal(t, contract.ReasonMalformed, res.Insight.Reason)
	require.Len(t, res.TokenMetrics, 4)
	for _, m := range res.TokenMetrics {
		assert.Greater(t, m.RawEntropy, 0.0)
		assert.Len(t, m.Predictions, 2)
	}
}

// 场景 3 经由门面：首个调用失败（500），重试一次后成功
func TestFlakyBackendRetriedOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InsightModel = "flaky:drill"
	e, err := New(cfg)
	require.NoError(t, err)
	p := e.NewProcessor()
	for i := 0; i < 20; i++ {
		p.Process(nil, []float32{1, 2, 3})
	}
	res, err := e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{Text: "t"}, vocabDecode([]string{"x", "y", "z"}), p)
	require.NoError(t, err)
	require.True(t, res.Insight.Available(), res.Insight.Detail)
	assert.Equal(t, 2, res.Insight.Attempts)
	assert.Len(t, res.TokenMetrics, 20)
}

func TestInsightDisabled(t *testing.T) {
	e, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "", e.InsightProvider())
	p := e.NewProcessor()
	p.Process(nil, []float32{0.5, 0.5})
	res, err := e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{Text: "a"}, vocabDecode([]string{"a", "b"}), p)
	require.NoError(t, err)
	assert.Equal(t, contract.ReasonDisabled, res.Insight.Reason)
	assert.InDelta(t, math.Log(2), res.TokenMetrics[0].RawEntropy, 1e-9)
}

type echoLocal struct{}

func (echoLocal) Generate(_ context.Context, prompt string, _ int) (string, error) {
	return `{"explanation":"local model saw ` + string(rune('0'+len(prompt)%10)) + `"}`, nil
}

func TestBareIdentifierUsesLocalModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InsightModel = "qwen2.5-0.5b"
	e, err := New(cfg, WithLocalModel(echoLocal{}))
	require.NoError(t, err)
	assert.Equal(t, "local", e.InsightProvider())
	p := e.NewProcessor()
	p.Process(nil, []float32{0.9, 0.1})
	res, err := e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{Text: "a"}, vocabDecode([]string{"a", "b"}), p)
	require.NoError(t, err)
	require.True(t, res.Insight.Available())
	assert.Contains(t, res.Insight.Explanation, "local model saw")
}

func TestDegenerateAndPartialBuffer(t *testing.T) {
	e, err := New(DefaultConfig())
	require.NoError(t, err)
	p := e.NewProcessor()
	nan := float32(math.NaN())
	p.Process(nil, []float32{0.5, 0.5})
	p.Process(nil, []float32{nan, nan})
	// 生成中途终止：只有前缀两步
	res, err := e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{Tokens: []contract.TokenID{0, 1, 0, 1}}, vocabDecode([]string{"a", "b"}), p)
	require.NoError(t, err)
	require.Len(t, res.TokenMetrics, 2)
	assert.True(t, res.TokenMetrics[1].Degenerate)
	assert.Empty(t, res.TokenMetrics[1].Predictions)
	assert.Equal(t, 1, res.Summary.DegenerateSteps)
	assert.Equal(t, 1, res.Summary.ScoredSteps)
	assert.InDelta(t, math.Log(2), res.Summary.MeanRawEntropy, 1e-9)
}

func TestOverlappingAnalysisIsBusy(t *testing.T) {
	e, err := New(DefaultConfig())
	require.NoError(t, err)
	p := e.NewProcessor()
	p.Process(nil, []float32{1, 0})
	_, err = p.Begin()
	require.NoError(t, err)
	// 同一钩子重叠分析属使用错误
	_, err = e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{}, vocabDecode([]string{"a", "b"}), p)
	assert.ErrorIs(t, err, contract.ErrProcessorBusy)
}

func TestConcurrentIndependentGenerations(t *testing.T) {
	e, err := New(mockConfig())
	require.NoError(t, err)
	vocab := []string{"a", "b", "c"}
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p := e.NewProcessor()
			for i := 0; i <= n; i++ {
				p.Process(nil, []float32{float32(i), 1, 0})
			}
			res, err := e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{Text: "x"}, vocabDecode(vocab), p)
			if err == nil && len(res.TokenMetrics) != n+1 {
				err = assert.AnError
			}
			errs <- err
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestSnapshotsNotMutatedByAnalysis(t *testing.T) {
	e, err := New(DefaultConfig())
	require.NoError(t, err)
	p := e.NewProcessor()
	p.Process(nil, []float32{0.7, 0.3})
	_, err = e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{Text: "a"}, vocabDecode([]string{"a", "b"}), p)
	require.NoError(t, err)
	for _, c := range p.Snapshots()[0].TopK {
		assert.Empty(t, c.Text, "buffered snapshot must stay undecoded")
	}
}

func TestDecodePanicReleasesProcessor(t *testing.T) {
	e, err := New(DefaultConfig())
	require.NoError(t, err)
	p := e.NewProcessor()
	p.Process(nil, []float32{0.6, 0.4})

	boom := func(contract.TokenID) string { panic("decode exploded") }
	assert.PanicsWithValue(t, "decode exploded", func() {
		_, _ = e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{}, boom, p)
	})
	assert.Equal(t, capture.PhaseFailed, p.Phase())

	res, err := e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{Text: "a"}, vocabDecode([]string{"a", "b"}), p)
	require.NoError(t, err, "钩子不应卡在 analyzing")
	require.Len(t, res.TokenMetrics, 1)
	assert.Equal(t, capture.PhaseComplete, p.Phase())
}

func TestTracerProviderReceivesNestedSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	e, err := New(mockConfig(), WithTracerProvider(tp))
	require.NoError(t, err)
	p := e.NewProcessor()
	p.Process(nil, []float32{0.5, 0.5})
	res, err := e.AnalyzeGeneration(context.Background(), contract.GenerationOutput{Text: "a"}, vocabDecode([]string{"a", "b"}), p)
	require.NoError(t, err)
	require.True(t, res.Insight.Available())

	spans := rec.Ended()
	require.Len(t, spans, 2)
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		byName[s.Name()] = s
	}
	outer, ok := byName["estimator.AnalyzeGeneration"]
	require.True(t, ok)
	inner, ok := byName["insight.Generate"]
	require.True(t, ok)
	assert.Equal(t, outer.SpanContext().SpanID(), inner.Parent().SpanID())
	assert.Equal(t, codes.Ok, inner.Status().Code)
}
