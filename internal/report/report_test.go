package report

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenscope/pkg/contract"
)

func sample() contract.GenerationResult {
	return contract.GenerationResult{
		ID:   "r1",
		Text: "Paris",
		TokenMetrics: []contract.TokenMetrics{
			{
				Step: 0, RawEntropy: 1.349, SemanticEntropy: 0.766, RestrictedEntropy: 1.349, HighUncertainty: true,
				Predictions: []contract.TokenPrediction{
					{Token: "Paris", Probability: 0.4}, {Token: "paris", Probability: 0.3},
					{Token: "London", Probability: 0.2}, {Token: "london", Probability: 0.05},
				},
			},
			{Step: 1, Degenerate: true},
		},
		Summary: contract.Summary{Steps: 2, ScoredSteps: 1, DegenerateSteps: 1, MeanRawEntropy: 1.349, MaxRawEntropy: 1.349, MaxRawStep: 0, HighUncertaintySteps: []int{0}},
		Insight: contract.Insight{Status: contract.InsightOK, Explanation: "capital city ambiguity"},
	}
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, sample(), Options{}))
	out := buf.String()
	assert.Contains(t, out, "tokenscope r1")
	assert.Contains(t, out, `"Paris" 0.40`)
	assert.Contains(t, out, `"London" 0.20`)
	assert.NotContains(t, out, `"london"`, "only top 3 predictions")
	assert.Contains(t, out, "degenerate")
	assert.Contains(t, out, "high uncertainty: 0")
	assert.Contains(t, out, "capital city ambiguity")
}

func TestTextInsightUnavailable(t *testing.T) {
	res := sample()
	res.Insight = contract.Unavailable(contract.ReasonAuth, "401", 1)
	var buf bytes.Buffer
	require.NoError(t, Text(&buf, res, Options{TopN: 1}))
	assert.Contains(t, buf.String(), "insight unavailable: auth (401)")
	assert.NotContains(t, buf.String(), `"paris"`)
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, sample()))
	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "r1", got["id"])
	assert.Len(t, got["token_metrics"], 2)
	ins := got["overall_insight"].(map[string]any)
	assert.Equal(t, "ok", ins["status"])
}
