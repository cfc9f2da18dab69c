package insight

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"tokenscope/pkg/contract"
)

// Input: 一次整段生成的聚合数据。
type Input struct {
	Text    string
	Metrics []contract.TokenMetrics
	Summary contract.Summary
}

const systemText = `You analyse the uncertainty of a language model's generation.
You receive per-step entropy statistics in nats: raw entropy over the full vocabulary and semantic entropy over clusters of equivalent top candidates.
Reply with exactly one JSON object and nothing else, shaped as:
{"explanation": string, "scores": {"overall_confidence": number in [0,1]}, "uncertainty_analysis": {"high_uncertainty_steps": [int], "patterns": string}}
The "explanation" field is required and must be a non-empty string.`

var userTmpl = template.Must(template.New("user").Funcs(template.FuncMap{
	"f":     func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) },
	"quote": strconv.Quote,
	"ints":  joinInts,
}).Parse(`Generated text:
{{quote .Text}}

Statistics ({{.Summary.Steps}} steps, {{.Summary.ScoredSteps}} scored, {{.Summary.DegenerateSteps}} degenerate):
- mean raw entropy: {{f .Summary.MeanRawEntropy}}
- max raw entropy: {{f .Summary.MaxRawEntropy}}{{if ge .Summary.MaxRawStep 0}} (step {{.Summary.MaxRawStep}}){{end}}
- mean semantic entropy: {{f .Summary.MeanSemanticEntropy}}
- max semantic entropy: {{f .Summary.MaxSemanticEntropy}}
- high-uncertainty steps: {{if .Summary.HighUncertaintySteps}}{{ints .Summary.HighUncertaintySteps}}{{else}}none{{end}}

Per-step top predictions{{if .Truncated}} ({{len .Steps}} most uncertain of {{.Summary.Steps}} steps){{end}}:
{{range .Steps}}step {{.Step}}: raw={{f .RawEntropy}} semantic={{f .SemanticEntropy}}{{if .Degenerate}} degenerate{{else}} |{{range .Predictions}} {{quote .Token}}={{f .Probability}}{{end}}{{end}}
{{end}}`))

type promptView struct {
	Text      string
	Summary   contract.Summary
	Steps     []contract.TokenMetrics
	Truncated bool
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ", ")
}

// selectSteps 限制写入提示词的步数与每步候选数：
// 超过 maxSteps 时保留原始熵最高的 maxSteps 步，并按步序输出。
func selectSteps(ms []contract.TokenMetrics, maxSteps, topN int) ([]contract.TokenMetrics, bool) {
	picked := ms
	truncated := false
	if maxSteps > 0 && len(ms) > maxSteps {
		idx := make([]int, len(ms))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return ms[idx[a]].RawEntropy > ms[idx[b]].RawEntropy })
		idx = idx[:maxSteps]
		sort.Ints(idx)
		picked = make([]contract.TokenMetrics, 0, maxSteps)
		for _, i := range idx {
			picked = append(picked, ms[i])
		}
		truncated = true
	}
	out := make([]contract.TokenMetrics, len(picked))
	for i, m := range picked {
		if topN > 0 && len(m.Predictions) > topN {
			m.Predictions = m.Predictions[:topN]
		}
		out[i] = m
	}
	return out, truncated
}

// BuildPrompt 构造一次聚合请求（system + user）。
func BuildPrompt(in Input, maxSteps, topN int) (contract.ChatPrompt, error) {
	steps, truncated := selectSteps(in.Metrics, maxSteps, topN)
	var sb strings.Builder
	if err := userTmpl.Execute(&sb, promptView{Text: in.Text, Summary: in.Summary, Steps: steps, Truncated: truncated}); err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}
	return contract.ChatPrompt{
		{Role: "system", Content: systemText},
		{Role: "user", Content: sb.String()},
	}, nil
}
