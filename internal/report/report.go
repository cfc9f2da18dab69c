// Package report 将分析结果渲染为 JSON 或终端文本。
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"tokenscope/pkg/contract"
)

var (
	colorAccent = lipgloss.Color("#20B9B4")
	colorWarn   = lipgloss.Color("#F4D03F")
	colorMuted  = lipgloss.Color("#2C4A54")
	colorError  = lipgloss.Color("#E74C3C")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	warnStyle  = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(colorError)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1)
)

// Options: 文本渲染参数。
type Options struct {
	// TopN: 每步展示的预测数，默认 3。
	TopN int
}

// JSON 以缩进 JSON 写出完整结果。
func JSON(w io.Writer, res contract.GenerationResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// Text 写出逐步熵表（高不确定性步高亮）、汇总与洞察。
func Text(w io.Writer, res contract.GenerationResult, opts Options) error {
	if opts.TopN <= 0 {
		opts.TopN = 3
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("tokenscope "+res.ID) + "\n")
	if res.Text != "" {
		b.WriteString(mutedStyle.Render("text: ") + strconv.Quote(res.Text) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%-5s %-8s %-8s %-8s  %s", "step", "raw", "sem", "top-k", "predictions")) + "\n")
	for _, m := range res.TokenMetrics {
		b.WriteString(stepLine(m, opts.TopN) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(summaryBlock(res.Summary)) + "\n")
	b.WriteString(insightBlock(res.Insight) + "\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func stepLine(m contract.TokenMetrics, topN int) string {
	if m.Degenerate {
		return errStyle.Render(fmt.Sprintf("%-5d %s", m.Step, "degenerate"))
	}
	preds := m.Predictions
	if len(preds) > topN {
		preds = preds[:topN]
	}
	parts := make([]string, len(preds))
	for i, p := range preds {
		parts[i] = fmt.Sprintf("%s %.2f", strconv.Quote(p.Token), p.Probability)
	}
	line := fmt.Sprintf("%-5d %-8.3f %-8.3f %-8.3f  %s", m.Step, m.RawEntropy, m.SemanticEntropy, m.RestrictedEntropy, strings.Join(parts, ", "))
	if m.HighUncertainty {
		return warnStyle.Render(line + "  !")
	}
	return line
}

func summaryBlock(s contract.Summary) string {
	lines := []string{
		fmt.Sprintf("steps %d (scored %d, degenerate %d)", s.Steps, s.ScoredSteps, s.DegenerateSteps),
		fmt.Sprintf("mean raw %.3f  mean semantic %.3f", s.MeanRawEntropy, s.MeanSemanticEntropy),
	}
	if s.MaxRawStep >= 0 {
		lines = append(lines, fmt.Sprintf("max raw %.3f at step %d", s.MaxRawEntropy, s.MaxRawStep))
	}
	if len(s.HighUncertaintySteps) > 0 {
		steps := make([]string, len(s.HighUncertaintySteps))
		for i, st := range s.HighUncertaintySteps {
			steps[i] = strconv.Itoa(st)
		}
		lines = append(lines, "high uncertainty: "+strings.Join(steps, ","))
	}
	return strings.Join(lines, "\n")
}

func insightBlock(in contract.Insight) string {
	if !in.Available() {
		msg := "insight unavailable: " + string(in.Reason)
		if in.Detail != "" {
			msg += " (" + in.Detail + ")"
		}
		return mutedStyle.Render(msg)
	}
	return titleStyle.Render("insight") + "\n" + in.Explanation
}
