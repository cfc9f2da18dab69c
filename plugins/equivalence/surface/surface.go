package surface

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"tokenscope/pkg/contract"
)

// Options: 表层形式归一化策略。
type Options struct {
	// StripPunct: 去除首尾标点（"Paris," ~ "Paris"）。
	StripPunct bool `json:"strip_punct"`
	// KeepSubwordMarker: 保留子词前缀标记（Ġ / ▁）；默认去除。
	KeepSubwordMarker bool `json:"keep_subword_marker"`
	// CaseSensitive: 关闭大小写折叠。
	CaseSensitive bool `json:"case_sensitive"`
}

// Policy: NFKC + 大小写折叠 + 空白折叠的等价判定。
type Policy struct {
	opts Options
	fold cases.Caser
}

// New 从原样 JSON 选项构造。
func New(raw json.RawMessage) (*Policy, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("surface options: %w", err)
		}
	}
	return &Policy{opts: o, fold: cases.Fold()}, nil
}

// Normalize 返回用于比较的规范形式。
func (p *Policy) Normalize(s string) string {
	s = norm.NFKC.String(s)
	if !p.opts.KeepSubwordMarker {
		s = strings.TrimLeft(s, "Ġ▁")
	}
	s = strings.Join(strings.Fields(s), " ")
	if p.opts.StripPunct {
		s = strings.TrimFunc(s, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSpace(r) })
	}
	if !p.opts.CaseSensitive {
		s = p.fold.String(s)
	}
	return s
}

// Equivalent 实现 contract.Equivalence。
// 归一化后为空串的候选（纯空白/标点）只与原文完全相同者等价，避免所有空白 token 被并为一簇。
func (p *Policy) Equivalent(a, b string) bool {
	if a == b {
		return true
	}
	na, nb := p.Normalize(a), p.Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb
}

var _ contract.Equivalence = (*Policy)(nil)
