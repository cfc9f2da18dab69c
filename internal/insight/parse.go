package insight

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"tokenscope/pkg/contract"
)

// extractObject 返回文本中第一个可解析的顶层 JSON 对象（容忍 ```json 代码块与前后说明文字）。
func extractObject(text string) (string, map[string]any, error) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > start {
			cand := text[start : end+1]
			var m map[string]any
			if json.Unmarshal([]byte(cand), &m) == nil {
				return cand, m, nil
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", nil, fmt.Errorf("no JSON object in response: %w", contract.ErrResponseInvalid)
}

// matchBrace 返回与 text[start]=='{' 匹配的右括号位置（跳过字符串内的括号）；无匹配返回 -1。
func matchBrace(text string, start int) int {
	depth := 0
	inStr, esc := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Parse 校验最小字段集（explanation 为非空字符串），其余字段原样透传。
func Parse(text string) (contract.Insight, error) {
	obj, fields, err := extractObject(text)
	if err != nil {
		return contract.Insight{}, err
	}
	exp, ok := fields["explanation"].(string)
	if !ok || strings.TrimSpace(exp) == "" {
		return contract.Insight{}, fmt.Errorf("missing explanation: %w", contract.ErrResponseInvalid)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(obj)); err != nil {
		return contract.Insight{}, fmt.Errorf("compact: %v: %w", err, contract.ErrResponseInvalid)
	}
	return contract.Insight{
		Status:      contract.InsightOK,
		Explanation: strings.TrimSpace(exp),
		JSON:        buf.String(),
		Fields:      fields,
	}, nil
}
