// Package replay 读取离线记录的逐步分数（fixture），重放给采集钩子并完成分析。
package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"tokenscope/internal/estimator"
	"tokenscope/pkg/contract"
)

// Fixture: 一次生成的离线记录。
// Steps[i].Scores 的长度不必等于词表大小；超出词表的 id 解码为空串。
type Fixture struct {
	Vocab  []string `json:"vocab" yaml:"vocab" validate:"min=1"`
	Steps  []Step   `json:"steps" yaml:"steps" validate:"min=1,dive"`
	Tokens []int    `json:"tokens" yaml:"tokens" validate:"dive,gte=0"`
	Text   string   `json:"text,omitempty" yaml:"text,omitempty"`
}

// Step: 单个解码步的原始分数（logits 或概率）。
type Step struct {
	Scores []float32 `json:"scores" yaml:"scores" validate:"min=1"`
}

var validate = validator.New()

// Load 按扩展名解析 JSON 或 YAML（.yaml/.yml），拒绝未知字段。
func Load(path string) (Fixture, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return Parse(b, "yaml")
	default:
		return Parse(b, "json")
	}
}

// Parse 从原始字节解析 fixture；format 为 json|yaml。
func Parse(b []byte, format string) (Fixture, error) {
	var fx Fixture
	switch format {
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&fx); err != nil {
			return Fixture{}, fmt.Errorf("fixture yaml: %w: %v", contract.ErrInvalidInput, err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&fx); err != nil {
			return Fixture{}, fmt.Errorf("fixture json: %w: %v", contract.ErrInvalidInput, err)
		}
	default:
		return Fixture{}, fmt.Errorf("fixture format %q: %w", format, contract.ErrInvalidInput)
	}
	if err := validate.Struct(fx); err != nil {
		return Fixture{}, fmt.Errorf("fixture: %w: %v", contract.ErrInvalidInput, err)
	}
	return fx, nil
}

// Decode 返回基于词表的 DecodeFunc。
func (f Fixture) Decode() contract.DecodeFunc {
	return func(id contract.TokenID) string {
		if id < 0 || int(id) >= len(f.Vocab) {
			return ""
		}
		return f.Vocab[id]
	}
}

// Output 返回生成结果视图。
func (f Fixture) Output() contract.GenerationOutput {
	toks := make([]contract.TokenID, len(f.Tokens))
	for i, t := range f.Tokens {
		toks[i] = contract.TokenID(t)
	}
	return contract.GenerationOutput{Tokens: toks, Text: f.Text}
}

// Run 以新的采集钩子逐步重放分数，history 取 Tokens 的前缀，随后完成分析。
func Run(ctx context.Context, est *estimator.Estimator, f Fixture) (contract.GenerationResult, error) {
	proc := est.NewProcessor()
	out := f.Output()
	for i, st := range f.Steps {
		n := i
		if n > len(out.Tokens) {
			n = len(out.Tokens)
		}
		proc.Process(out.Tokens[:n], st.Scores)
	}
	return est.AnalyzeGeneration(ctx, out, f.Decode(), proc)
}
