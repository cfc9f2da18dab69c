package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"tokenscope/pkg/contract"
	"tokenscope/plugins/backend/anthropic"
	"tokenscope/plugins/backend/flaky"
	"tokenscope/plugins/backend/gemini"
	"tokenscope/plugins/backend/local"
	"tokenscope/plugins/backend/mock"
	oai "tokenscope/plugins/backend/openai"
	"tokenscope/plugins/equivalence/embedding"
	"tokenscope/plugins/equivalence/surface"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// strictRaw: 按目标选项类型严格校验后原样返回（各插件自行解码）。
func strictRaw[T any](raw json.RawMessage) (json.RawMessage, error) {
	var opts T
	if err := strictUnmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrConfiguration, err)
	}
	return raw, nil
}

// Deps: 工厂可用的进程内协作者（显式传入，不读环境）。
type Deps struct {
	Local      contract.LocalModel
	Embedder   contract.Embedder
	HTTPClient *http.Client
}

// LocalProvider: 裸标识符对应的提供方。
const LocalProvider = "local"

// ParseModelID 解析 "{provider}:{model}"（按第一个冒号切分，model 可含 / 与 :）；
// 无冒号时视为本地模型名，provider=LocalProvider。
func ParseModelID(id string) (provider, model string) {
	id = strings.TrimSpace(id)
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return strings.ToLower(strings.TrimSpace(id[:i])), strings.TrimSpace(id[i+1:])
	}
	return LocalProvider, id
}

// NewBackend 工厂签名：模型名、显式凭据、原样 JSON Options 与依赖。
type NewBackend func(model, apiKey string, raw json.RawMessage, deps Deps) (contract.InsightBackend, error)

func openaiCompatible(provider string) NewBackend {
	return func(model, apiKey string, raw json.RawMessage, deps Deps) (contract.InsightBackend, error) {
		raw, err := strictRaw[oai.Options](raw)
		if err != nil {
			return nil, err
		}
		return oai.New(provider, model, apiKey, raw, deps.HTTPClient)
	}
}

// Backend 工厂注册表（显式、零反射）。
var Backend = map[string]NewBackend{
	"openai":     openaiCompatible("openai"),
	"together":   openaiCompatible("together"),
	"openrouter": openaiCompatible("openrouter"),
	"ollama":     openaiCompatible("ollama"),
	"anthropic": func(model, apiKey string, raw json.RawMessage, deps Deps) (contract.InsightBackend, error) {
		raw, err := strictRaw[anthropic.Options](raw)
		if err != nil {
			return nil, err
		}
		return anthropic.New(model, apiKey, raw, deps.HTTPClient)
	},
	"gemini": func(model, apiKey string, raw json.RawMessage, deps Deps) (contract.InsightBackend, error) {
		raw, err := strictRaw[gemini.Options](raw)
		if err != nil {
			return nil, err
		}
		return gemini.New(model, apiKey, raw, deps.HTTPClient)
	},
	// local: 复用生成文本的进程内模型
	LocalProvider: func(_ string, _ string, raw json.RawMessage, deps Deps) (contract.InsightBackend, error) {
		raw, err := strictRaw[local.Options](raw)
		if err != nil {
			return nil, err
		}
		return local.New(deps.Local, raw)
	},
	"mock": func(_ string, _ string, raw json.RawMessage, _ Deps) (contract.InsightBackend, error) {
		raw, err := strictRaw[mock.Options](raw)
		if err != nil {
			return nil, err
		}
		return mock.New(raw)
	},
	"flaky": func(_ string, _ string, raw json.RawMessage, _ Deps) (contract.InsightBackend, error) {
		raw, err := strictRaw[flaky.Options](raw)
		if err != nil {
			return nil, err
		}
		return flaky.New(raw)
	},
}

// ResolveBackend 解析标识符并构造后端；未知提供方为配置错误。
func ResolveBackend(id, apiKey string, raw json.RawMessage, deps Deps) (contract.InsightBackend, string, error) {
	provider, model := ParseModelID(id)
	if provider == "" {
		return nil, "", fmt.Errorf("%w: empty provider in %q", contract.ErrConfiguration, id)
	}
	f, ok := Backend[provider]
	if !ok {
		return nil, provider, fmt.Errorf("%w: unknown insight provider %q", contract.ErrConfiguration, provider)
	}
	b, err := f(model, apiKey, raw, deps)
	if err != nil {
		return nil, provider, err
	}
	return b, provider, nil
}

// NewEquivalence 工厂签名：接收原样 JSON Options。
type NewEquivalence func(raw json.RawMessage, deps Deps) (contract.Equivalence, error)

// DefaultEquivalence: 未配置时采用的等价策略。
const DefaultEquivalence = "surface"

// Equivalence 工厂注册表。
var Equivalence = map[string]NewEquivalence{
	// surface: NFKC + 大小写折叠 + 空白/子词标记规整
	"surface": func(raw json.RawMessage, _ Deps) (contract.Equivalence, error) {
		var opts surface.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("%w: %v", contract.ErrConfiguration, err)
		}
		return surface.New(raw)
	},
	// exact: 逐字节相等（每个候选自成一簇）
	"exact": func(raw json.RawMessage, _ Deps) (contract.Equivalence, error) {
		var opts struct{}
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("%w: %v", contract.ErrConfiguration, err)
		}
		return contract.EquivalenceFunc(func(a, b string) bool { return a == b }), nil
	},
	// embedding: 调用方提供的 Embedder + 余弦阈值
	"embedding": func(raw json.RawMessage, deps Deps) (contract.Equivalence, error) {
		var opts embedding.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("%w: %v", contract.ErrConfiguration, err)
		}
		return embedding.New(raw, deps.Embedder)
	},
}
