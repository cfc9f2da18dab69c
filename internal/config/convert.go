package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"tokenscope/internal/diag"
	"tokenscope/internal/estimator"
	"tokenscope/internal/rate"
	"tokenscope/pkg/contract"
	"tokenscope/pkg/registry"
)

var validate = validator.New()

// Validate 对最小必要边界做静态校验；失败包装 contract.ErrConfiguration。
// 凭据与后端选项的校验在构造后端时完成。
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", contract.ErrConfiguration, err)
	}
	if name := strings.TrimSpace(cfg.Equivalence); name != "" {
		if _, ok := registry.Equivalence[name]; !ok {
			return fmt.Errorf("%w: equivalence %q not registered", contract.ErrConfiguration, name)
		}
	}
	if id := strings.TrimSpace(cfg.Insight.Model); id != "" {
		provider, model := registry.ParseModelID(id)
		if _, ok := registry.Backend[provider]; !ok {
			return fmt.Errorf("%w: insight provider %q not registered", contract.ErrConfiguration, provider)
		}
		if model == "" {
			return fmt.Errorf("%w: insight model missing in %q", contract.ErrConfiguration, id)
		}
	}
	if _, err := parseTimeout(cfg.Insight.Timeout); err != nil {
		return err
	}
	if _, err := insightOptions(cfg.Insight); err != nil {
		return err
	}
	return nil
}

func parseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: insight.timeout %q", contract.ErrConfiguration, s)
	}
	return d, nil
}

func insightOptions(in Insight) (json.RawMessage, error) {
	if s := strings.TrimSpace(in.OptionsJSON); s != "" {
		if !json.Valid([]byte(s)) {
			return nil, fmt.Errorf("%w: insight.options_json is not valid JSON", contract.ErrConfiguration)
		}
		return json.RawMessage(s), nil
	}
	return marshalMap(in.Options)
}

func marshalMap(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: options: %v", contract.ErrConfiguration, err)
	}
	return b, nil
}

// ToEstimator 校验并转换为 estimator.Config。
func ToEstimator(cfg Config) (estimator.Config, error) {
	if err := Validate(cfg); err != nil {
		return estimator.Config{}, err
	}
	timeout, _ := parseTimeout(cfg.Insight.Timeout)
	provOpts, _ := insightOptions(cfg.Insight)
	eqOpts, err := marshalMap(cfg.EquivalenceOptions)
	if err != nil {
		return estimator.Config{}, err
	}
	return estimator.Config{
		TopK:                 cfg.TopK,
		MinTokenProb:         cfg.MinTokenProb,
		InsightModel:         strings.TrimSpace(cfg.Insight.Model),
		InsightAPIKey:        cfg.Insight.APIKey,
		ProviderOptions:      provOpts,
		HighEntropyThreshold: cfg.HighEntropyThreshold,
		Equivalence:          strings.TrimSpace(cfg.Equivalence),
		EquivalenceOptions:   eqOpts,
		InsightTimeout:       timeout,
		MaxPromptSteps:       cfg.Insight.MaxPromptSteps,
		PromptTopN:           cfg.Insight.PromptTopN,
		Limits: rate.Limits{
			RPM:             cfg.Insight.Limits.RPM,
			TPM:             cfg.Insight.Limits.TPM,
			MaxTokensPerReq: cfg.Insight.Limits.MaxTokensPerReq,
		},
	}, nil
}

// LoggerOptions 映射日志配置。
func LoggerOptions(cfg Config) diag.Options {
	return diag.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Dir:      cfg.Logging.Dir,
		MaxBytes: cfg.Logging.MaxBytes,
	}
}
