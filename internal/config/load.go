package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"tokenscope/pkg/contract"
)

// EnvPrefix: 环境变量前缀，例如 TOKENSCOPE_TOP_K、TOKENSCOPE_INSIGHT_API_KEY。
const EnvPrefix = "TOKENSCOPE"

// Defaults 返回带有安全默认值的 Config（洞察关闭）。
func Defaults() Config {
	return Config{
		TopK:                 5,
		MinTokenProb:         0,
		HighEntropyThreshold: 1.0,
		Equivalence:          "surface",
		Insight: Insight{
			Timeout:        "60s",
			MaxPromptSteps: 64,
			PromptTopN:     3,
		},
		Logging: Logging{Level: "info", Format: "console"},
	}
}

// setDefaults 为所有键登记默认值；未登记的键不会被 AutomaticEnv 覆盖。
func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("top_k", d.TopK)
	v.SetDefault("min_token_prob", d.MinTokenProb)
	v.SetDefault("high_entropy_threshold", d.HighEntropyThreshold)
	v.SetDefault("equivalence", d.Equivalence)
	v.SetDefault("insight.model", "")
	v.SetDefault("insight.api_key", "")
	v.SetDefault("insight.timeout", d.Insight.Timeout)
	v.SetDefault("insight.max_prompt_steps", d.Insight.MaxPromptSteps)
	v.SetDefault("insight.prompt_top_n", d.Insight.PromptTopN)
	v.SetDefault("insight.options_json", "")
	v.SetDefault("insight.limits.rpm", 0)
	v.SetDefault("insight.limits.tpm", 0)
	v.SetDefault("insight.limits.max_tokens_per_req", 0)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.dir", "")
	v.SetDefault("logging.max_bytes", 0)
}

// Load 读取配置文件（json/yaml，按扩展名识别）并叠加环境变量。
// path 为空时在当前目录查找 tokenscope.{yaml,json}；未找到则只用默认值与环境变量。
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tokenscope")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &nf) {
			return Config{}, fmt.Errorf("%w: reading config: %v", contract.ErrConfiguration, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decoding config: %v", contract.ErrConfiguration, err)
	}
	return cfg, nil
}
