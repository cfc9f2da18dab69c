package config

// Config: 运行期只读配置（一次解析，运行期不变）。
// 键使用 snake_case；来源优先级：默认值 < 配置文件 < TOKENSCOPE_ 环境变量 < 命令行。
type Config struct {
	TopK                 int     `mapstructure:"top_k" yaml:"top_k" validate:"gt=0"`
	MinTokenProb         float64 `mapstructure:"min_token_prob" yaml:"min_token_prob" validate:"gte=0,lt=1"`
	HighEntropyThreshold float64 `mapstructure:"high_entropy_threshold" yaml:"high_entropy_threshold" validate:"gte=0"`

	// 语义等价策略名（surface|exact|embedding）与其选项子树。
	Equivalence        string         `mapstructure:"equivalence" yaml:"equivalence"`
	EquivalenceOptions map[string]any `mapstructure:"equivalence_options" yaml:"equivalence_options,omitempty"`

	Insight Insight `mapstructure:"insight" yaml:"insight"`
	Logging Logging `mapstructure:"logging" yaml:"logging"`
}

// Insight: 洞察后端选择与调用参数。
type Insight struct {
	// Model: "{provider}:{model}" 或裸模型名；为空关闭洞察。
	Model string `mapstructure:"model" yaml:"model"`
	// APIKey: 显式凭据。建议经 TOKENSCOPE_INSIGHT_API_KEY 注入而非写入文件。
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	Timeout string `mapstructure:"timeout" yaml:"timeout"`

	MaxPromptSteps int `mapstructure:"max_prompt_steps" yaml:"max_prompt_steps" validate:"gte=0"`
	PromptTopN     int `mapstructure:"prompt_top_n" yaml:"prompt_top_n" validate:"gte=0"`

	// Options: 后端选项子树，原样 JSON 传入工厂（未知字段在工厂处失败）。
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
	// OptionsJSON: 以 JSON 文本提供的选项，非空时整体替换 Options（便于经 ENV 注入）。
	OptionsJSON string `mapstructure:"options_json" yaml:"options_json,omitempty"`

	Limits Limits `mapstructure:"limits" yaml:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `mapstructure:"rpm" yaml:"rpm" validate:"gte=0"`
	TPM             int `mapstructure:"tpm" yaml:"tpm" validate:"gte=0"`
	MaxTokensPerReq int `mapstructure:"max_tokens_per_req" yaml:"max_tokens_per_req" validate:"gte=0"`
}

// Logging: 日志等级、格式与可选的轮转文件目录。
type Logging struct {
	Level    string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format   string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=json console"`
	Dir      string `mapstructure:"dir" yaml:"dir,omitempty"`
	MaxBytes int64  `mapstructure:"max_bytes" yaml:"max_bytes,omitempty" validate:"gte=0"`
}
