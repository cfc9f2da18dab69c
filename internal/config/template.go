package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TemplateName: init-config 写出的文件名（Load 的默认查找名）。
const TemplateName = "tokenscope.yaml"

// DefaultTemplate 返回一个“可运行”的默认配置模板：
// 使用离线 mock 洞察后端与宽松限额；凭据留空，由环境变量注入。
func DefaultTemplate() Config {
	cfg := Defaults()
	cfg.Insight.Model = "mock:offline"
	cfg.Insight.Options = map[string]any{"prefix": "", "response_mode": ""}
	cfg.Insight.Limits = Limits{RPM: 60, TPM: 100000, MaxTokensPerReq: 32000}
	cfg.EquivalenceOptions = map[string]any{"strip_punct": false, "case_sensitive": false}
	return cfg
}

// WriteTemplate 在 dir 下写出模板；文件已存在时不覆盖并返回错误。
func WriteTemplate(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, TemplateName)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config: %s already exists", path)
	}
	b, err := yaml.Marshal(DefaultTemplate())
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
