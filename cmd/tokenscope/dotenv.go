package main

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
//   - 忽略不存在的文件；
//   - 跳过空行与以 # 开头的行；支持可选的前缀 "export "；
//   - 仅按首个 '=' 分割，成对的单/双引号被去除；
//   - 不覆盖已存在的环境变量（保持系统/调用者优先）。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if len(val) >= 2 {
			if (val[0] == '\'' && val[len(val)-1] == '\'') || (val[0] == '"' && val[len(val)-1] == '"') {
				val = val[1 : len(val)-1]
			}
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

// dotEnvKeys: 模板列出的覆盖项（值留空）。
var dotEnvKeys = []string{
	"TOKENSCOPE_INSIGHT_MODEL",
	"TOKENSCOPE_INSIGHT_API_KEY",
	"TOKENSCOPE_INSIGHT_OPTIONS_JSON",
	"TOKENSCOPE_TOP_K",
	"TOKENSCOPE_MIN_TOKEN_PROB",
	"TOKENSCOPE_LOGGING_LEVEL",
}

// writeDotEnv 在 dir 下生成 .env 模板；文件已存在则跳过。
func writeDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	var b strings.Builder
	b.WriteString("# tokenscope .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n\n")
	for _, k := range dotEnvKeys {
		b.WriteString("# " + k + "=\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o600)
}
