package rate

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// DeriveKey 按 provider+sha256(key) 构造限流分组键；同一凭据共享额度。
// 无凭据（本地/离线后端）时仅按 provider 分组。
func DeriveKey(provider, apiKey string) LimitKey {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if strings.TrimSpace(apiKey) == "" {
		return LimitKey(provider)
	}
	sum := sha256.Sum256([]byte(apiKey))
	return LimitKey(fmt.Sprintf("%s:%x", provider, sum[:8]))
}

// EstimateTokens 以字节/4 粗估 token 数（至少 1）。
func EstimateTokens(s string) int {
	n := (len(s) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}
