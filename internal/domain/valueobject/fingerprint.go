package valueobject

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// FingerprintDigest 对规范化的首条用户消息做确定性摘要, 作为会话指纹。
// OpenAI 客户端每轮都会重放首条用户消息, 因此同一对话的指纹跨轮稳定。
func FingerprintDigest(role, canonicalContent string) string {
	payload, _ := json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: role, Content: canonicalContent})

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
