package valueobject

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessageContent 消息内容值对象。OpenAI 协议里 content 既可以是纯字符串,
// 也可以是分段数组 [{type:"text",text:"..."}, ...], 两种形式都要接受。
type MessageContent struct {
	text  string
	parts []ContentPart
	isArr bool
}

// ContentPart 分段内容
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// NewTextContent 创建纯文本内容
func NewTextContent(text string) MessageContent {
	return MessageContent{text: text}
}

// NewPartsContent 创建分段内容
func NewPartsContent(parts []ContentPart) MessageContent {
	ps := make([]ContentPart, len(parts))
	copy(ps, parts)
	return MessageContent{parts: ps, isArr: true}
}

// Canonical 返回规范化文本: 字符串形式原样返回, 分段形式按序拼接 text 段
func (mc MessageContent) Canonical() string {
	if !mc.isArr {
		return mc.text
	}
	var b strings.Builder
	for _, p := range mc.parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// IsEmpty 判断规范化后是否为空
func (mc MessageContent) IsEmpty() bool {
	return strings.TrimSpace(mc.Canonical()) == ""
}

// UnmarshalJSON 接受 string 或 []ContentPart 两种形式
func (mc *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*mc = MessageContent{text: s}
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err == nil {
		*mc = MessageContent{parts: parts, isArr: true}
		return nil
	}

	return fmt.Errorf("content must be a string or an array of content parts")
}

// MarshalJSON 以原始形式序列化 (保真, 审计记录依赖原始形状)
func (mc MessageContent) MarshalJSON() ([]byte, error) {
	if mc.isArr {
		return json.Marshal(mc.parts)
	}
	return json.Marshal(mc.text)
}
