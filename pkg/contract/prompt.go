package contract

// Prompt: 不透明载荷，由具体 InsightBackend 解释。
type Prompt any

// Message: 最小会话消息形状。
type Message struct {
	Role    string
	Content string
}

// TextPrompt: 文本型提示词载荷。
type TextPrompt string

// ChatPrompt: 会话型提示词载荷（最小集合）。
type ChatPrompt []Message

// Flatten 将 ChatPrompt 拼为单段文本（供只接受纯文本的本地模型使用）。
func (c ChatPrompt) Flatten() string {
	var n int
	for _, m := range c {
		n += len(m.Role) + len(m.Content) + 4
	}
	b := make([]byte, 0, n)
	for i, m := range c {
		if i > 0 {
			b = append(b, '\n', '\n')
		}
		b = append(b, m.Role...)
		b = append(b, ':', ' ')
		b = append(b, m.Content...)
	}
	return string(b)
}
