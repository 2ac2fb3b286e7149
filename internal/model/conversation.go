// Package model 包含了应用的数据模型定义。
package model

import "time"

// ChatMessage 是发送给语言模型的一条角色消息，历史中的每一轮会展开成两条。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Turn 代表会话记忆中的一次问答交互。
type Turn struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"createdAt"`
}

// Messages 把若干轮问答展开为按时间排列的 user/assistant 消息。
func Messages(turns []Turn) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(turns)*2)
	for _, t := range turns {
		msgs = append(msgs,
			ChatMessage{Role: "user", Content: t.Question, Timestamp: t.CreatedAt},
			ChatMessage{Role: "assistant", Content: t.Answer, Timestamp: t.CreatedAt},
		)
	}
	return msgs
}
