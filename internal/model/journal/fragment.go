package journal

import "time"

// Role 标识转录片段的说话方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Fragment is one utterance captured during a voice session.
type Fragment struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
