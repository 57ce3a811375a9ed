package journal

import "strings"

// SessionType 日志会话类别，决定提示词与存储标签。
type SessionType string

const (
	Reflection SessionType = "reflection"
	Planning   SessionType = "planning"
	Notes      SessionType = "notes"
	Goals      SessionType = "goals"
)

// DefaultSessionType is used whenever a client sends an unknown category.
const DefaultSessionType = Reflection

const voiceTagPrefix = "voice_"

// SessionTypes lists the known categories in display order.
func SessionTypes() []SessionType {
	return []SessionType{Reflection, Planning, Notes, Goals}
}

// ParseSessionType normalizes raw input, falling back to DefaultSessionType.
func ParseSessionType(raw string) SessionType {
	candidate := SessionType(strings.ToLower(strings.TrimSpace(raw)))
	if candidate.Valid() {
		return candidate
	}
	return DefaultSessionType
}

// Valid reports whether t is one of the known categories.
func (t SessionType) Valid() bool {
	switch t {
	case Reflection, Planning, Notes, Goals:
		return true
	}
	return false
}

// VoiceTag is the entry type used for transcripts of voice sessions.
func (t SessionType) VoiceTag() string {
	return voiceTagPrefix + string(t)
}

// Tags returns every entry type that belongs to the category.
func (t SessionType) Tags() []string {
	return []string{string(t), t.VoiceTag()}
}

// CategoryOf maps a stored entry type back to its category.
func CategoryOf(entryType string) SessionType {
	return ParseSessionType(strings.TrimPrefix(entryType, voiceTagPrefix))
}

// IsVoiceTag reports whether an entry type was written by a voice session.
func IsVoiceTag(entryType string) bool {
	return strings.HasPrefix(entryType, voiceTagPrefix)
}
