package journal

import (
	"bytes"
	"encoding/json"
)

// SplitPrompts splits stored ai_prompts text into its elements, each kept
// byte-for-byte. A single object is treated as a one-element list; scalars
// and text that is not JSON yield an empty list.
//
// Text entries were written as {user, ai, timestamp} triples while voice
// transcripts use {role, content, timestamp}. Elements are not reshaped.
func SplitPrompts(raw string) []json.RawMessage {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return []json.RawMessage{}
	}

	if trimmed[0] == '{' {
		return []json.RawMessage{json.RawMessage(trimmed)}
	}
	if trimmed[0] != '[' {
		return []json.RawMessage{}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil || items == nil {
		return []json.RawMessage{}
	}
	return items
}

// Exchange is the typed read view of one ai_prompts element.
type Exchange struct {
	User      string `json:"user"`
	AI        string `json:"ai"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ParseExchanges decodes the elements of ai_prompts that are objects with
// string fields. Others are left out; use SplitPrompts to keep everything.
func ParseExchanges(raw string) []Exchange {
	items := SplitPrompts(raw)
	exchanges := make([]Exchange, 0, len(items))
	for _, item := range items {
		var ex Exchange
		if err := json.Unmarshal(item, &ex); err != nil {
			continue
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges
}

// AssistantText returns the assistant side of the exchange in either shape.
func (e Exchange) AssistantText() string {
	if e.AI != "" {
		return e.AI
	}
	if e.Role == string(RoleAssistant) {
		return e.Content
	}
	return ""
}

// LastAssistantText finds the most recent assistant reply.
func LastAssistantText(exchanges []Exchange) string {
	for i := len(exchanges) - 1; i >= 0; i-- {
		if text := exchanges[i].AssistantText(); text != "" {
			return text
		}
	}
	return ""
}
