package journal

import (
	"encoding/json"
	"errors"
	"time"
)

// Entry mirrors a row of the entries table.
type Entry struct {
	ID        int64  `json:"id"`
	Date      string `json:"date"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	AIPrompts string `json:"-"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// EntryView is the API representation with ai_prompts expanded to a list.
// Elements are passed through as stored.
type EntryView struct {
	Entry
	Prompts []json.RawMessage `json:"ai_prompts"`
}

// Summary is the rolling digest kept per session type.
type Summary struct {
	SessionType    SessionType `json:"session_type"`
	SummaryText    string      `json:"summary_text"`
	KeyThemes      []string    `json:"key_themes"`
	MentionedGoals []string    `json:"mentioned_goals"`
	EntryCount     int         `json:"entry_count"`
	LastEntryDate  string      `json:"last_entry_date"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// ErrSummaryNotFound is returned when a session type has no summary yet.
var ErrSummaryNotFound = errors.New("summary not found")
