// Package transcript collects the utterances of one voice session and turns
// them into a journal entry when the session ends.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/voice-journal/backend/internal/model/journal"
)

const dateLayout = "2006-01-02"

// Accumulator is an append-only, ordered list of fragments.
type Accumulator struct {
	mu        sync.Mutex
	fragments []journal.Fragment
	now       func() time.Time
}

// NewAccumulator returns an empty accumulator. now defaults to time.Now.
func NewAccumulator(now func() time.Time) *Accumulator {
	if now == nil {
		now = time.Now
	}
	return &Accumulator{
		fragments: make([]journal.Fragment, 0, 16),
		now:       now,
	}
}

// Add records an utterance stamped with the current time.
func (a *Accumulator) Add(role journal.Role, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.fragments = append(a.fragments, journal.Fragment{
		Role:      role,
		Content:   content,
		Timestamp: a.now(),
	})
}

// Fragments returns a copy of the recorded fragments in order.
func (a *Accumulator) Fragments() []journal.Fragment {
	a.mu.Lock()
	defer a.mu.Unlock()

	copied := make([]journal.Fragment, len(a.fragments))
	copy(copied, a.fragments)
	return copied
}

// Len returns the number of fragments recorded so far.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.fragments)
}

// HasUser reports whether any user speech was recorded.
func (a *Accumulator) HasUser() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return hasUser(a.fragments)
}

func hasUser(fragments []journal.Fragment) bool {
	for _, f := range fragments {
		if f.Role == journal.RoleUser {
			return true
		}
	}
	return false
}

// BuildEntry consolidates a session transcript into one entry. ok is false
// when the transcript holds no user speech and nothing should be stored.
func BuildEntry(sessionType journal.SessionType, fragments []journal.Fragment, now time.Time) (entry journal.Entry, ok bool, err error) {
	if !hasUser(fragments) {
		return journal.Entry{}, false, nil
	}

	userText := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f.Role == journal.RoleUser {
			userText = append(userText, f.Content)
		}
	}

	payload, err := json.Marshal(fragments)
	if err != nil {
		return journal.Entry{}, false, fmt.Errorf("encode transcript: %w", err)
	}

	return journal.Entry{
		Date:      now.Format(dateLayout),
		Type:      sessionType.VoiceTag(),
		Content:   strings.Join(userText, " "),
		AIPrompts: string(payload),
	}, true, nil
}

// DecodeFragments recovers the fragment list stored by BuildEntry.
func DecodeFragments(raw string) ([]journal.Fragment, error) {
	var fragments []journal.Fragment
	if err := json.Unmarshal([]byte(raw), &fragments); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return fragments, nil
}
