// Package journal ties stored entries, summaries and prompts together for
// the HTTP surface and the voice bridge.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zhouzirui/voice-journal/backend/internal/model/journal"
	"github.com/zhouzirui/voice-journal/backend/internal/service/prompt"
	"github.com/zhouzirui/voice-journal/backend/internal/service/transcript"
)

// Store is the persistence the journal service needs.
type Store interface {
	SaveEntry(ctx context.Context, entry journal.Entry) (int64, error)
	ListEntries(ctx context.Context, date string, limit int) ([]journal.Entry, error)
	RecentEntries(ctx context.Context, sessionType journal.SessionType, limit, offset int) ([]journal.Entry, error)
	GetSummary(ctx context.Context, sessionType journal.SessionType) (*journal.Summary, error)
	Clear(ctx context.Context) error
}

// Summarizer refreshes a category summary when it is due.
type Summarizer interface {
	MaybeRefresh(ctx context.Context, sessionType journal.SessionType) (bool, error)
}

// Options 控制列表条数与历史上下文。
type Options struct {
	// IncludeHistory appends stored context to voice instructions.
	IncludeHistory bool
	// EntryLimit caps an unfiltered entry listing.
	EntryLimit int
	// ContextEntries is how many recent entries are quoted as context.
	ContextEntries int
	// SummaryTimeout bounds a summary refresh after a save.
	SummaryTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.EntryLimit <= 0 {
		o.EntryLimit = 50
	}
	if o.ContextEntries <= 0 {
		o.ContextEntries = 3
	}
	if o.SummaryTimeout <= 0 {
		o.SummaryTimeout = time.Minute
	}
	return o
}

// Service implements journal operations on top of a Store.
type Service struct {
	store      Store
	prompts    *prompt.Catalog
	summarizer Summarizer
	opts       Options
	now        func() time.Time
}

// NewService wires the journal service. summarizer may be nil.
func NewService(store Store, prompts *prompt.Catalog, summarizer Summarizer, opts Options) *Service {
	if prompts == nil {
		prompts = prompt.NewCatalog()
	}
	return &Service{
		store:      store,
		prompts:    prompts,
		summarizer: summarizer,
		opts:       opts.withDefaults(),
		now:        time.Now,
	}
}

// SaveTranscript persists a finished voice session. Sessions without user
// speech are dropped.
func (s *Service) SaveTranscript(ctx context.Context, sessionType journal.SessionType, fragments []journal.Fragment) error {
	entry, ok, err := transcript.BuildEntry(sessionType, fragments, s.now())
	if err != nil {
		return fmt.Errorf("build entry: %w", err)
	}
	if !ok {
		log.Printf("[journal] %s session had no user speech, nothing saved", sessionType)
		return nil
	}

	id, err := s.store.SaveEntry(ctx, entry)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	log.Printf("[journal] saved entry %d (type=%s, fragments=%d)", id, entry.Type, len(fragments))

	s.refreshSummary(ctx, sessionType)
	return nil
}

func (s *Service) refreshSummary(ctx context.Context, sessionType journal.SessionType) {
	if s.summarizer == nil {
		return
	}

	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SummaryTimeout)
	defer cancel()

	if _, err := s.summarizer.MaybeRefresh(refreshCtx, sessionType); err != nil {
		log.Printf("[journal] summary refresh for %s failed: %v", sessionType, err)
	}
}

// Entries lists entries newest first, either for one date or the latest ones.
func (s *Service) Entries(ctx context.Context, date string) ([]journal.EntryView, error) {
	date = strings.TrimSpace(date)
	limit := s.opts.EntryLimit
	if date != "" {
		limit = 0
	}

	entries, err := s.store.ListEntries(ctx, date, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	views := make([]journal.EntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, journal.EntryView{
			Entry:   e,
			Prompts: journal.SplitPrompts(e.AIPrompts),
		})
	}
	return views, nil
}

// Summary returns the stored summary of a category.
func (s *Service) Summary(ctx context.Context, sessionType journal.SessionType) (*journal.Summary, error) {
	return s.store.GetSummary(ctx, sessionType)
}

// StartSession normalises the requested type and returns its greeting.
func (s *Service) StartSession(raw string) (journal.SessionType, string) {
	sessionType := journal.ParseSessionType(raw)
	return sessionType, s.prompts.InitialMessage(sessionType)
}

// VoiceInstructions returns the instructions for a voice session, with
// stored context appended when enabled.
func (s *Service) VoiceInstructions(ctx context.Context, sessionType journal.SessionType) string {
	base := s.prompts.VoiceInstructions(sessionType)
	if !s.opts.IncludeHistory {
		return base
	}

	history, err := s.HistoryContext(ctx, sessionType)
	if err != nil {
		log.Printf("[journal] build history for %s failed: %v", sessionType, err)
		return base
	}
	if history == "" {
		return base
	}
	return base + "\n\n" + history
}

// HistoryContext renders the category summary and the newest entries as
// prompt context. It is empty when nothing is stored.
func (s *Service) HistoryContext(ctx context.Context, sessionType journal.SessionType) (string, error) {
	sections := make([]string, 0, 2)

	summary, err := s.store.GetSummary(ctx, sessionType)
	switch {
	case err == nil:
		sections = append(sections, "Previous context: "+formatSummary(summary))
	case !errors.Is(err, journal.ErrSummaryNotFound):
		return "", err
	}

	entries, err := s.store.RecentEntries(ctx, sessionType, s.opts.ContextEntries, 0)
	if err != nil {
		return "", err
	}
	if recent := formatRecent(entries); recent != "" {
		sections = append(sections, "Recent conversations: "+recent)
	}

	return strings.Join(sections, "\n\n"), nil
}

// Clear deletes all entries and goals.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear journal: %w", err)
	}
	log.Printf("[journal] database cleared")
	return nil
}

func formatSummary(summary *journal.Summary) string {
	parts := []string{summary.SummaryText}
	if len(summary.KeyThemes) > 0 {
		parts = append(parts, "Key themes: "+strings.Join(summary.KeyThemes, ", "))
	}
	if len(summary.MentionedGoals) > 0 {
		parts = append(parts, "Goals mentioned: "+strings.Join(summary.MentionedGoals, ", "))
	}
	return strings.Join(parts, " | ")
}

func formatRecent(entries []journal.Entry) string {
	parts := make([]string, 0, len(entries)*2)
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("[%s] You: %s", e.Date, truncate(e.Content, 200)))
		if ai := journal.LastAssistantText(journal.ParseExchanges(e.AIPrompts)); ai != "" {
			parts = append(parts, "AI: "+truncate(ai, 150))
		}
	}
	return strings.Join(parts, " | ")
}

// truncate cuts s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
