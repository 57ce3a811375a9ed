// Package summary keeps a rolling summary per journal category, written by a
// chat model over older entries.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/voice-journal/backend/internal/model/journal"
)

var (
	// ErrDisabled is returned when no chat model is configured.
	ErrDisabled = errors.New("summary generation disabled")
	// ErrNotEnoughEntries is returned when too few older entries exist.
	ErrNotEnoughEntries = errors.New("not enough entries to summarize")
)

const (
	summarySystemPrompt = "You are a helpful assistant that creates concise summaries of journal entries."
	summaryUserPrompt   = `Please create a concise summary of these {session_type} journal entries. Focus on:
1. Key recurring themes and patterns
2. Important goals or objectives mentioned
3. Progress or changes over time
4. Any significant insights or breakthroughs

Entries:
{entries}

Provide a summary in 2-3 sentences, followed by key themes (comma-separated) and any goals mentioned (comma-separated).`
)

// Store is the persistence the summarizer needs.
type Store interface {
	CountEntries(ctx context.Context, sessionType journal.SessionType) (int, error)
	RecentEntries(ctx context.Context, sessionType journal.SessionType, limit, offset int) ([]journal.Entry, error)
	HasRecentSummary(ctx context.Context, sessionType journal.SessionType, since time.Time) (bool, error)
	SaveSummary(ctx context.Context, summary journal.Summary) error
}

// Runner is satisfied by a compiled eino chain.
type Runner interface {
	Invoke(ctx context.Context, input map[string]any, opts ...compose.Option) (*schema.Message, error)
}

// Config 控制摘要的触发条件与取样范围。
type Config struct {
	// MinEntries triggers a refresh once a category has this many entries.
	MinEntries int
	// Freshness is how long a summary stays current.
	Freshness time.Duration
	// Skip leaves the newest entries out; they are quoted verbatim as recent context.
	Skip int
	// Limit caps how many entries are summarized.
	Limit int
	// MinSource is the fewest entries worth summarizing.
	MinSource   int
	Temperature float32
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinEntries:  5,
		Freshness:   7 * 24 * time.Hour,
		Skip:        3,
		Limit:       20,
		MinSource:   3,
		Temperature: 0.3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinEntries <= 0 {
		c.MinEntries = def.MinEntries
	}
	if c.Freshness <= 0 {
		c.Freshness = def.Freshness
	}
	if c.Skip < 0 {
		c.Skip = def.Skip
	}
	if c.Limit <= 0 {
		c.Limit = def.Limit
	}
	if c.MinSource <= 0 {
		c.MinSource = def.MinSource
	}
	if c.Temperature <= 0 {
		c.Temperature = def.Temperature
	}
	return c
}

// Service generates and stores category summaries.
type Service struct {
	store  Store
	runner Runner
	cfg    Config
	now    func() time.Time
}

// NewService creates the summarizer. A nil chatModel yields a disabled
// service whose calls are no-ops.
func NewService(ctx context.Context, chatModel model.ChatModel, store Store, cfg Config) (*Service, error) {
	svc := &Service{store: store, cfg: cfg.withDefaults(), now: time.Now}
	if chatModel == nil {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(summarySystemPrompt),
		schema.UserMessage(summaryUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile summary chain: %w", err)
	}

	svc.runner = runnable
	return svc, nil
}

// Enabled 返回是否配置了可用的大模型。
func (s *Service) Enabled() bool {
	return s != nil && s.runner != nil
}

// MaybeRefresh regenerates the summary when the category has grown enough
// and its summary is missing or stale. It reports whether a new summary was
// written.
func (s *Service) MaybeRefresh(ctx context.Context, sessionType journal.SessionType) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}

	count, err := s.store.CountEntries(ctx, sessionType)
	if err != nil {
		return false, err
	}
	if count < s.cfg.MinEntries {
		return false, nil
	}

	recent, err := s.store.HasRecentSummary(ctx, sessionType, s.now().Add(-s.cfg.Freshness))
	if err != nil {
		return false, err
	}
	if recent {
		return false, nil
	}

	if _, err := s.Generate(ctx, sessionType); err != nil {
		if errors.Is(err, ErrNotEnoughEntries) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Generate summarizes the older entries of a category and stores the result.
func (s *Service) Generate(ctx context.Context, sessionType journal.SessionType) (*journal.Summary, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}

	entries, err := s.store.RecentEntries(ctx, sessionType, s.cfg.Limit, s.cfg.Skip)
	if err != nil {
		return nil, err
	}
	if len(entries) < s.cfg.MinSource {
		return nil, ErrNotEnoughEntries
	}

	input := map[string]any{
		"session_type": string(sessionType),
		"entries":      formatEntries(entries),
	}

	msg, err := s.runner.Invoke(ctx, input,
		compose.WithChatModelOption(model.WithTemperature(s.cfg.Temperature)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run summary chain: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return nil, fmt.Errorf("summary chain returned empty content")
	}

	text, themes, goals := parseSummaryOutput(msg.Content)
	now := s.now()
	summary := journal.Summary{
		SessionType:    sessionType,
		SummaryText:    text,
		KeyThemes:      themes,
		MentionedGoals: goals,
		EntryCount:     len(entries),
		LastEntryDate:  now.Format("2006-01-02"),
		UpdatedAt:      now,
	}
	if err := s.store.SaveSummary(ctx, summary); err != nil {
		return nil, err
	}

	log.Printf("[summary] generated summary for %s: %d entries", sessionType, len(entries))
	return &summary, nil
}

func formatEntries(entries []journal.Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("[%s] %s", e.Date, e.Content))
	}
	return strings.Join(parts, "\n\n")
}

// parseSummaryOutput takes the first line as the summary and reads the
// comma-separated lists from lines mentioning themes or goals.
func parseSummaryOutput(content string) (string, []string, []string) {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	text := strings.TrimSpace(lines[0])

	themes := []string{}
	goals := []string{}
	for _, line := range lines {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "themes:"):
			themes = splitList(line)
		case strings.Contains(lower, "goals:"):
			goals = splitList(line)
		}
	}
	return text, themes, goals
}

func splitList(line string) []string {
	_, rest, _ := strings.Cut(line, ":")
	items := []string{}
	for _, item := range strings.Split(rest, ",") {
		item = strings.TrimSpace(strings.Trim(strings.TrimSpace(item), "*."))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
