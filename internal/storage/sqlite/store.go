// Package sqlite persists journal entries and rolling summaries in a local
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/voice-journal/backend/internal/model/journal"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS entries (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    date        TEXT NOT NULL,
    type        TEXT NOT NULL,
    content     TEXT NOT NULL,
    ai_prompts  TEXT,
    created_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_entries_type_created ON entries(type, created_at);
CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(date);

CREATE TABLE IF NOT EXISTS goals (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    goal_text      TEXT NOT NULL,
    created_date   TEXT NOT NULL,
    status         TEXT DEFAULT 'active',
    last_mentioned TEXT,
    created_at     TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS summaries (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_type    TEXT NOT NULL UNIQUE,
    summary_text    TEXT NOT NULL,
    key_themes      TEXT,
    mentioned_goals TEXT,
    entry_count     INTEGER DEFAULT 0,
    last_entry_date TEXT,
    created_at      TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at      TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// timestampLayout matches SQLite's CURRENT_TIMESTAMP so values written from
// Go compare correctly with values written by the column defaults.
const timestampLayout = "2006-01-02 15:04:05"

// Store is a SQLite-backed journal store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file if needed and applies the schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// 单连接串行写入，避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// SetClock overrides the time source used for written timestamps.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timestampLayout)
}

// SaveEntry inserts an entry and returns its id.
func (s *Store) SaveEntry(ctx context.Context, entry journal.Entry) (int64, error) {
	ts := s.timestamp()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO entries (date, type, content, ai_prompts, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		entry.Date, entry.Type, entry.Content, entry.AIPrompts, ts, ts,
	)
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}
	return res.LastInsertId()
}

const entryColumns = "id, date, type, content, COALESCE(ai_prompts, ''), created_at, updated_at"

// ListEntries returns entries newest first. A non-empty date restricts the
// result to that day; limit <= 0 means no limit.
func (s *Store) ListEntries(ctx context.Context, date string, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		limit = -1
	}

	if date != "" {
		return s.queryEntries(ctx,
			"SELECT "+entryColumns+" FROM entries WHERE date = ? ORDER BY created_at DESC, id DESC LIMIT ?",
			date, limit,
		)
	}
	return s.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM entries ORDER BY created_at DESC, id DESC LIMIT ?",
		limit,
	)
}

// RecentEntries returns entries of a category (text and voice), newest first.
func (s *Store) RecentEntries(ctx context.Context, sessionType journal.SessionType, limit, offset int) ([]journal.Entry, error) {
	tags := sessionType.Tags()
	return s.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE (type = ? OR type = ?) ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		tags[0], tags[1], limit, offset,
	)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]journal.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]journal.Entry, 0)
	for rows.Next() {
		var e journal.Entry
		if err := rows.Scan(&e.ID, &e.Date, &e.Type, &e.Content, &e.AIPrompts, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountEntries counts the entries of a category.
func (s *Store) CountEntries(ctx context.Context, sessionType journal.SessionType) (int, error) {
	tags := sessionType.Tags()
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE (type = ? OR type = ?)",
		tags[0], tags[1],
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// GetSummary returns the current summary of a category.
func (s *Store) GetSummary(ctx context.Context, sessionType journal.SessionType) (*journal.Summary, error) {
	var (
		summary             journal.Summary
		themes, goals       sql.NullString
		lastDate, updatedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_type, summary_text, key_themes, mentioned_goals, COALESCE(entry_count, 0), last_entry_date, updated_at
		FROM summaries WHERE session_type = ? ORDER BY updated_at DESC LIMIT 1`,
		string(sessionType),
	).Scan(&summary.SessionType, &summary.SummaryText, &themes, &goals, &summary.EntryCount, &lastDate, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, journal.ErrSummaryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}

	summary.KeyThemes = decodeStringList(themes.String)
	summary.MentionedGoals = decodeStringList(goals.String)
	summary.LastEntryDate = lastDate.String
	summary.UpdatedAt = parseTimestamp(updatedAt.String)
	return &summary, nil
}

// SaveSummary replaces the summary of a category.
func (s *Store) SaveSummary(ctx context.Context, summary journal.Summary) error {
	themes, err := encodeStringList(summary.KeyThemes)
	if err != nil {
		return err
	}
	goals, err := encodeStringList(summary.MentionedGoals)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin summary tx: %w", err)
	}
	defer tx.Rollback()

	// 旧库的 summaries 表没有 UNIQUE 约束，先删后插兼容两种结构
	if _, err := tx.ExecContext(ctx, "DELETE FROM summaries WHERE session_type = ?", string(summary.SessionType)); err != nil {
		return fmt.Errorf("delete summary: %w", err)
	}

	updatedAt := summary.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO summaries (session_type, summary_text, key_themes, mentioned_goals, entry_count, last_entry_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(summary.SessionType), summary.SummaryText, themes, goals,
		summary.EntryCount, summary.LastEntryDate, updatedAt.UTC().Format(timestampLayout),
	); err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return tx.Commit()
}

// HasRecentSummary reports whether the category was summarized after since.
func (s *Store) HasRecentSummary(ctx context.Context, sessionType journal.SessionType, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM summaries WHERE session_type = ? AND updated_at > ?",
		string(sessionType), since.UTC().Format(timestampLayout),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query recent summary: %w", err)
	}
	return n > 0, nil
}

// Clear removes all entries and goals and resets their id counters.
// Summaries are kept.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM entries",
		"DELETE FROM goals",
		"DELETE FROM sqlite_sequence WHERE name IN ('entries', 'goals')",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear database: %w", err)
		}
	}
	return tx.Commit()
}

func encodeStringList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(data), nil
}

func decodeStringList(raw string) []string {
	var items []string
	if raw == "" || json.Unmarshal([]byte(raw), &items) != nil || items == nil {
		return []string{}
	}
	return items
}

// parseTimestamp accepts both the SQLite layout and the ISO layouts found in
// older databases.
func parseTimestamp(raw string) time.Time {
	for _, layout := range []string{timestampLayout, time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
