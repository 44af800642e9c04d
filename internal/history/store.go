package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"caption/internal/config"
)

// Utterance is one recognized (or failed) capture.
type Utterance struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	API       string    `json:"api"`
	Language  string    `json:"language"`
	Outcome   string    `json:"outcome"`
	Text      string    `json:"text"`
	Samples   int       `json:"samples"`
	CreatedAt time.Time `json:"created_at"`
}

// Save records a transcript written to disk.
type Save struct {
	SessionID string
	Path      string
	Bytes     int
	CreatedAt time.Time
}

// Store keeps utterance history in SQLite. A disabled store accepts writes and returns nothing.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if !cfg.Enabled {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", "err", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS utterances (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    api TEXT,
    language TEXT,
    outcome TEXT,
    text TEXT,
    samples INTEGER,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS saves (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    path TEXT,
    bytes INTEGER,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_utterances_session_created ON utterances(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendSession ensures a session row exists.
func (s *Store) AppendSession(ctx context.Context, sessionID string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, created_at) VALUES(?, ?) ON CONFLICT(session_id) DO NOTHING`,
		sessionID, s.clock().UTC())
	return err
}

func (s *Store) AppendUtterance(ctx context.Context, u Utterance) error {
	if s.db == nil {
		return nil
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.clock().UTC()
	}
	if err := s.AppendSession(ctx, u.SessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO utterances(session_id, api, language, outcome, text, samples, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		u.SessionID, u.API, u.Language, u.Outcome, u.Text, u.Samples, u.CreatedAt)
	return err
}

func (s *Store) AppendSave(ctx context.Context, sv Save) error {
	if s.db == nil {
		return nil
	}
	if sv.CreatedAt.IsZero() {
		sv.CreatedAt = s.clock().UTC()
	}
	if err := s.AppendSession(ctx, sv.SessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO saves(session_id, path, bytes, created_at) VALUES(?, ?, ?, ?)`,
		sv.SessionID, sv.Path, sv.Bytes, sv.CreatedAt)
	return err
}

// ListUtterances returns up to limit utterances, newest first. An empty
// sessionID lists across all sessions.
func (s *Store) ListUtterances(ctx context.Context, sessionID string, limit int) ([]Utterance, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, session_id, api, language, outcome, text, samples, created_at FROM utterances`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Utterance
	for rows.Next() {
		var u Utterance
		var created any
		if err := rows.Scan(&u.ID, &u.SessionID, &u.API, &u.Language, &u.Outcome, &u.Text, &u.Samples, &created); err != nil {
			return nil, err
		}
		u.CreatedAt = scanTime(created)
		out = append(out, u)
	}
	return out, rows.Err()
}

// Prune drops utterances and saves older than the retention window, then the
// sessions left with nothing recent. A long-running session keeps its row
// as long as it still has fresh records.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil || s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmts := []string{
		`DELETE FROM utterances WHERE created_at < ?`,
		`DELETE FROM saves WHERE created_at < ?`,
		`DELETE FROM sessions WHERE created_at < ?
		   AND NOT EXISTS (SELECT 1 FROM utterances u WHERE u.session_id = sessions.session_id)
		   AND NOT EXISTS (SELECT 1 FROM saves v WHERE v.session_id = sessions.session_id)`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, cutoff); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// scanTime accepts both forms the driver may hand back for a TIMESTAMP column.
func scanTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	}
	return time.Time{}
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999 -0700 MST", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}
