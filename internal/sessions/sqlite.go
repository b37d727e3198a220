package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentd/pkg/models"
	_ "modernc.org/sqlite" // pure-Go driver, registers as "sqlite"
)

// SQLiteStore implements Store on a local SQLite file (or :memory:) using
// the pure-Go modernc.org/sqlite driver — no CGO, single static binary.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteConfig holds connection tuning for a SQLiteStore.
type SQLiteConfig struct {
	Path            string
	BusyTimeout     time.Duration
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultSQLiteConfig returns sane defaults for a single-process deployment.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:            "agentd.db",
		BusyTimeout:     5 * time.Second,
		MaxOpenConns:    1,
		ConnMaxLifetime: 0,
	}
}

// NewSQLiteStore opens (creating if necessary) a SQLite database and runs
// its migrations. MaxOpenConns defaults to 1: SQLite serializes writers
// regardless, and a single connection avoids SQLITE_BUSY under concurrent
// callers without needing a separate connection-pool lock.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	path := config.Path
	if path == "" {
		path = ":memory:"
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, config.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// DB exposes the underlying connection for callers that need raw access
// (migrations tooling, health checks).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT,
			provider_name TEXT,
			model TEXT,
			archived INTEGER NOT NULL DEFAULT 0,
			last_sequence INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			sequence INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			cost REAL,
			created_at DATETIME NOT NULL,
			UNIQUE (session_id, sequence)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`,
		`CREATE TABLE IF NOT EXISTS plans (
			session_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			id TEXT NOT NULL,
			text TEXT NOT NULL,
			done INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, position)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = session.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, provider_name, model, archived, last_sequence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`, session.ID, session.Title, session.ProviderName, session.Model, boolToInt(session.Archived), session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	session := &models.Session{}
	var archived int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, provider_name, model, archived, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id).Scan(&session.ID, &session.Title, &session.ProviderName, &session.Model, &archived, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	session.Archived = archived != 0
	return session, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET title = ?, provider_name = ?, model = ?, archived = ?, updated_at = ?
		WHERE id = ?
	`, session.Title, session.ProviderName, session.Model, boolToInt(session.Archived), session.UpdatedAt, session.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) ArchiveSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sessions SET archived = 1, updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive session rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AppendMessage derives the next sequence from MAX(sequence)+1 over the
// live messages table, so a session whose history was just cleared by
// DeleteMessages (compaction) restarts numbering at 1 rather than
// continuing some earlier count. sessions.last_sequence is kept in sync
// purely as an at-a-glance mirror of the high-water mark; it is never the
// source of truth for the next sequence value.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, msg.SessionID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return ErrSessionNotFound
		}
		return fmt.Errorf("check session: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE session_id = ?
	`, msg.SessionID).Scan(&seq); err != nil {
		return fmt.Errorf("derive sequence: %w", err)
	}
	msg.Sequence = seq

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET last_sequence = ?, updated_at = ? WHERE id = ?
	`, seq, msg.CreatedAt, msg.SessionID); err != nil {
		return fmt.Errorf("update session sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, sequence, role, content, token_count, cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SessionID, msg.Sequence, string(msg.Role), msg.Content, int64(msg.TokenCount), nullFloat(msg.Cost), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sequence, role, content, token_count, cost, created_at
		FROM messages WHERE session_id = ? ORDER BY sequence ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var role string
		var tokenCount int64
		var cost sql.NullFloat64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Sequence, &role, &msg.Content, &tokenCount, &cost, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		msg.TokenCount = uint32(tokenCount)
		if cost.Valid {
			c := cost.Float64
			msg.Cost = &c
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// DeleteMessages clears a session's history for compaction, resetting
// last_sequence to 0 so the next AppendMessage (MAX(sequence)+1 over the
// now-empty table) restarts numbering at 1.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET last_sequence = 0 WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("reset sequence: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetPlan(ctx context.Context, sessionID string) ([]models.PlanItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, done FROM plans WHERE session_id = ? ORDER BY position ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	defer rows.Close()

	var items []models.PlanItem
	for rows.Next() {
		var item models.PlanItem
		var done int
		if err := rows.Scan(&item.ID, &item.Text, &done); err != nil {
			return nil, fmt.Errorf("scan plan item: %w", err)
		}
		item.Done = done != 0
		items = append(items, item)
	}
	return items, rows.Err()
}

// SetPlan replaces a session's plan wholesale — the full-list contract the
// plan tool relies on, mirroring MemoryStore.SetPlan.
func (s *SQLiteStore) SetPlan(ctx context.Context, sessionID string, items []models.PlanItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM plans WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear plan: %w", err)
	}
	for i, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO plans (session_id, position, id, text, done) VALUES (?, ?, ?, ?, ?)
		`, sessionID, i, item.ID, item.Text, boolToInt(item.Done)); err != nil {
			return fmt.Errorf("insert plan item: %w", err)
		}
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
