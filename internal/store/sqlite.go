package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/samsaffron/relaychat/internal/config"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Schema for the chats database.
const schema = `
CREATE TABLE IF NOT EXISTS chats (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    title TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content TEXT NOT NULL,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    input_cost REAL NOT NULL DEFAULT 0,
    output_cost REAL NOT NULL DEFAULT 0,
    total_cost REAL NOT NULL DEFAULT 0,
    sequence INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS profiles (
    user_id TEXT PRIMARY KEY,
    api_cost_chat REAL NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chats_owner_updated ON chats(owner_id, updated_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_chat_sequence ON messages(chat_id, sequence);
`

// NewSQLiteStore creates a new SQLite-based chat store.
func NewSQLiteStore(cfg config.StoreConfig) (*SQLiteStore, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		var err error
		dbPath, err = GetDBPath()
		if err != nil {
			return nil, fmt.Errorf("get db path: %w", err)
		}
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// schemaVersion is the current schema version.
// Fresh databases get the full schema from `schema` and start at this version;
// existing databases run migrations to reach it.
const schemaVersion = 2

type migration struct {
	version     int
	description string
	up          func(db *sql.DB) error
}

var migrations = []migration{
	{
		version:     2,
		description: "add profiles.updated_at",
		up: func(db *sql.DB) error {
			_, err := db.Exec("ALTER TABLE profiles ADD COLUMN updated_at TIMESTAMP")
			if err != nil && !isDuplicateColumnError(err) {
				return err
			}
			return nil
		},
	},
}

// initSchema initializes the database schema and runs any pending migrations.
func initSchema(db *sql.DB) error {
	var currentVersion int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&currentVersion)
	if err == nil && currentVersion >= schemaVersion {
		return nil
	}
	return initSchemaFull(db, err, currentVersion)
}

func initSchemaFull(db *sql.DB, versionErr error, currentVersion int) error {
	// Detect a pre-versioning database before the base schema creates tables.
	var existing int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='chats'`).Scan(&existing); err != nil {
		return fmt.Errorf("check chats table: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	if versionErr != nil && (errors.Is(versionErr, sql.ErrNoRows) || strings.Contains(versionErr.Error(), "no such table")) {
		if existing > 0 {
			currentVersion = 1
		} else {
			currentVersion = schemaVersion
		}
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentVersion); err != nil {
			return fmt.Errorf("insert initial version: %w", err)
		}
	} else if versionErr != nil {
		return fmt.Errorf("get current version: %w", versionErr)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if err := m.up(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		if _, err := db.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
			return fmt.Errorf("update version to %d: %w", m.version, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") ||
		strings.Contains(errStr, "already exists")
}

// CreateChat creates a chat owned by ownerID.
func (s *SQLiteStore) CreateChat(ctx context.Context, ownerID, title string) (*Chat, error) {
	now := time.Now().UTC()
	chat := &Chat{
		ID:        NewID(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, owner_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		chat.ID, chat.OwnerID, chat.Title, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	return chat, nil
}

// GetChat returns ErrNotFound when the chat does not exist.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	var chat Chat
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM chats WHERE id = ?`, id).
		Scan(&chat.ID, &chat.OwnerID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &chat, nil
}

// ListChats returns the owner's chats, most recently updated first.
func (s *SQLiteStore) ListChats(ctx context.Context, ownerID string, limit int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM chats WHERE owner_id = ?
		ORDER BY updated_at DESC, created_at DESC
		LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(&chat.ID, &chat.OwnerID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (s *SQLiteStore) UpdateChatTitle(ctx context.Context, id, title string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE chats SET title = ?, updated_at = ? WHERE id = ?", title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update chat title: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage adds a message to a chat. The sequence number is allocated
// inside the insert transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, chatID string, msg *Message) error {
	if !ValidRole(msg.Role) {
		return fmt.Errorf("invalid role %q", msg.Role)
	}
	msg.ChatID = chatID
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM messages WHERE chat_id = ?`, chatID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("get max sequence: %w", err)
	}
	msg.Sequence = 0
	if maxSeq.Valid {
		msg.Sequence = int(maxSeq.Int64) + 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, input_tokens, output_tokens,
			input_cost, output_cost, total_cost, sequence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, chatID, msg.Role, msg.Content, msg.InputTokens, msg.OutputTokens,
		msg.InputCost, msg.OutputCost, msg.TotalCost, msg.Sequence, msg.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return ErrNotFound
		}
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE chats SET updated_at = ? WHERE id = ?", time.Now().UTC(), chatID); err != nil {
		return fmt.Errorf("update chat timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetMessages returns a chat's messages in order.
func (s *SQLiteStore) GetMessages(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, input_tokens, output_tokens,
			input_cost, output_cost, total_cost, sequence, created_at
		FROM messages WHERE chat_id = ?
		ORDER BY sequence ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.InputTokens, &m.OutputTokens,
			&m.InputCost, &m.OutputCost, &m.TotalCost, &m.Sequence, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AddUserCost atomically adds delta to the user's cumulative cost and returns
// the new total. Concurrent requests for one user never lose an update.
func (s *SQLiteStore) AddUserCost(ctx context.Context, userID string, delta float64) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO profiles (user_id, api_cost_chat, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			api_cost_chat = api_cost_chat + excluded.api_cost_chat,
			updated_at = excluded.updated_at
		RETURNING api_cost_chat`,
		userID, delta, time.Now().UTC()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("add user cost: %w", err)
	}
	return total, nil
}

// UserCost returns the user's cumulative cost, 0 for unknown users.
func (s *SQLiteStore) UserCost(ctx context.Context, userID string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		"SELECT api_cost_chat FROM profiles WHERE user_id = ?", userID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get user cost: %w", err)
	}
	return total, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
