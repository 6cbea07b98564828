package storage

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

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chats_user_updated ON chats(user_id, updated_at);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	trace_id TEXT NOT NULL DEFAULT '',
	trace_summary TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_chat_seq ON messages(chat_id, seq);`

// SQLiteStore persists chats in a SQLite file.
type SQLiteStore struct {
	db       *sql.DB
	maxChats int
	now      func() time.Time
}

// OpenSQLite opens or creates the database at path and runs migrations.
func OpenSQLite(ctx context.Context, path string, maxChats int) (*SQLiteStore, error) {
	if maxChats <= 0 {
		maxChats = config.DefaultMaxChatsPerUser
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer connection keeps read-modify-write transactions serialized.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, maxChats: maxChats, now: time.Now}, nil
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, userID, title, agentID string) (*model.Chat, error) {
	chat := newChat(userID, title, agentID, s.now())

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := queryChats(ctx, tx, userID)
		if err != nil {
			return err
		}
		for _, id := range evictionCandidates(existing, s.maxChats) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id); err != nil {
				return fmt.Errorf("evict chat: %w", err)
			}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chats (id, user_id, title, agent_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			chat.ID, chat.UserID, chat.Title, chat.AgentID, chat.CreatedAt.UnixNano(), chat.UpdatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("insert chat: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	chat, err := getChat(ctx, s.db, userID, chatID)
	if err != nil {
		return nil, err
	}
	if chat.Messages, err = queryMessages(ctx, s.db, chatID); err != nil {
		return nil, err
	}
	return chat, nil
}

// List implements Store. Messages are loaded for every chat.
func (s *SQLiteStore) List(ctx context.Context, userID string) ([]model.Chat, error) {
	chats, err := queryChats(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	for i := range chats {
		if chats[i].Messages, err = queryMessages(ctx, s.db, chats[i].ID); err != nil {
			return nil, err
		}
	}
	sortByUpdatedDesc(chats)
	return chats, nil
}

// AppendMessage implements Store.
func (s *SQLiteStore) AppendMessage(ctx context.Context, userID, chatID string, msg model.Message) error {
	now := s.now()
	msg = prepareMessage(msg, now)

	var summary sql.NullString
	if msg.TraceSummary != nil {
		data, err := json.Marshal(msg.TraceSummary)
		if err != nil {
			return fmt.Errorf("encode trace summary: %w", err)
		}
		summary = sql.NullString{String: string(data), Valid: true}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		chat, err := getChat(ctx, tx, userID, chatID)
		if err != nil {
			return err
		}

		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&count); err != nil {
			return fmt.Errorf("count messages: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, chat_id, seq, role, content, timestamp, trace_id, trace_summary) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, chatID, count, msg.Role, msg.Content, msg.Timestamp.UnixNano(), msg.TraceID, summary)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		title := chat.Title
		if count == 0 && msg.Role == model.RoleUser {
			title = model.TitleFromContent(msg.Content)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`, title, now.UnixNano(), chatID); err != nil {
			return fmt.Errorf("update chat: %w", err)
		}
		return nil
	})
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// QUERIES
// =============================================================================

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func getChat(ctx context.Context, q querier, userID, chatID string) (*model.Chat, error) {
	var (
		c                model.Chat
		created, updated int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, user_id, title, agent_id, created_at, updated_at FROM chats WHERE id = ? AND user_id = ?`,
		chatID, userID).Scan(&c.ID, &c.UserID, &c.Title, &c.AgentID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query chat: %w", err)
	}
	c.CreatedAt = time.Unix(0, created)
	c.UpdatedAt = time.Unix(0, updated)
	c.Messages = []model.Message{}
	return &c, nil
}

func queryChats(ctx context.Context, q querier, userID string) ([]model.Chat, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, title, agent_id, created_at, updated_at FROM chats WHERE user_id = ? ORDER BY updated_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var out []model.Chat
	for rows.Next() {
		var (
			c                model.Chat
			created, updated int64
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.AgentID, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		c.CreatedAt = time.Unix(0, created)
		c.UpdatedAt = time.Unix(0, updated)
		c.Messages = []model.Message{}
		out = append(out, c)
	}
	return out, rows.Err()
}

func queryMessages(ctx context.Context, q querier, chatID string) ([]model.Message, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, role, content, timestamp, trace_id, trace_summary FROM messages WHERE chat_id = ? ORDER BY seq`,
		chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := []model.Message{}
	for rows.Next() {
		var (
			m       model.Message
			ts      int64
			summary sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &ts, &m.TraceID, &summary); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = time.Unix(0, ts)
		if summary.Valid && summary.String != "" {
			m.TraceSummary = &model.TraceSummary{}
			if err := json.Unmarshal([]byte(summary.String), m.TraceSummary); err != nil {
				return nil, fmt.Errorf("decode trace summary: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
