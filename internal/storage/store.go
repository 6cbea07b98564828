// Package storage persists per-user chats.
//
// FILES:
//   - store.go:  Store interface, shared chat rules, backend factory
//   - memory.go: in-process backend
//   - sqlite.go: file-backed backend (modernc.org/sqlite, no cgo)
//   - redis.go:  shared backend for multi-instance deployments
//
// DESIGN: Every backend applies the same rules through applyMessage and
// evictionCandidates, and every call is its own read-modify-write so concurrent
// appends from two tabs cannot corrupt a chat. Values returned to callers
// are copies; mutating them never changes stored state.
package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
)

// ErrChatNotFound means the chat does not exist for the user.
var ErrChatNotFound = errors.New("chat not found")

// Store is a per-user chat store.
type Store interface {
	// Create makes a new chat, evicting the user's least recently updated
	// chat when the per-user limit is reached.
	Create(ctx context.Context, userID, title, agentID string) (*model.Chat, error)

	// Get returns a chat owned by userID or ErrChatNotFound.
	Get(ctx context.Context, userID, chatID string) (*model.Chat, error)

	// List returns the user's chats, most recently updated first.
	List(ctx context.Context, userID string) ([]model.Chat, error)

	// AppendMessage adds msg to the chat and bumps its updated_at.
	AppendMessage(ctx context.Context, userID, chatID string, msg model.Message) error

	// Ping reports backend health.
	Ping(ctx context.Context) error

	Close() error
}

// New opens the backend selected by cfg.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case config.StorageMemory, "":
		return NewMemoryStore(cfg.MaxChatsPerUser), nil
	case config.StorageSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, cfg.MaxChatsPerUser)
	case config.StorageRedis:
		return OpenRedis(ctx, RedisConfig{
			URL:          cfg.RedisURL,
			ReadTimeout:  cfg.RedisReadTimeout,
			WriteTimeout: cfg.RedisWriteTimeout,
			DialTimeout:  cfg.RedisDialTimeout,
		}, cfg.MaxChatsPerUser)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// =============================================================================
// SHARED RULES
// =============================================================================

// NewChatID returns an id of the form chat_<12 hex>.
func NewChatID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "chat_" + uuid.NewString()[:12]
	}
	return "chat_" + hex.EncodeToString(b[:])
}

// NewMessageID returns a fresh message id.
func NewMessageID() string {
	return "msg_" + uuid.NewString()
}

func newChat(userID, title, agentID string, now time.Time) *model.Chat {
	if title == "" {
		title = model.DefaultChatTitle
	}
	return &model.Chat{
		ID:        NewChatID(),
		UserID:    userID,
		Title:     title,
		AgentID:   agentID,
		Messages:  []model.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// prepareMessage fills the id and timestamp and deep-copies the summary.
func prepareMessage(msg model.Message, now time.Time) model.Message {
	if msg.ID == "" {
		msg.ID = NewMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	msg.TraceSummary = msg.TraceSummary.Clone()
	return msg
}

// applyMessage appends msg and applies the title rule: the first message,
// when it is a user message, names the chat.
func applyMessage(chat *model.Chat, msg model.Message, now time.Time) {
	chat.Messages = append(chat.Messages, msg)
	chat.UpdatedAt = now
	if len(chat.Messages) == 1 && msg.Role == model.RoleUser {
		chat.Title = model.TitleFromContent(msg.Content)
	}
}

// evictionCandidates returns the ids to delete so that one more chat fits.
func evictionCandidates(chats []model.Chat, max int) []string {
	if max <= 0 || len(chats) < max {
		return nil
	}
	sorted := make([]model.Chat, len(chats))
	copy(sorted, chats)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UpdatedAt.Before(sorted[j].UpdatedAt) })

	n := len(sorted) - max + 1
	ids := make([]string, 0, n)
	for _, c := range sorted[:n] {
		ids = append(ids, c.ID)
	}
	return ids
}

func sortByUpdatedDesc(chats []model.Chat) {
	sort.SliceStable(chats, func(i, j int) bool { return chats[i].UpdatedAt.After(chats[j].UpdatedAt) })
}

func cloneChat(c *model.Chat) *model.Chat {
	out := *c
	out.Messages = make([]model.Message, len(c.Messages))
	for i, m := range c.Messages {
		m.TraceSummary = m.TraceSummary.Clone()
		out.Messages[i] = m
	}
	return &out
}
