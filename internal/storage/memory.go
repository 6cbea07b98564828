package storage

import (
	"context"
	"sync"
	"time"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
)

// MemoryStore keeps chats in process memory. Chats are lost on restart.
type MemoryStore struct {
	mu       sync.Mutex
	maxChats int
	users    map[string]map[string]*model.Chat
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(maxChats int) *MemoryStore {
	if maxChats <= 0 {
		maxChats = config.DefaultMaxChatsPerUser
	}
	return &MemoryStore{
		maxChats: maxChats,
		users:    make(map[string]map[string]*model.Chat),
		now:      time.Now,
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, userID, title, agentID string) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats := s.users[userID]
	if chats == nil {
		chats = make(map[string]*model.Chat)
		s.users[userID] = chats
	}

	existing := make([]model.Chat, 0, len(chats))
	for _, c := range chats {
		existing = append(existing, *c)
	}
	for _, id := range evictionCandidates(existing, s.maxChats) {
		delete(chats, id)
	}

	chat := newChat(userID, title, agentID, s.now())
	chats[chat.ID] = chat
	return cloneChat(chat), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, userID, chatID string) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.users[userID][chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	return cloneChat(chat), nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, userID string) ([]model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Chat, 0, len(s.users[userID]))
	for _, c := range s.users[userID] {
		out = append(out, *cloneChat(c))
	}
	sortByUpdatedDesc(out)
	return out, nil
}

// AppendMessage implements Store.
func (s *MemoryStore) AppendMessage(_ context.Context, userID, chatID string, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.users[userID][chatID]
	if !ok {
		return ErrChatNotFound
	}
	now := s.now()
	applyMessage(chat, prepareMessage(msg, now), now)
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
