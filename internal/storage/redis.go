package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/config"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
)

// maxTxRetries bounds optimistic-lock retries on contended keys.
const maxTxRetries = 16

// RedisConfig holds connection settings. Timeouts are in seconds.
type RedisConfig struct {
	URL          string
	ReadTimeout  int
	WriteTimeout int
	DialTimeout  int
}

// NewClient parses the URL, applies timeouts and pings the server.
func (r RedisConfig) NewClient(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(r.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if r.ReadTimeout > 0 {
		opts.ReadTimeout = time.Duration(r.ReadTimeout) * time.Second
	}
	if r.WriteTimeout > 0 {
		opts.WriteTimeout = time.Duration(r.WriteTimeout) * time.Second
	}
	if r.DialTimeout > 0 {
		opts.DialTimeout = time.Duration(r.DialTimeout) * time.Second
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisStore keeps each chat as one JSON value plus a per-user sorted set
// of chat ids scored by updated_at. Writes use WATCH/MULTI.
type RedisStore struct {
	client   *redis.Client
	maxChats int
	now      func() time.Time
}

// OpenRedis connects to redis.
func OpenRedis(ctx context.Context, cfg RedisConfig, maxChats int) (*RedisStore, error) {
	client, err := cfg.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return NewRedisStore(client, maxChats), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, maxChats int) *RedisStore {
	if maxChats <= 0 {
		maxChats = config.DefaultMaxChatsPerUser
	}
	return &RedisStore{client: client, maxChats: maxChats, now: time.Now}
}

func chatKey(userID, chatID string) string { return "chat:" + userID + ":" + chatID }
func indexKey(userID string) string        { return "chats:" + userID }

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, userID, title, agentID string) (*model.Chat, error) {
	chat := newChat(userID, title, agentID, s.now())
	data, err := json.Marshal(chat)
	if err != nil {
		return nil, fmt.Errorf("encode chat: %w", err)
	}
	idx := indexKey(userID)

	err = s.retry(ctx, func(tx *redis.Tx) error {
		ids, err := tx.ZRange(ctx, idx, 0, -1).Result()
		if err != nil {
			return err
		}
		var evict []string
		if n := len(ids) - s.maxChats + 1; n > 0 {
			evict = ids[:n]
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range evict {
				pipe.Del(ctx, chatKey(userID, id))
				pipe.ZRem(ctx, idx, id)
			}
			pipe.Set(ctx, chatKey(userID, chat.ID), data, 0)
			pipe.ZAdd(ctx, idx, redis.Z{Score: float64(chat.UpdatedAt.UnixNano()), Member: chat.ID})
			return nil
		})
		return err
	}, idx)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	return s.load(ctx, s.client, userID, chatID)
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, userID string) ([]model.Chat, error) {
	ids, err := s.client.ZRevRange(ctx, indexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	out := make([]model.Chat, 0, len(ids))
	for _, id := range ids {
		chat, err := s.load(ctx, s.client, userID, id)
		if errors.Is(err, ErrChatNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *chat)
	}
	return out, nil
}

// AppendMessage implements Store.
func (s *RedisStore) AppendMessage(ctx context.Context, userID, chatID string, msg model.Message) error {
	key := chatKey(userID, chatID)

	return s.retry(ctx, func(tx *redis.Tx) error {
		chat, err := s.load(ctx, tx, userID, chatID)
		if err != nil {
			return err
		}
		now := s.now()
		applyMessage(chat, prepareMessage(msg, now), now)

		data, err := json.Marshal(chat)
		if err != nil {
			return fmt.Errorf("encode chat: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, indexKey(userID), redis.Z{Score: float64(now.UnixNano()), Member: chatID})
			return nil
		})
		return err
	}, key)
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable, userID, chatID string) (*model.Chat, error) {
	data, err := c.Get(ctx, chatKey(userID, chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	var chat model.Chat
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, fmt.Errorf("decode chat: %w", err)
	}
	if chat.Messages == nil {
		chat.Messages = []model.Message{}
	}
	return &chat, nil
}

func (s *RedisStore) retry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}
