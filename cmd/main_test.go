package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/storage"
)

func TestParseServeFlags(t *testing.T) {
	f, err := parseServeFlags([]string{"-p", "9000", "--agents", "agents.yaml", "-d"})
	require.NoError(t, err)
	assert.Equal(t, 9000, f.port)
	assert.Equal(t, "agents.yaml", f.agents)
	assert.True(t, f.debug)

	_, err = parseServeFlags([]string{"--port", "0"})
	assert.Error(t, err)
	_, err = parseServeFlags([]string{"--port"})
	assert.Error(t, err)
	_, err = parseServeFlags([]string{"--verbose"})
	assert.Error(t, err)
}

func TestParseChatsFlags(t *testing.T) {
	f, err := parseChatsFlags([]string{"-u", "alice", "--agent", "a1", "-t", "Weekend plans"})
	require.NoError(t, err)
	assert.Equal(t, chatsFlags{user: "alice", agent: "a1", title: "Weekend plans"}, f)

	_, err = parseChatsFlags([]string{"--chat"})
	assert.Error(t, err)
}

func TestRunChats_CreateShowList(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(10)

	var out bytes.Buffer
	require.NoError(t, runChats(ctx, store, "dev-user@localhost", []string{"create", "--agent", "agent-1"}, &out))
	chatID := strings.TrimSpace(out.String())
	assert.Regexp(t, `^chat_[0-9a-f]{12}$`, chatID)

	require.NoError(t, store.AppendMessage(ctx, "dev-user@localhost", chatID, model.Message{Role: model.RoleUser, Content: "hello"}))

	out.Reset()
	require.NoError(t, runChats(ctx, store, "dev-user@localhost", []string{"show", "-c", chatID}, &out))
	var chat model.Chat
	require.NoError(t, json.Unmarshal(out.Bytes(), &chat))
	assert.Equal(t, chatID, chat.ID)
	assert.Equal(t, "agent-1", chat.AgentID)
	assert.Equal(t, "hello", chat.Title)
	require.Len(t, chat.Messages, 1)

	out.Reset()
	require.NoError(t, runChats(ctx, store, "dev-user@localhost", []string{"list"}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], chatID)
	assert.Contains(t, lines[1], "agent-1")
}

func TestRunChats_Errors(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(10)
	var out bytes.Buffer

	assert.EqualError(t, runChats(ctx, store, "u", []string{"create"}, &out), "--agent is required")
	assert.EqualError(t, runChats(ctx, store, "u", []string{"show"}, &out), "--chat is required")
	assert.EqualError(t, runChats(ctx, store, "", []string{"list"}, &out), "--user is required")
	assert.ErrorIs(t, runChats(ctx, store, "u", []string{"show", "-c", "chat_missing"}, &out), storage.ErrChatNotFound)
	assert.Error(t, runChats(ctx, store, "u", []string{"rename"}, &out))
}

func TestRequirePersistentStore(t *testing.T) {
	for _, sub := range []string{"create", "show", "list"} {
		err := requirePersistentStore("memory", sub)
		require.Error(t, err, sub)
		assert.Contains(t, err.Error(), "POST /api/chats")
		assert.Error(t, requirePersistentStore("", sub))
		assert.NoError(t, requirePersistentStore("sqlite", sub))
		assert.NoError(t, requirePersistentStore("redis", sub))
	}
	assert.NoError(t, requirePersistentStore("memory", "help"))
}
