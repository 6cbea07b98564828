// Package gateway - chats.go creates and lists the caller's chats.
//
// POST /api/chat only streams into an existing chat, so clients create one
// here first. The chat belongs to the resolved identity, the same way chat
// lookups are scoped in prepareChat.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/model"
)

const maxCreateChatBody = 16 * 1024

// handleCreateChat creates an empty chat for the caller.
func (g *Gateway) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCreateChatBody)

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		g.writeError(w, fmt.Errorf("%w: %v", errInvalidBody, err))
		return
	}
	req.AgentID = strings.TrimSpace(req.AgentID)

	identity, err := g.resolver.Resolve(r)
	if err != nil {
		g.writeError(w, err)
		return
	}

	if req.AgentID != "" {
		agent, ok := g.agents.Get(req.AgentID)
		if !ok {
			g.writeError(w, errNoAgent)
			return
		}
		// Chats store the registry id so renamed endpoints keep resolving.
		req.AgentID = agent.ID
	}

	chat, err := g.store.Create(r.Context(), identity.UserID, strings.TrimSpace(req.Title), req.AgentID)
	if err != nil {
		g.logger.Error().Err(err).Str("user_id", identity.UserID).Msg("failed to create chat")
		g.writeError(w, err)
		return
	}

	g.logger.Info().
		Str("chat_id", chat.ID).
		Str("user_id", identity.UserID).
		Str("agent_id", chat.AgentID).
		Msg("chat created")
	writeJSON(w, http.StatusCreated, chat)
}

// handleListChats returns the caller's chats, most recently updated first.
func (g *Gateway) handleListChats(w http.ResponseWriter, r *http.Request) {
	identity, err := g.resolver.Resolve(r)
	if err != nil {
		g.writeError(w, err)
		return
	}

	chats, err := g.store.List(r.Context(), identity.UserID)
	if err != nil {
		g.logger.Error().Err(err).Str("user_id", identity.UserID).Msg("failed to list chats")
		g.writeError(w, err)
		return
	}
	if chats == nil {
		chats = []model.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}
