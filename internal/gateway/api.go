// ABOUTME: HTTP API handlers for chat history and the public contact form
// ABOUTME: Chat routes read the AuthContext set by auth.HTTPAuthMiddleware

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/homedecor/support-gateway/internal/auth"
	"github.com/homedecor/support-gateway/internal/jobs"
	"github.com/homedecor/support-gateway/internal/mail"
	"github.com/homedecor/support-gateway/internal/store"
)

const maxContactBody = 64 << 10

var errBadParam = errors.New("invalid parameter")

// ReceiversResponse lists the users the caller can chat with.
type ReceiversResponse struct {
	Receivers []*store.User `json:"receivers"`
}

// ConversationsResponse lists the caller's conversations.
type ConversationsResponse struct {
	Conversations []*store.Conversation `json:"conversations"`
}

// MessagesResponse carries a conversation and its messages in creation
// order. Conversation is null when the peers never talked.
type MessagesResponse struct {
	Conversation *store.Conversation `json:"conversation"`
	Messages     []*store.Message    `json:"messages"`
}

// ContactResponse acknowledges a queued contact request.
type ContactResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	JobID   string `json:"jobId,omitempty"`
}

// handleListReceivers handles GET /api/chat/receivers.
func (g *Gateway) handleListReceivers(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	receivers, err := g.conversation.ListReceivers(r.Context(), authCtx.UserID)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, ReceiversResponse{Receivers: receivers})
}

// handleListConversations handles GET /api/chat/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	limit, err := parseLimit(r, 50)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}

	convs, err := g.conversation.ListConversations(r.Context(), authCtx.UserID, limit)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, ConversationsResponse{Conversations: convs})
}

// handleConversationMessages handles GET /api/chat/conversations/{id}/messages.
func (g *Gateway) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	id, err := parseID(r.PathValue("id"), "id")
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	limit, err := parseLimit(r, g.config.Chat.HistoryLimit)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}

	msgs, err := g.conversation.ConversationMessages(r.Context(), authCtx.UserID, id, limit)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	conv, err := g.conversation.GetConversation(r.Context(), id)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, MessagesResponse{Conversation: conv, Messages: msgs})
}

// handleMessagesWithPeer handles GET /api/chat/messages?peer=ID, the history
// of the caller's latest conversation with one peer.
func (g *Gateway) handleMessagesWithPeer(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	peerID, err := parseID(r.URL.Query().Get("peer"), "peer")
	if err != nil {
		g.sendDomainError(w, err)
		return
	}

	conv, msgs, err := g.conversation.MessagesWithPeer(r.Context(), authCtx.UserID, peerID)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, MessagesResponse{Conversation: conv, Messages: msgs})
}

// handleContact handles POST /api/contact. The form is validated here and
// delivered to the admin by a background job.
func (g *Gateway) handleContact(w http.ResponseWriter, r *http.Request) {
	if !g.contactEnabled {
		g.sendJSONError(w, http.StatusServiceUnavailable, "contact form is not configured")
		return
	}

	var form mail.ContactForm
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxContactBody)).Decode(&form); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := form.Validate(); err != nil {
		g.sendDomainError(w, err)
		return
	}

	task, err := jobs.NewContactAdminTask(form)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	jobID, err := g.jobs.Enqueue(r.Context(), task)
	if err != nil {
		g.logger.Error("failed to enqueue contact request", "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "could not send your request, please try again later")
		return
	}

	g.sendJSON(w, http.StatusAccepted, ContactResponse{
		Success: true,
		Message: "your request was sent to the shop",
		JobID:   jobID,
	})
}

func parseID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", errBadParam, name)
	}
	return id, nil
}

// parseLimit reads ?limit=, falling back to def when absent. Zero means no limit.
func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", errBadParam)
	}
	return limit, nil
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError sends a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// sendDomainError translates a service error into an HTTP response.
func (g *Gateway) sendDomainError(w http.ResponseWriter, err error) {
	code, message := frameError(err)
	if code == "internal_error" {
		g.logger.Error("request failed", "error", err)
	}
	g.sendJSON(w, httpStatus(code), map[string]string{"error": message, "code": code})
}
