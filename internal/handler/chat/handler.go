// Package chat exposes the REST chat surface used by the Mini-App when a
// WebSocket is unavailable, plus the auth check for Telegram users.
package chat

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/digitaldavinci/cbo-bro/internal/model/chat"
	"github.com/digitaldavinci/cbo-bro/internal/service/session"
	"github.com/digitaldavinci/cbo-bro/pkg/utils"
)

const historyLimit = 20

// Completer produces a full assistant reply for one turn.
type Completer interface {
	Complete(ctx context.Context, history []chat.Message, query string, mode chat.Mode) (string, error)
}

// AccessChecker reports Telegram user authorization.
type AccessChecker interface {
	IsWhitelisted(userID int64) bool
	IsAdmin(userID int64) bool
}

// Handler serves the REST chat endpoints.
type Handler struct {
	sessions *session.Store
	aiClient Completer
	access   AccessChecker
}

// NewHandler builds the REST chat handler.
func NewHandler(sessions *session.Store, aiClient Completer, access AccessChecker) *Handler {
	return &Handler{sessions: sessions, aiClient: aiClient, access: access}
}

// RegisterRoutes mounts the chat and auth endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/message", h.handleMessage)
		r.Get("/history/{userID}", h.handleHistory)
		r.Post("/clear", h.handleClear)
	})
	r.Post("/api/auth/check", h.handleAuthCheck)
}

func sessionKey(userID int64) string {
	return "user_" + strconv.FormatInt(userID, 10)
}

type messageRequest struct {
	UserID  int64  `json:"userId"`
	Message string `json:"message"`
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == 0 || req.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "userId and message are required")
		return
	}
	if !h.access.IsWhitelisted(req.UserID) {
		utils.RespondError(w, http.StatusForbidden, "user not authorized")
		return
	}
	if h.aiClient == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai service unavailable")
		return
	}

	key := sessionKey(req.UserID)
	sess, _ := h.sessions.GetOrCreate(key)
	mode := sess.Context.Mode

	h.sessions.AppendMessage(key, chat.Message{
		Role:    chat.RoleUser,
		Content: req.Message,
		Mode:    mode,
	})

	response, err := h.aiClient.Complete(r.Context(), sess.Messages, req.Message, mode)
	if err != nil {
		log.Printf("[chat] completion failed user=%d: %v", req.UserID, err)
		utils.RespondError(w, http.StatusBadGateway, "failed to generate response")
		return
	}

	h.sessions.AppendMessage(key, chat.Message{
		Role:    chat.RoleAssistant,
		Content: response,
		Mode:    mode,
	})

	utils.RespondJSON(w, http.StatusOK, map[string]string{"response": response})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	messages := h.sessions.History(sessionKey(userID), historyLimit)
	if messages == nil {
		messages = []chat.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type clearRequest struct {
	UserID int64 `json:"userId"`
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		utils.RespondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	h.sessions.Clear(sessionKey(req.UserID))
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type authCheckRequest struct {
	UserID int64 `json:"userId"`
}

func (h *Handler) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	var req authCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		utils.RespondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]bool{
		"authorized": h.access.IsWhitelisted(req.UserID),
		"isAdmin":    h.access.IsAdmin(req.UserID),
	})
}
