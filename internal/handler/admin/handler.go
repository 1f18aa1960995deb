// Package admin exposes the token-gated operations surface: bot config
// editing and deployment, whitelist management, and session analytics.
package admin

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digitaldavinci/cbo-bro/internal/service/configstore"
	"github.com/digitaldavinci/cbo-bro/internal/service/session"
	"github.com/digitaldavinci/cbo-bro/internal/service/whitelist"
	"github.com/digitaldavinci/cbo-bro/pkg/utils"
)

// PromptApplier receives the deployed system prompt. Satisfied by *ai.Client.
type PromptApplier interface {
	SetSystemPrompt(prompt string)
}

// Handler serves /api/admin.
type Handler struct {
	token     string
	configs   *configstore.Service
	whitelist *whitelist.Service
	sessions  *session.Store
	applier   PromptApplier
}

// NewHandler builds the admin handler. applier may be nil when no AI client
// is configured.
func NewHandler(token string, configs *configstore.Service, wl *whitelist.Service, sessions *session.Store, applier PromptApplier) *Handler {
	return &Handler{
		token:     token,
		configs:   configs,
		whitelist: wl,
		sessions:  sessions,
		applier:   applier,
	}
}

// RegisterRoutes mounts the admin endpoints behind the bearer check.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.requireToken)

		r.Get("/config", h.handleGetConfig)
		r.Put("/config", h.handleUpdateConfig)
		r.Get("/config/history", h.handleConfigHistory)
		r.Post("/deploy", h.handleDeploy)
		r.Get("/deployments", h.handleDeployments)
		r.Get("/analytics", h.handleAnalytics)
		r.Post("/whitelist/add", h.handleWhitelistAdd)
		r.Post("/whitelist/remove", h.handleWhitelistRemove)
		r.Get("/whitelist", h.handleWhitelistList)
	})
}

// requireToken rejects requests without the configured bearer token. An empty
// configured token disables the whole surface.
func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			utils.RespondError(w, http.StatusServiceUnavailable, "admin surface disabled")
			return
		}

		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token != h.token {
			utils.RespondError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.configs.Active())
}

func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg configstore.BotConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid config body")
		return
	}

	updated, err := h.configs.Update(cfg)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to save config")
		return
	}
	utils.RespondJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleConfigHistory(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"history": h.configs.History()})
}

type deployRequest struct {
	DeployedBy string `json:"deployedBy"`
}

func (h *Handler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	json.NewDecoder(r.Body).Decode(&req)

	dep, err := h.configs.RecordDeployment(req.DeployedBy)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to record deployment")
		return
	}

	if h.applier != nil {
		h.applier.SetSystemPrompt(h.configs.Active().SystemPrompt)
	}
	utils.RespondJSON(w, http.StatusOK, dep)
}

func (h *Handler) handleDeployments(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"deployments": h.configs.Deployments()})
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": h.sessions.Stats()})
}

type whitelistAddRequest struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	Notes     string `json:"notes"`
}

func (h *Handler) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	var req whitelistAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == 0 {
		utils.RespondError(w, http.StatusBadRequest, "user id is required")
		return
	}

	err := h.whitelist.AddUser(whitelist.User{
		ID:        req.ID,
		Username:  req.Username,
		FirstName: req.FirstName,
		Notes:     req.Notes,
	})
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to save whitelist")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"added": true})
}

type whitelistRemoveRequest struct {
	ID int64 `json:"id"`
}

func (h *Handler) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	var req whitelistRemoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == 0 {
		utils.RespondError(w, http.StatusBadRequest, "user id is required")
		return
	}

	if err := h.whitelist.RemoveUser(req.ID); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to save whitelist")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func (h *Handler) handleWhitelistList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"users": h.whitelist.Users()})
}
