package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	adminHandler "github.com/digitaldavinci/cbo-bro/internal/handler/admin"
	chatHandler "github.com/digitaldavinci/cbo-bro/internal/handler/chat"
	"github.com/digitaldavinci/cbo-bro/internal/handler/ws"
	middlewarePkg "github.com/digitaldavinci/cbo-bro/internal/middleware"
	"github.com/digitaldavinci/cbo-bro/internal/service/session"
	"github.com/digitaldavinci/cbo-bro/internal/telegram"
	"github.com/digitaldavinci/cbo-bro/pkg/utils"
)

// Deps collects the services the router wires into handlers. Nil optional
// fields disable the matching surface instead of failing startup.
type Deps struct {
	Sessions  *session.Store
	WS        *ws.Handler
	Chat      *chatHandler.Handler
	Admin     *adminHandler.Handler
	Telegram  *telegram.Adapter
	AIEnabled bool
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	started := time.Now()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.Get("/api/status", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{
			"status":          "ok",
			"uptime":          time.Since(started).Round(time.Second).String(),
			"aiEnabled":       deps.AIEnabled,
			"telegramEnabled": deps.Telegram != nil,
		}
		if deps.Sessions != nil {
			status["sessions"] = deps.Sessions.Count()
		}
		if deps.WS != nil {
			status["connections"] = deps.WS.ConnectionCount()
		}
		utils.RespondJSON(w, http.StatusOK, status)
	})

	if deps.WS != nil {
		deps.WS.RegisterRoutes(r)
	}
	if deps.Chat != nil {
		deps.Chat.RegisterRoutes(r)
	}
	if deps.Admin != nil {
		deps.Admin.RegisterRoutes(r)
	}
	if deps.Telegram != nil {
		deps.Telegram.RegisterRoutes(r)
	}

	return r
}
