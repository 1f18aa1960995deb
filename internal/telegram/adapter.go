// Package telegram bridges bot updates to the chat services. Updates arrive
// over a webhook; replies race a fixed deadline so Telegram never sees a
// stalled request, with slow completions delivered in the background.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digitaldavinci/cbo-bro/internal/model/chat"
	"github.com/digitaldavinci/cbo-bro/internal/service/session"
)

// MaxMessageLength is Telegram's hard cap per message.
const MaxMessageLength = 4096

// API is the slice of the bot client the adapter needs. Satisfied by
// *tgbotapi.BotAPI.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Completer produces a full assistant reply for one turn.
type Completer interface {
	Complete(ctx context.Context, history []chat.Message, query string, mode chat.Mode) (string, error)
}

// AccessChecker reports Telegram user authorization.
type AccessChecker interface {
	IsWhitelisted(userID int64) bool
	IsAdmin(userID int64) bool
}

// Adapter handles Telegram updates.
type Adapter struct {
	api            API
	sessions       *session.Store
	aiClient       Completer
	access         AccessChecker
	appURL         string
	processTimeout time.Duration
}

// NewAdapter builds the Telegram adapter. processTimeout bounds how long a
// user waits before getting an interim reply.
func NewAdapter(api API, sessions *session.Store, aiClient Completer, access AccessChecker, appURL string, processTimeout time.Duration) *Adapter {
	if processTimeout <= 0 {
		processTimeout = 18 * time.Second
	}
	return &Adapter{
		api:            api,
		sessions:       sessions,
		aiClient:       aiClient,
		access:         access,
		appURL:         appURL,
		processTimeout: processTimeout,
	}
}

// RegisterRoutes mounts the webhook endpoint.
func (a *Adapter) RegisterRoutes(r chi.Router) {
	r.Post("/telegram-webhook", a.handleWebhook)
}

// handleWebhook acknowledges Telegram immediately and processes the update on
// its own goroutine, detached from the request context.
func (a *Adapter) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		log.Printf("[telegram] invalid update: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	go a.HandleUpdate(context.Background(), update)
	w.WriteHeader(http.StatusOK)
}

// HandleUpdate processes one Telegram update end to end.
func (a *Adapter) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !a.access.IsWhitelisted(userID) {
		log.Printf("[telegram] rejected user %d (%s)", userID, msg.From.UserName)
		a.reply(chatID, "You are not authorized to use this bot. Contact the administrator for access.")
		return
	}

	if msg.IsCommand() {
		a.handleCommand(ctx, chatID, userID, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	a.handleChatMessage(ctx, chatID, userID, text)
}

func sessionKey(userID int64) string {
	return "user_" + strconv.FormatInt(userID, 10)
}

func (a *Adapter) handleCommand(ctx context.Context, chatID, userID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		welcome := "Welcome to CBO-Bro, your Chief Business Optimization advisor.\n\n" +
			"Send me a business challenge and I'll analyze it through the Four Flows: Value, Info, Work and Cash."
		if a.appURL != "" {
			welcome += "\n\nOpen the Mini-App from the menu button for the full experience."
		}
		a.reply(chatID, welcome)
	case "help":
		a.reply(chatID, "Commands:\n"+
			"/start - introduction\n"+
			"/about - what CBO-Bro does\n"+
			"/mode <analyze|create|research|optimize> - switch advisory mode\n"+
			"/status - your session status\n"+
			"/clear - forget the conversation\n\n"+
			"Anything else is treated as a business question.")
	case "about":
		a.reply(chatID, "CBO-Bro applies the BroVerse Biz Mental Model: every business challenge is analyzed "+
			"through Value Flow, Info Flow, Work Flow and Cash Flow, backed by 12 core capabilities and 64 patterns.")
	case "mode":
		a.handleModeCommand(chatID, userID, msg.CommandArguments())
	case "status":
		a.handleStatusCommand(chatID, userID)
	case "clear":
		a.sessions.Clear(sessionKey(userID))
		a.reply(chatID, "Conversation cleared. Fresh start.")
	default:
		a.reply(chatID, "Unknown command. Try /help.")
	}
}

func (a *Adapter) handleModeCommand(chatID, userID int64, args string) {
	mode := chat.Mode(strings.TrimSpace(strings.ToLower(args)))
	if !mode.Valid() {
		a.reply(chatID, "Usage: /mode <analyze|create|research|optimize>")
		return
	}

	key := sessionKey(userID)
	a.sessions.GetOrCreate(key)
	a.sessions.SetMode(key, mode)
	a.reply(chatID, "Switched to "+string(mode)+" mode.")
}

func (a *Adapter) handleStatusCommand(chatID, userID int64) {
	sess, ok := a.sessions.Get(sessionKey(userID))
	if !ok {
		a.reply(chatID, "No active session. Send a message to start one.")
		return
	}

	status := fmt.Sprintf("Mode: %s\nMessages: %d\nSession started: %s",
		sess.Context.Mode, len(sess.Messages), sess.CreatedAt.Format("2006-01-02 15:04 MST"))
	if a.access.IsAdmin(userID) {
		stats := a.sessions.Stats()
		status += fmt.Sprintf("\n\nTotal sessions: %d (%d active)", stats.Total, stats.Active)
	}
	a.reply(chatID, status)
}

// handleChatMessage runs the AI turn, racing the process deadline. On timeout
// the user gets an interim reply and the final answer lands when ready.
func (a *Adapter) handleChatMessage(ctx context.Context, chatID, userID int64, text string) {
	if a.aiClient == nil {
		a.reply(chatID, "The advisor is offline right now. Try again later.")
		return
	}

	a.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	key := sessionKey(userID)
	sess, _ := a.sessions.GetOrCreate(key)
	mode := sess.Context.Mode

	a.sessions.AppendMessage(key, chat.Message{
		Role:    chat.RoleUser,
		Content: text,
		Mode:    mode,
	})

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		response, err := a.aiClient.Complete(ctx, sess.Messages, text, mode)
		done <- result{response, err}
	}()

	timer := time.NewTimer(a.processTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		a.deliverResult(chatID, key, mode, res.text, res.err)
	case <-timer.C:
		log.Printf("[telegram] slow completion user=%d, replying async", userID)
		a.reply(chatID, "Still thinking about this one... I'll send the full answer shortly.")
		go func() {
			res := <-done
			a.deliverResult(chatID, key, mode, res.text, res.err)
		}()
	}
}

func (a *Adapter) deliverResult(chatID int64, key string, mode chat.Mode, text string, err error) {
	if err != nil {
		log.Printf("[telegram] completion failed chat=%d: %v", chatID, err)
		a.reply(chatID, "Sorry, I couldn't process that. Please try again.")
		return
	}

	a.sessions.AppendMessage(key, chat.Message{
		Role:    chat.RoleAssistant,
		Content: text,
		Mode:    mode,
	})
	a.reply(chatID, text)
}

// reply sends text to the chat, splitting anything over Telegram's cap.
func (a *Adapter) reply(chatID int64, text string) {
	for _, part := range SplitMessage(text, MaxMessageLength) {
		if _, err := a.api.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			log.Printf("[telegram] send failed chat=%d: %v", chatID, err)
			return
		}
	}
}

// SplitMessage cuts text into chunks of at most limit characters, breaking on
// rune boundaries so multi-byte text never gets corrupted.
func SplitMessage(text string, limit int) []string {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		cut := limit
		// prefer the last newline or space in the chunk
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' || runes[i] == ' ' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
