package chat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	chathandler "github.com/digitaldavinci/cbo-bro/internal/handler/chat"
	chatmodel "github.com/digitaldavinci/cbo-bro/internal/model/chat"
	"github.com/digitaldavinci/cbo-bro/internal/service/session"
)

type fakeCompleter struct {
	reply string
	calls int
}

func (f *fakeCompleter) Complete(_ context.Context, _ []chatmodel.Message, _ string, _ chatmodel.Mode) (string, error) {
	f.calls++
	return f.reply, nil
}

type fakeAccess struct {
	users  map[int64]bool
	admins map[int64]bool
}

func (f *fakeAccess) IsWhitelisted(id int64) bool { return f.users[id] || f.admins[id] }
func (f *fakeAccess) IsAdmin(id int64) bool       { return f.admins[id] }

func newTestRouter(t *testing.T, completer chathandler.Completer, access chathandler.AccessChecker) (*chi.Mux, *session.Store) {
	t.Helper()

	store := session.NewStore(session.Options{})
	handler := chathandler.NewHandler(store, completer, access)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, store
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestMessageRoundTrip(t *testing.T) {
	completer := &fakeCompleter{reply: "Focus on cash flow first."}
	access := &fakeAccess{users: map[int64]bool{42: true}}
	r, store := newTestRouter(t, completer, access)

	rec := doJSON(t, r, http.MethodPost, "/api/chat/message", `{"userId":42,"message":"help"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["response"] != "Focus on cash flow first." {
		t.Fatalf("unexpected response: %q", resp["response"])
	}
	if completer.calls != 1 {
		t.Fatalf("expected 1 completion call, got %d", completer.calls)
	}

	history := store.History("user_42", 0)
	if len(history) != 2 {
		t.Fatalf("expected user+assistant stored, got %d", len(history))
	}
}

func TestMessageRejectsUnauthorized(t *testing.T) {
	r, _ := newTestRouter(t, &fakeCompleter{reply: "x"}, &fakeAccess{})

	rec := doJSON(t, r, http.MethodPost, "/api/chat/message", `{"userId":7,"message":"hi"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestMessageValidatesBody(t *testing.T) {
	r, _ := newTestRouter(t, &fakeCompleter{reply: "x"}, &fakeAccess{users: map[int64]bool{1: true}})

	rec := doJSON(t, r, http.MethodPost, "/api/chat/message", `{"userId":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHistoryAndClear(t *testing.T) {
	r, store := newTestRouter(t, &fakeCompleter{reply: "x"}, &fakeAccess{users: map[int64]bool{5: true}})

	store.GetOrCreate("user_5")
	store.AppendMessage("user_5", chatmodel.Message{Role: chatmodel.RoleUser, Content: "one"})
	store.AppendMessage("user_5", chatmodel.Message{Role: chatmodel.RoleAssistant, Content: "two"})

	rec := doJSON(t, r, http.MethodGet, "/api/chat/history/5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Messages []chatmodel.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(resp.Messages))
	}

	rec = doJSON(t, r, http.MethodPost, "/api/chat/clear", `{"userId":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status %d", rec.Code)
	}
	if history := store.History("user_5", 0); len(history) != 0 {
		t.Fatalf("expected cleared history, got %d", len(history))
	}
}

func TestAuthCheck(t *testing.T) {
	access := &fakeAccess{users: map[int64]bool{10: true}, admins: map[int64]bool{99: true}}
	r, _ := newTestRouter(t, &fakeCompleter{}, access)

	rec := doJSON(t, r, http.MethodPost, "/api/auth/check", `{"userId":99}`)
	var resp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp["authorized"] || !resp["isAdmin"] {
		t.Fatalf("expected admin authorized, got %+v", resp)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/auth/check", `{"userId":10}`)
	resp = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp["authorized"] || resp["isAdmin"] {
		t.Fatalf("expected plain user, got %+v", resp)
	}
}
