package relay_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/digitaldavinci/cbo-bro/internal/model/chat"
	"github.com/digitaldavinci/cbo-bro/internal/model/envelope"
	"github.com/digitaldavinci/cbo-bro/pkg/relay"
)

func TestBackoffDoublesUpToCap(t *testing.T) {
	base := time.Second
	limit := 30 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := relay.Backoff(base, limit, tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: got %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

// scriptServer upgrades connections, records inbound frames and plays back a
// scripted list of outbound envelopes after the first inbound chat. With
// dropFirst set it closes the first connection right after establishing it.
type scriptServer struct {
	mu        sync.Mutex
	received  []envelope.Inbound
	sessions  []string
	connAt    []time.Time
	dropFirst bool
	script    []envelope.Outbound
	upgrader  websocket.Upgrader
}

func (s *scriptServer) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := r.URL.Query().Get("sessionId")

	s.mu.Lock()
	s.sessions = append(s.sessions, sessionID)
	s.connAt = append(s.connAt, time.Now())
	nth := len(s.sessions)
	drop := s.dropFirst && nth == 1
	s.mu.Unlock()

	if sessionID == "" {
		sessionID = "sess-1"
	}
	conn.WriteJSON(envelope.ConnectionEstablished(sessionID, fmt.Sprintf("conn-%d", nth)))

	if drop {
		return
	}

	for {
		var in envelope.Inbound
		if err := conn.ReadJSON(&in); err != nil {
			return
		}

		s.mu.Lock()
		s.received = append(s.received, in)
		s.mu.Unlock()

		switch in.Type {
		case envelope.TypePing:
			conn.WriteJSON(envelope.Pong())
		case envelope.TypeChat:
			for _, out := range s.script {
				conn.WriteJSON(out)
			}
		}
	}
}

func (s *scriptServer) inbound() []envelope.Inbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]envelope.Inbound, len(s.received))
	copy(out, s.received)
	return out
}

func (s *scriptServer) dialedSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sessions))
	copy(out, s.sessions)
	return out
}

func (s *scriptServer) connTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.connAt))
	copy(out, s.connAt)
	return out
}

func startScriptServer(t *testing.T, script []envelope.Outbound) (*httptest.Server, *scriptServer) {
	t.Helper()

	srv := &scriptServer{script: script}
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	t.Cleanup(ts.Close)
	return ts, srv
}

// testContext mirrors testContext(t) for toolchains older than Go 1.24: a
// context canceled when the test ends.
func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStreamReassembly(t *testing.T) {
	script := []envelope.Outbound{
		envelope.StreamStart("m1", chat.ModeAnalyze),
		envelope.StreamChunk("m1", "Value "),
		envelope.StreamChunk("m1", "flow "),
		envelope.StreamChunk("m1", "first."),
		envelope.StreamEnd("m1", chat.Message{ID: "m1", Content: "Value flow first."}),
	}
	ts, _ := startScriptServer(t, script)

	var mu sync.Mutex
	var deltas, cumulatives []string
	var final string

	client := relay.NewClient(relay.Config{URL: wsURL(ts)}, relay.Handlers{
		OnDelta: func(_, delta, cumulative string) {
			mu.Lock()
			deltas = append(deltas, delta)
			cumulatives = append(cumulatives, cumulative)
			mu.Unlock()
		},
		OnStreamEnd: func(_, fullText string) {
			mu.Lock()
			final = fullText
			mu.Unlock()
		},
	})
	defer client.Close()
	go client.Run(testContext(t))

	waitFor(t, func() bool { return client.State() == relay.StateConnected }, "never connected")

	if err := client.SendChat("question"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return final != ""
	}, "stream never finished")

	mu.Lock()
	defer mu.Unlock()
	if len(deltas) != 3 {
		t.Fatalf("expected 3 deltas, got %v", deltas)
	}
	if cumulatives[2] != "Value flow first." {
		t.Fatalf("bad cumulative: %q", cumulatives[2])
	}
	if final != "Value flow first." {
		t.Fatalf("bad final text: %q", final)
	}
}

func TestOfflineQueueFlushesInOrderAndDropsOldest(t *testing.T) {
	ts, srv := startScriptServer(t, nil)

	client := relay.NewClient(relay.Config{URL: wsURL(ts), QueueLimit: 3}, relay.Handlers{})
	defer client.Close()

	// queue while disconnected; limit 3 drops the two oldest
	for _, text := range []string{"one", "two", "three", "four", "five"} {
		if err := client.SendChat(text); err != nil {
			t.Fatalf("SendChat: %v", err)
		}
	}

	go client.Run(testContext(t))
	waitFor(t, func() bool { return len(srv.inbound()) >= 3 }, "queued messages never flushed")

	var contents []string
	for _, in := range srv.inbound() {
		if in.Type == envelope.TypeChat {
			contents = append(contents, in.Content)
		}
	}
	want := []string{"three", "four", "five"}
	if len(contents) != len(want) {
		t.Fatalf("expected %v, got %v", want, contents)
	}
	for i := range want {
		if contents[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, contents)
		}
	}
}

func TestSessionResumeAcrossReconnect(t *testing.T) {
	ts, srv := startScriptServer(t, nil)
	srv.dropFirst = true

	var mu sync.Mutex
	var states []relay.State
	client := relay.NewClient(relay.Config{
		URL:         wsURL(ts),
		SessionID:   "keep-me",
		BackoffBase: 30 * time.Millisecond,
		BackoffCap:  100 * time.Millisecond,
	}, relay.Handlers{
		OnStateChange: func(s relay.State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	defer client.Close()
	go client.Run(testContext(t))

	waitFor(t, func() bool { return len(srv.dialedSessions()) >= 2 }, "client never redialed after the drop")
	waitFor(t, func() bool { return client.State() == relay.StateConnected }, "reconnect never settled")

	dialed := srv.dialedSessions()
	if dialed[0] != "keep-me" || dialed[1] != "keep-me" {
		t.Fatalf("expected both dials to resume the session, got %v", dialed)
	}

	times := srv.connTimes()
	if gap := times[1].Sub(times[0]); gap < 20*time.Millisecond {
		t.Fatalf("expected redial to wait the base delay, got %s", gap)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 || states[0] != relay.StateConnecting {
		t.Fatalf("unexpected state sequence: %v", states)
	}
	var reconnecting bool
	for _, s := range states {
		if s == relay.StateReconnecting {
			reconnecting = true
		}
	}
	if !reconnecting {
		t.Fatalf("expected a reconnecting transition, got %v", states)
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	client := relay.NewClient(relay.Config{
		URL:         "ws://127.0.0.1:1/ws", // nothing listens here
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
		MaxAttempts: 3,
	}, relay.Handlers{})
	defer client.Close()

	err := client.Run(testContext(t))
	if err == nil {
		t.Fatal("expected dial error")
	}
	if client.State() != relay.StateFailed {
		t.Fatalf("expected failed state, got %s", client.State())
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	client := relay.NewClient(relay.Config{URL: "ws://localhost/ws"}, relay.Handlers{})
	client.Close()

	if err := client.SendChat("late"); err == nil {
		t.Fatal("expected ErrClosed")
	}
}

func TestInboundPingGetsPong(t *testing.T) {
	ts, srv := startScriptServer(t, nil)

	client := relay.NewClient(relay.Config{URL: wsURL(ts), PingInterval: 20 * time.Millisecond}, relay.Handlers{})
	defer client.Close()
	go client.Run(testContext(t))

	waitFor(t, func() bool {
		for _, in := range srv.inbound() {
			if in.Type == envelope.TypePing {
				return true
			}
		}
		return false
	}, "client never pinged")

	if client.State() != relay.StateConnected {
		t.Fatalf("expected connected, got %s", client.State())
	}
}
