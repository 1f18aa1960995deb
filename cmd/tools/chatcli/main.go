// Command chatcli is a terminal chat client for the WebSocket endpoint. It
// exercises the full relay path: reconnects, offline queueing and streamed
// response reassembly.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/digitaldavinci/cbo-bro/internal/model/chat"
	"github.com/digitaldavinci/cbo-bro/internal/model/envelope"
	"github.com/digitaldavinci/cbo-bro/pkg/relay"
)

func main() {
	url := flag.String("url", "ws://localhost:3003/ws", "chat WebSocket URL")
	sessionID := flag.String("session", "", "session ID to resume (empty for a new session)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := relay.NewClient(relay.Config{URL: *url, SessionID: *sessionID}, relay.Handlers{
		OnStateChange: func(s relay.State) {
			fmt.Printf("\n[%s]\n", s)
		},
		OnEstablished: func(sessionID, connectionID string) {
			fmt.Printf("session %s (connection %s)\n> ", sessionID, connectionID)
		},
		OnRestored: func(messages []chat.Message, sessCtx chat.Context) {
			fmt.Printf("restored %d messages, mode %s\n", len(messages), sessCtx.Mode)
			for _, msg := range messages {
				fmt.Printf("  %s: %s\n", msg.Role, msg.Content)
			}
			fmt.Print("> ")
		},
		OnDelta: func(_, delta, _ string) {
			fmt.Print(delta)
		},
		OnStreamEnd: func(_, _ string) {
			fmt.Print("\n> ")
		},
		OnToolEvent: func(out envelope.Outbound) {
			fmt.Printf("\n[tool %s] %s %v\n> ", out.Tool, out.Status, out.Result)
		},
		OnModeChanged: func(mode chat.Mode) {
			fmt.Printf("mode is now %s\n> ", mode)
		},
		OnError: func(message string) {
			fmt.Printf("\nerror: %s\n> ", message)
		},
	})
	defer client.Close()

	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("connection failed: %v", err)
		}
	}()

	fmt.Println("commands: /mode <name>, /tool <name>, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			fmt.Print("> ")
		case line == "/quit":
			return
		case strings.HasPrefix(line, "/mode "):
			client.SetMode(chat.Mode(strings.TrimPrefix(line, "/mode ")))
		case strings.HasPrefix(line, "/tool "):
			client.SendTool(strings.TrimPrefix(line, "/tool "), nil)
		default:
			client.SendChat(line)
		}
	}
}
