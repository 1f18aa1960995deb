// Package ai wraps the upstream chat model behind non-streaming and streaming
// calls that speak the normalized chunk vocabulary.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/digitaldavinci/cbo-bro/internal/config"
	"github.com/digitaldavinci/cbo-bro/internal/model/chat"
)

const historyLimit = 10

// Client runs conversation turns through the configured chat model.
type Client struct {
	chatModel    model.ChatModel
	chain        compose.Runnable[map[string]any, *schema.Message]
	systemPrompt string
	streaming    bool
}

// NewClient compiles the prompt chain against the configured provider.
// systemPrompt overrides the built-in CBO prompt when non-empty.
func NewClient(ctx context.Context, cfg config.AIConfig, systemPrompt string) (*Client, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	return &Client{
		chatModel:    chatModel,
		chain:        runnable,
		systemPrompt: systemPrompt,
		streaming:    cfg.StreamResponse,
	}, nil
}

// StreamingEnabled reports whether streamed responses are configured.
func (c *Client) StreamingEnabled() bool {
	return c.streaming
}

// SetSystemPrompt swaps the system prompt, e.g. after an admin config deploy.
func (c *Client) SetSystemPrompt(prompt string) {
	if prompt != "" {
		c.systemPrompt = prompt
	}
}

// Complete runs a non-streaming turn and returns the full assistant reply.
func (c *Client) Complete(ctx context.Context, history []chat.Message, query string, mode chat.Mode) (string, error) {
	input := c.buildChainInput(history, query, mode)

	response, err := c.chain.Invoke(ctx, input,
		compose.WithChatModelOption(model.WithTemperature(mode.Temperature())))
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	log.Printf("[ai] completed turn mode=%s length=%d", mode, len(response.Content))
	return response.Content, nil
}

// Stream runs a streaming turn. onChunk is invoked synchronously for each
// normalized event, in generation order; an error chunk is always delivered
// before the error return so callers can emit a graceful envelope first.
// Returns the assembled final text.
func (c *Client) Stream(ctx context.Context, history []chat.Message, query string, mode chat.Mode, onChunk func(Chunk)) (string, error) {
	input := c.buildChainInput(history, query, mode)

	stream, err := c.chain.Stream(ctx, input,
		compose.WithChatModelOption(model.WithTemperature(mode.Temperature())))
	if err != nil {
		onChunk(Chunk{Type: ChunkError, Err: err.Error()})
		return "", fmt.Errorf("chat stream failed: %w", err)
	}
	defer stream.Close()

	onChunk(Chunk{Type: ChunkMessageStart})
	onChunk(Chunk{Type: ChunkBlockStart})

	var chunks []*schema.Message
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			onChunk(Chunk{Type: ChunkError, Err: recvErr.Error()})
			return "", fmt.Errorf("chat stream recv failed: %w", recvErr)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			onChunk(Chunk{Type: ChunkTextDelta, Content: chunk.Content})
		}
	}

	merged, err := schema.ConcatMessages(chunks)
	if err != nil {
		onChunk(Chunk{Type: ChunkError, Err: err.Error()})
		return "", fmt.Errorf("concat stream chunks failed: %w", err)
	}

	onChunk(Chunk{Type: ChunkBlockStop})
	onChunk(Chunk{Type: ChunkMessageStop})

	return merged.Content, nil
}

func (c *Client) buildChainInput(history []chat.Message, query string, mode chat.Mode) map[string]any {
	return map[string]any{
		"system":  c.systemPrompt + "\n\nCurrent mode: " + string(mode) + ".",
		"history": buildHistoryMessages(history),
		"query":   query,
	}
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
