package models

import (
	"context"
	"encoding/json"
	"io"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model's request to invoke a named tool. Arguments is the raw
// JSON text the model produced and may be malformed.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry of the provider-neutral history. Assistant messages
// may carry ToolCalls; tool messages answer exactly one call via ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// ToolSchema advertises a tool. Parameters is a JSON Schema object.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is one model call.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolSchema
}

// Turn is the discrete result of one model call, whether it was batched or
// streamed.
type Turn struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
}

func (t Turn) HasToolCalls() bool { return len(t.ToolCalls) > 0 }

// ToolCallingModel is a language model that can request tool invocations.
type ToolCallingModel interface {
	Complete(ctx context.Context, req Request) (Turn, error)
}

// StreamChunk is one increment of a streamed turn. The final chunk has
// Done set and carries the assembled Turn or an error.
type StreamChunk struct {
	Delta string
	Done  bool
	Turn  Turn
	Err   error
}

// StreamingModel is a ToolCallingModel that can also stream text deltas.
type StreamingModel interface {
	ToolCallingModel
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}

// send delivers c unless ctx ends first. Producers must never block on a
// consumer that has gone away.
func send(ctx context.Context, ch chan<- StreamChunk, c StreamChunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect drains ch into a Turn. onDelta, when non-nil, sees every text delta.
// A channel that closes without a Done chunk is a truncated stream.
func Collect(ctx context.Context, ch <-chan StreamChunk, onDelta func(string)) (Turn, error) {
	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			return Turn{}, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				if err := ctx.Err(); err != nil {
					return Turn{}, err
				}
				return Turn{}, io.ErrUnexpectedEOF
			}
			if chunk.Delta != "" {
				text.WriteString(chunk.Delta)
				if onDelta != nil {
					onDelta(chunk.Delta)
				}
			}
			if chunk.Done {
				if chunk.Err != nil {
					return Turn{}, chunk.Err
				}
				turn := chunk.Turn
				if turn.Text == "" {
					turn.Text = text.String()
				}
				return turn, nil
			}
		}
	}
}

// ArgumentsJSON renders args as the JSON text of a ToolCall.
func ArgumentsJSON(args any) string {
	switch v := args.(type) {
	case nil:
		return "{}"
	case string:
		return v
	case json.RawMessage:
		return string(v)
	case []byte:
		return string(v)
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}
