package models

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// OllamaModel drives a local model through /api/chat with tools.
type OllamaModel struct {
	Client *ollama.Client
	Model  string
}

func NewOllamaModel(model, host string) (*OllamaModel, error) {
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if model == "" {
		model = "llama3.1"
	}
	return &OllamaModel{
		Client: ollama.NewClient(u, &http.Client{Timeout: 120 * time.Second}),
		Model:  model,
	}, nil
}

func (o *OllamaModel) Complete(ctx context.Context, req Request) (Turn, error) {
	chatReq, err := o.buildRequest(req, false)
	if err != nil {
		return Turn{}, err
	}
	var (
		text strings.Builder
		turn Turn
	)
	err = o.Client.Chat(ctx, chatReq, func(resp ollama.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		calls, err := fromOllamaToolCalls(resp.Message.ToolCalls, len(turn.ToolCalls))
		if err != nil {
			return err
		}
		turn.ToolCalls = append(turn.ToolCalls, calls...)
		if resp.Done {
			turn.FinishReason = resp.DoneReason
		}
		return nil
	})
	if err != nil {
		return Turn{}, fmt.Errorf("ollama chat: %w", err)
	}
	turn.Text = text.String()
	return turn, nil
}

func (o *OllamaModel) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	chatReq, err := o.buildRequest(req, true)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		var (
			text strings.Builder
			turn Turn
		)
		err := o.Client.Chat(ctx, chatReq, func(resp ollama.ChatResponse) error {
			if d := resp.Message.Content; d != "" {
				text.WriteString(d)
				if !send(ctx, ch, StreamChunk{Delta: d}) {
					return ctx.Err()
				}
			}
			calls, err := fromOllamaToolCalls(resp.Message.ToolCalls, len(turn.ToolCalls))
			if err != nil {
				return err
			}
			turn.ToolCalls = append(turn.ToolCalls, calls...)
			if resp.Done {
				turn.FinishReason = resp.DoneReason
			}
			return nil
		})
		if err != nil {
			send(ctx, ch, StreamChunk{Done: true, Err: fmt.Errorf("ollama chat: %w", err)})
			return
		}
		turn.Text = text.String()
		send(ctx, ch, StreamChunk{Done: true, Turn: turn})
	}()
	return ch, nil
}

// The ollama api types have shifted between releases; building them through
// their JSON form keeps this adapter independent of the exact struct layout.
func (o *OllamaModel) buildRequest(req Request, stream bool) (*ollama.ChatRequest, error) {
	type wireCall struct {
		Function struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"function"`
	}
	type wireMessage struct {
		Role      string     `json:"role"`
		Content   string     `json:"content"`
		ToolCalls []wireCall `json:"tool_calls,omitempty"`
		ToolName  string     `json:"tool_name,omitempty"`
	}
	wire := make([]wireMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		wire = append(wire, wireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content, ToolName: m.ToolName}
		for _, tc := range m.ToolCalls {
			var c wireCall
			c.Function.Name = tc.Name
			c.Function.Arguments = json.RawMessage(normalizedArgs(tc.Arguments))
			wm.ToolCalls = append(wm.ToolCalls, c)
		}
		wire = append(wire, wm)
	}

	tools := make([]map[string]any, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}

	raw, err := json.Marshal(map[string]any{
		"model":    o.Model,
		"messages": wire,
		"tools":    tools,
		"stream":   stream,
	})
	if err != nil {
		return nil, err
	}
	var out ollama.ChatRequest
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	return &out, nil
}

func fromOllamaToolCalls(calls []ollama.ToolCall, offset int) ([]ToolCall, error) {
	out := make([]ToolCall, 0, len(calls))
	for i, c := range calls {
		args, err := json.Marshal(c.Function.Arguments)
		if err != nil {
			return nil, err
		}
		out = append(out, ToolCall{
			ID:        fmt.Sprintf("call_%d", offset+i),
			Name:      c.Function.Name,
			Arguments: string(args),
		})
	}
	return out, nil
}

// normalizedArgs guarantees valid JSON for the wire; malformed arguments are
// replaced by an empty object.
func normalizedArgs(s string) string {
	if json.Valid([]byte(s)) {
		return s
	}
	return "{}"
}

var _ StreamingModel = (*OllamaModel)(nil)
