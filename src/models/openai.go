package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenAIModel speaks the chat-completions tool-calling protocol. Pointing
// BaseURL at OpenRouter gives access to any routed model.
type OpenAIModel struct {
	Client    *openai.Client
	Model     string
	MaxTokens int
}

func NewOpenAIModel(model, baseURL, apiKey string) *OpenAIModel {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIModel{Client: openai.NewClientWithConfig(cfg), Model: model}
}

func (o *OpenAIModel) Complete(ctx context.Context, req Request) (Turn, error) {
	resp, err := o.Client.CreateChatCompletion(ctx, o.buildRequest(req, false))
	if err != nil {
		return Turn{}, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Turn{}, errors.New("openai chat: no choices in response")
	}
	choice := resp.Choices[0]
	turn := Turn{Text: choice.Message.Content, FinishReason: string(choice.FinishReason)}
	for _, tc := range choice.Message.ToolCalls {
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return turn, nil
}

// Stream emits text deltas and assembles tool-call fragments by index.
func (o *OpenAIModel) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	stream, err := o.Client.CreateChatCompletionStream(ctx, o.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		defer stream.Close()

		var (
			text    strings.Builder
			finish  string
			partial = map[int]*ToolCall{}
		)
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				send(ctx, ch, StreamChunk{Done: true, Err: fmt.Errorf("openai stream: %w", err)})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.FinishReason != "" {
				finish = string(choice.FinishReason)
			}
			if d := choice.Delta.Content; d != "" {
				text.WriteString(d)
				if !send(ctx, ch, StreamChunk{Delta: d}) {
					return
				}
			}
			for i, tc := range choice.Delta.ToolCalls {
				idx := i
				if tc.Index != nil {
					idx = *tc.Index
				}
				call, ok := partial[idx]
				if !ok {
					call = &ToolCall{}
					partial[idx] = call
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Name = tc.Function.Name
				}
				call.Arguments += tc.Function.Arguments
			}
		}

		turn := Turn{Text: text.String(), FinishReason: finish}
		indexes := make([]int, 0, len(partial))
		for idx := range partial {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			turn.ToolCalls = append(turn.ToolCalls, *partial[idx])
		}
		send(ctx, ch, StreamChunk{Done: true, Turn: turn})
	}()
	return ch, nil
}

func (o *OpenAIModel) buildRequest(req Request, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleTool:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
				Name:       m.ToolName,
			})
		case RoleAssistant:
			out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
				})
			}
			msgs = append(msgs, out)
		default:
			msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		}
	}

	out := openai.ChatCompletionRequest{
		Model:    o.Model,
		Messages: msgs,
		Stream:   stream,
	}
	if o.MaxTokens > 0 {
		out.MaxTokens = o.MaxTokens
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

var _ StreamingModel = (*OpenAIModel)(nil)
