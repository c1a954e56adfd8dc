package models

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicModel implements ToolCallingModel on the Messages API.
type AnthropicModel struct {
	Client    *anthropic.Client
	Model     string
	MaxTokens int
}

func NewAnthropicModel(model, baseURL, apiKey string) *AnthropicModel {
	opts := []anthropicopt.RequestOption{}
	if apiKey != "" {
		opts = append(opts, anthropicopt.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(baseURL))
	}
	cl := anthropic.NewClient(opts...)
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	return &AnthropicModel{Client: &cl, Model: model, MaxTokens: 2048}
}

func (a *AnthropicModel) Complete(ctx context.Context, req Request) (Turn, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.Model),
		MaxTokens: int64(a.MaxTokens),
		Messages:  anthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, anthropicTool(t))
	}

	msg, err := a.Client.Messages.New(ctx, params)
	if err != nil {
		return Turn{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var (
		text strings.Builder
		turn = Turn{FinishReason: string(msg.StopReason)}
	)
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			turn.ToolCalls = append(turn.ToolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: string(b.Input),
			})
		}
	}
	turn.Text = text.String()
	return turn, nil
}

func anthropicTool(t ToolSchema) anthropic.ToolUnionParam {
	schema := anthropic.ToolInputSchemaParam{Properties: t.Parameters["properties"]}
	if req, ok := t.Parameters["required"].([]string); ok {
		schema.Required = req
	}
	return anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
		Name:        t.Name,
		Description: anthropic.String(t.Description),
		InputSchema: schema,
	}}
}

// anthropicMessages folds consecutive tool results into one user message, as
// the API requires results to follow the assistant's tool_use turn directly.
func anthropicMessages(history []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	var pending []anthropic.ContentBlockParamUnion
	flush := func() {
		if len(pending) > 0 {
			out = append(out, anthropic.NewUserMessage(pending...))
			pending = nil
		}
	}
	for _, m := range history {
		switch m.Role {
		case RoleTool:
			pending = append(pending, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if strings.TrimSpace(tc.Arguments) != "" {
					var decoded any
					if err := json.Unmarshal([]byte(tc.Arguments), &decoded); err == nil {
						input = decoded
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flush()
	return out
}

var _ ToolCallingModel = (*AnthropicModel)(nil)
