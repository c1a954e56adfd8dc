package models

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// DummyModel is an offline tool-calling model for local runs. On a fresh user
// message it calls the first advertised tool with the message as "query";
// once tool results are in the history it summarizes them.
type DummyModel struct {
	Prefix string
}

func NewDummyModel(prefix string) *DummyModel {
	if strings.TrimSpace(prefix) == "" {
		prefix = "Dummy response:"
	}
	return &DummyModel{Prefix: prefix}
}

func (d *DummyModel) Complete(_ context.Context, req Request) (Turn, error) {
	if len(req.Messages) == 0 {
		return Turn{Text: d.Prefix + " <empty conversation>", FinishReason: "stop"}, nil
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role == RoleUser && len(req.Tools) > 0 {
		args, _ := json.Marshal(map[string]any{"query": strings.TrimSpace(last.Content)})
		return Turn{
			ToolCalls:    []ToolCall{{ID: "dummy_call_1", Name: req.Tools[0].Name, Arguments: string(args)}},
			FinishReason: "tool_calls",
		}, nil
	}
	var results []string
	for i := len(req.Messages) - 1; i >= 0 && req.Messages[i].Role == RoleTool; i-- {
		results = append(results, req.Messages[i].ToolName)
	}
	if len(results) > 0 {
		return Turn{Text: fmt.Sprintf("%s processed %d tool result(s).", d.Prefix, len(results)), FinishReason: "stop"}, nil
	}
	return Turn{Text: fmt.Sprintf("%s %s", d.Prefix, strings.TrimSpace(last.Content)), FinishReason: "stop"}, nil
}

// Stream splits the completed turn into word-level chunks.
func (d *DummyModel) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	turn, err := d.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return streamTurn(turn), nil
}

// ScriptedModel replays a fixed sequence of turns and records every request.
// Once the script is exhausted it keeps returning the final turn.
type ScriptedModel struct {
	mu       sync.Mutex
	turns    []Turn
	errs     []error
	requests []Request
}

func NewScriptedModel(turns ...Turn) *ScriptedModel {
	return &ScriptedModel{turns: turns}
}

// FailAt makes call n (zero-based) return err.
func (s *ScriptedModel) FailAt(n int, err error) *ScriptedModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.errs) <= n {
		s.errs = append(s.errs, nil)
	}
	s.errs[n] = err
	return s
}

func (s *ScriptedModel) Complete(_ context.Context, req Request) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.requests)
	s.requests = append(s.requests, cloneRequest(req))
	if n < len(s.errs) && s.errs[n] != nil {
		return Turn{}, s.errs[n]
	}
	if len(s.turns) == 0 {
		return Turn{FinishReason: "stop"}, nil
	}
	if n >= len(s.turns) {
		n = len(s.turns) - 1
	}
	return s.turns[n], nil
}

func (s *ScriptedModel) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	turn, err := s.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return streamTurn(turn), nil
}

// Calls reports how many times the model was invoked.
func (s *ScriptedModel) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of every request seen so far.
func (s *ScriptedModel) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func cloneRequest(req Request) Request {
	req.Messages = append([]Message(nil), req.Messages...)
	req.Tools = append([]ToolSchema(nil), req.Tools...)
	return req
}

func streamTurn(turn Turn) <-chan StreamChunk {
	words := strings.Fields(turn.Text)
	ch := make(chan StreamChunk, len(words)+1)
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		ch <- StreamChunk{Delta: w}
	}
	ch <- StreamChunk{Done: true, Turn: turn}
	close(ch)
	return ch
}

var (
	_ StreamingModel = (*DummyModel)(nil)
	_ StreamingModel = (*ScriptedModel)(nil)
)
