package agent

import (
	"context"
	"iter"
)

// EventKind identifies an orchestration event.
type EventKind int

const (
	// EventTextDelta carries an incremental piece of model text.
	EventTextDelta EventKind = iota + 1
	// EventModelTurn is emitted once per completed model call.
	EventModelTurn
	// EventToolResult is emitted for every joined tool invocation.
	EventToolResult
	// EventRepair is emitted when the orchestrator completes a request itself.
	EventRepair
	// EventDone carries the final result. It is always the last event on success.
	EventDone
	// EventError carries the fatal error. It is always the last event on failure.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventTextDelta:
		return "delta"
	case EventModelTurn:
		return "turn"
	case EventToolResult:
		return "tool"
	case EventRepair:
		return "repair"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one step of an orchestration as seen by a streaming caller.
type Event struct {
	Kind       EventKind
	Round      int
	Text       string
	Invocation *ToolInvocation
	Result     *OrchestrationResult
	Err        error
}

// HandleStream runs Handle and reports progress on the returned channel,
// which is closed after the EventDone or EventError event. Text deltas are
// only produced when the model supports streaming. Repair and formatting
// work on the assembled turns, exactly as in Handle.
func (o *Orchestrator) HandleStream(ctx context.Context, conv []ConversationMessage, userPhoto string) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		send := func(ev Event) {
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
		res, err := o.handle(ctx, conv, userPhoto, send)
		if err != nil {
			send(Event{Kind: EventError, Err: err})
			return
		}
		send(Event{Kind: EventDone, Result: &res})
	}()
	return out
}

// Transcript is the finished event log of one streamed orchestration.
type Transcript []Event

// Collect drains ch into a Transcript and returns the final result or error.
func Collect(ch <-chan Event) (Transcript, OrchestrationResult, error) {
	var (
		t   Transcript
		res OrchestrationResult
		err error
	)
	for ev := range ch {
		t = append(t, ev)
		switch ev.Kind {
		case EventDone:
			if ev.Result != nil {
				res = *ev.Result
			}
		case EventError:
			err = ev.Err
		}
	}
	if err == nil && (len(t) == 0 || t[len(t)-1].Kind != EventDone) {
		err = context.Canceled
	}
	return t, res, err
}

// Events replays the transcript. Each call starts from the beginning.
func (t Transcript) Events() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for _, ev := range t {
			if !yield(ev) {
				return
			}
		}
	}
}

// Text concatenates the streamed text deltas.
func (t Transcript) Text() string {
	var n int
	for ev := range t.Events() {
		if ev.Kind == EventTextDelta {
			n += len(ev.Text)
		}
	}
	buf := make([]byte, 0, n)
	for ev := range t.Events() {
		if ev.Kind == EventTextDelta {
			buf = append(buf, ev.Text...)
		}
	}
	return string(buf)
}
