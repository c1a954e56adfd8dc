// Package errs classifies failures raised while serving a conversation.
//
// Tool-level failures are folded into the reply text by the orchestrator;
// only KindUpstreamUnavailable raised by the language model is fatal.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the failure class of an Error.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors this package did not produce.
	KindUnknown Kind = iota
	// KindUpstreamUnavailable means an external service was unreachable or answered badly.
	KindUpstreamUnavailable
	// KindInvalidInput means the caller (or the model, for tool arguments) sent unusable input.
	KindInvalidInput
	// KindNoResults is a valid empty state, not a failure.
	KindNoResults
	// KindIncompleteWorkflow marks a turn the orchestrator had to finish itself.
	KindIncompleteWorkflow
	// KindSynthesisRejected means the image service answered without a usable image.
	KindSynthesisRejected
)

func (k Kind) String() string {
	switch k {
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindInvalidInput:
		return "invalid_input"
	case KindNoResults:
		return "no_results"
	case KindIncompleteWorkflow:
		return "incomplete_workflow"
	case KindSynthesisRejected:
		return "synthesis_rejected"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Message is safe to show to an end user.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	if msg == "" {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind and Message so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message != "" && t.Message == e.Message
}

var (
	// ErrPhotoRequired is returned by image synthesis when no user photo is attached.
	ErrPhotoRequired = &Error{Kind: KindInvalidInput, Message: "photo required"}
	// ErrNoImageData is returned when the image service answered without image data.
	ErrNoImageData = &Error{Kind: KindSynthesisRejected, Message: "no image data found"}
	// ErrEmptyQuery is returned by search and embedding for blank input.
	ErrEmptyQuery = &Error{Kind: KindInvalidInput, Message: "query is empty"}
)

// New builds a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err under kind. Context cancellation is never reclassified.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Upstream wraps err as KindUpstreamUnavailable.
func Upstream(op string, err error) error {
	return Wrap(KindUpstreamUnavailable, op, err)
}

// Invalid builds a KindInvalidInput error from a format string.
func Invalid(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsUpstream reports whether err is an upstream failure.
func IsUpstream(err error) bool { return KindOf(err) == KindUpstreamUnavailable }

// IsInvalid reports whether err is an input failure.
func IsInvalid(err error) bool { return KindOf(err) == KindInvalidInput }

// UserMessage returns text suitable for embedding in a reply.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		switch e.Kind {
		case KindUpstreamUnavailable:
			return "the service is temporarily unavailable"
		case KindSynthesisRejected:
			return ErrNoImageData.Message
		}
	}
	return err.Error()
}
