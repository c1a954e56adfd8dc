package captions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Protocol-Lattice/promo-agent/src/errs"
	"github.com/Protocol-Lattice/promo-agent/src/models"
)

const AdvisorPrompt = `You are a helpful AI assistant for MicroInfluence, an AI-powered marketplace connecting agencies with micro influencers.

Your role is to help influencers:
- Generate creative social media captions
- Suggest hashtags for their content
- Give advice on product promotion
- Answer questions about influencer marketing

Be friendly, creative, and professional. Keep responses concise and actionable.`

// ErrNoMessages rejects an advisor chat with nothing to answer.
var ErrNoMessages = errs.New(errs.KindInvalidInput, "captions.chat", "No messages provided")

type AdvisorOptions struct {
	Model   models.ToolCallingModel
	Timeout time.Duration
	Logger  *zap.Logger
}

// Advisor is a plain, tool-free chat about captions, hashtags and promotion.
type Advisor struct {
	model   models.ToolCallingModel
	timeout time.Duration
	logger  *zap.Logger
}

func NewAdvisor(opts AdvisorOptions) (*Advisor, error) {
	if opts.Model == nil {
		return nil, fmt.Errorf("captions: advisor model is required")
	}
	a := &Advisor{model: opts.Model, timeout: opts.Timeout, logger: opts.Logger}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a, nil
}

// Chat answers the conversation. onDelta sees text as it arrives; models
// that cannot stream deliver the whole reply as one delta.
func (a *Advisor) Chat(ctx context.Context, msgs []models.Message, onDelta func(string)) (string, error) {
	history := advisorHistory(msgs)
	if len(history) == 0 {
		return "", ErrNoMessages
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req := models.Request{System: AdvisorPrompt, Messages: history}
	start := time.Now()
	var (
		turn models.Turn
		err  error
	)
	if sm, ok := a.model.(models.StreamingModel); ok {
		var ch <-chan models.StreamChunk
		ch, err = sm.Stream(callCtx, req)
		if err == nil {
			turn, err = models.Collect(callCtx, ch, onDelta)
		}
	} else {
		turn, err = a.model.Complete(callCtx, req)
		if err == nil && onDelta != nil && turn.Text != "" {
			onDelta(turn.Text)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errs.Upstream("captions.chat", err)
	}

	a.logger.Debug("advisor replied",
		zap.Int("messages", len(history)),
		zap.Int("chars", len(turn.Text)),
		zap.Duration("took", time.Since(start)))
	return turn.Text, nil
}

// advisorHistory keeps user and assistant text. The advisor has no tools,
// so anything else is read as user text.
func advisorHistory(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := models.RoleUser
		if m.Role == models.RoleAssistant {
			role = models.RoleAssistant
		}
		out = append(out, models.Message{Role: role, Content: m.Content})
	}
	return out
}
