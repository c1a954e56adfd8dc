// Package agent drives a tool-calling language model through catalog search
// and promotional image synthesis, and finishes image requests the model
// leaves half done.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Protocol-Lattice/promo-agent/src/concurrent"
	"github.com/Protocol-Lattice/promo-agent/src/errs"
	"github.com/Protocol-Lattice/promo-agent/src/models"
)

const (
	DefaultMaxRounds     = 10
	DefaultModelTimeout  = 30 * time.Second
	DefaultSearchTimeout = 15 * time.Second
	DefaultImageTimeout  = 90 * time.Second
	DefaultParallelTools = 4
)

const defaultPersona = "You are a helpful assistant for micro-influencers. You find products in the catalog and create promotional images of the user with those products."

// Orchestrator runs conversations. It keeps no per-request state and is safe
// for concurrent use.
type Orchestrator struct {
	model   models.ToolCallingModel
	search  ProductSearcher
	images  ImageGenerator
	tools   *toolTable
	intent  IntentPolicy
	format  Formatter
	persona string

	maxRounds     int
	parallelTools int
	modelTimeout  time.Duration
	searchTimeout time.Duration
	imageTimeout  time.Duration

	logger  *zap.Logger
	metrics *Metrics
}

// Options configure a new Orchestrator.
type Options struct {
	Model    models.ToolCallingModel
	Searcher ProductSearcher
	// Images may be nil; generateImage then reports that synthesis is unavailable.
	Images ImageGenerator

	// SystemPrompt replaces the persona line of the system prompt. Tool and
	// workflow rules are always appended.
	SystemPrompt string
	// MaxRounds bounds the number of model calls per request.
	MaxRounds     int
	ParallelTools int
	ModelTimeout  time.Duration
	SearchTimeout time.Duration
	ImageTimeout  time.Duration
	IntentPolicy  IntentPolicy
	Currency      string

	Logger  *zap.Logger
	Metrics *Metrics
}

// New creates an Orchestrator with the provided options.
func New(opts Options) (*Orchestrator, error) {
	if opts.Model == nil {
		return nil, errors.New("orchestrator requires a language model")
	}
	if opts.Searcher == nil {
		return nil, errors.New("orchestrator requires a product searcher")
	}

	o := &Orchestrator{
		model:         opts.Model,
		search:        opts.Searcher,
		images:        opts.Images,
		intent:        opts.IntentPolicy,
		format:        Formatter{Currency: opts.Currency},
		persona:       strings.TrimSpace(opts.SystemPrompt),
		maxRounds:     opts.MaxRounds,
		parallelTools: opts.ParallelTools,
		modelTimeout:  opts.ModelTimeout,
		searchTimeout: opts.SearchTimeout,
		imageTimeout:  opts.ImageTimeout,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}
	if o.intent == nil {
		o.intent = DefaultIntentPolicy
	}
	if o.persona == "" {
		o.persona = defaultPersona
	}
	if o.maxRounds <= 0 {
		o.maxRounds = DefaultMaxRounds
	}
	if o.parallelTools <= 0 {
		o.parallelTools = DefaultParallelTools
	}
	if o.modelTimeout <= 0 {
		o.modelTimeout = DefaultModelTimeout
	}
	if o.searchTimeout <= 0 {
		o.searchTimeout = DefaultSearchTimeout
	}
	if o.imageTimeout <= 0 {
		o.imageTimeout = DefaultImageTimeout
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.Named("orchestrator")

	tools, err := o.bindTools()
	if err != nil {
		return nil, err
	}
	o.tools = tools
	return o, nil
}

// run is the state of one request.
type run struct {
	id         string
	conv       []ConversationMessage
	photo      string
	history    []models.Message
	calls      []ToolInvocation
	seen       int
	toolRounds int
	modelCalls int
	finalText  string
	repaired   bool
	logger     *zap.Logger
	emit       func(Event)
}

// Handle answers a conversation. userPhoto falls back to the latest image
// attached to the conversation. Tool failures end up in the reply text; a
// language model failure is returned as the only error and no partial
// result is produced.
func (o *Orchestrator) Handle(ctx context.Context, conv []ConversationMessage, userPhoto string) (OrchestrationResult, error) {
	return o.handle(ctx, conv, userPhoto, nil)
}

func (o *Orchestrator) handle(ctx context.Context, conv []ConversationMessage, userPhoto string, emit func(Event)) (OrchestrationResult, error) {
	history, err := toHistory(conv)
	if err != nil {
		return OrchestrationResult{}, err
	}
	photo := strings.TrimSpace(userPhoto)
	if photo == "" {
		photo = latestPhoto(conv)
	}

	r := &run{
		id:      uuid.NewString(),
		conv:    conv,
		photo:   photo,
		history: history,
		emit:    emit,
	}
	r.logger = o.logger.With(zap.String("request_id", r.id))
	r.logger.Info("orchestration started",
		zap.Int("messages", len(conv)),
		zap.Bool("has_photo", photo != ""))

	start := time.Now()
	res, err := o.drive(ctx, r)
	o.metrics.observeRequest(r.modelCalls, err)
	if err != nil {
		r.logger.Warn("orchestration failed",
			zap.Int("model_calls", r.modelCalls),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return OrchestrationResult{}, err
	}
	r.logger.Info("orchestration finished",
		zap.Int("model_calls", r.modelCalls),
		zap.Int("tool_rounds", r.toolRounds),
		zap.Int("invocations", len(r.calls)),
		zap.Bool("repaired", r.repaired),
		zap.Bool("has_image", res.ImageURL != ""),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (o *Orchestrator) drive(ctx context.Context, r *run) (OrchestrationResult, error) {
	system := o.systemPrompt(r.photo != "")
	schemas := make([]models.ToolSchema, 0, len(o.tools.order))
	for _, spec := range o.tools.specs() {
		schemas = append(schemas, spec.schema())
	}

	// AwaitingModel / ExecutingTools
	for r.modelCalls < o.maxRounds {
		if err := ctx.Err(); err != nil {
			return OrchestrationResult{}, err
		}
		r.seen = len(r.calls)
		turn, err := o.complete(ctx, r, models.Request{System: system, Messages: r.history, Tools: schemas})
		r.modelCalls++
		if err != nil {
			return OrchestrationResult{}, errs.Upstream("model", err)
		}
		r.finalText = strings.TrimSpace(turn.Text)
		r.emitEvent(Event{Kind: EventModelTurn, Round: r.modelCalls, Text: turn.Text})
		if !turn.HasToolCalls() {
			break
		}

		r.toolRounds++
		calls := assignCallIDs(turn.ToolCalls, len(r.calls))
		round, err := o.dispatch(ctx, r, calls)
		if err != nil {
			return OrchestrationResult{}, err
		}
		r.calls = append(r.calls, round...)

		r.history = append(r.history, models.Message{Role: models.RoleAssistant, Content: turn.Text, ToolCalls: calls})
		for _, inv := range round {
			r.history = append(r.history, models.Message{
				Role:       models.RoleTool,
				Content:    toolResultContent(inv),
				ToolCallID: inv.CallID,
				ToolName:   inv.ToolName,
			})
		}
		if r.modelCalls == o.maxRounds {
			r.logger.Warn("round bound reached", zap.Int("max_rounds", o.maxRounds))
		}
	}

	// Completing
	if err := ctx.Err(); err != nil {
		return OrchestrationResult{}, err
	}
	if inv, ok := o.repair(ctx, r); ok {
		r.calls = append(r.calls, inv)
		r.repaired = true
		if inv.Failed() {
			// Show the products next to the reason the image is missing.
			r.seen = 0
		}
	}
	if err := ctx.Err(); err != nil {
		return OrchestrationResult{}, err
	}

	// Done
	res := o.format.Format(r.finalText, r.calls, r.seen)
	res.Invocations = r.calls
	res.ModelCalls = r.modelCalls
	res.Repaired = r.repaired
	return res, nil
}

// complete makes one model call under the model timeout. Streaming models are
// used when someone is listening for text deltas.
func (o *Orchestrator) complete(ctx context.Context, r *run, req models.Request) (models.Turn, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.modelTimeout)
	defer cancel()

	start := time.Now()
	var (
		turn models.Turn
		err  error
	)
	if sm, ok := o.model.(models.StreamingModel); ok && r.emit != nil {
		var ch <-chan models.StreamChunk
		ch, err = sm.Stream(callCtx, req)
		if err == nil {
			turn, err = models.Collect(callCtx, ch, func(delta string) {
				r.emitEvent(Event{Kind: EventTextDelta, Round: r.modelCalls + 1, Text: delta})
			})
		}
	} else {
		turn, err = o.model.Complete(callCtx, req)
	}
	o.metrics.observeModel(time.Since(start), err)
	if err != nil {
		r.logger.Warn("model call failed", zap.Int("call", r.modelCalls+1), zap.Error(err))
		return models.Turn{}, err
	}
	r.logger.Debug("model turn",
		zap.Int("call", r.modelCalls+1),
		zap.Int("tool_calls", len(turn.ToolCalls)),
		zap.String("finish_reason", turn.FinishReason),
		zap.Duration("elapsed", time.Since(start)))
	return turn, nil
}

// dispatch runs one round of tool calls concurrently and joins the results
// in call order. Partial results are dropped if ctx ends.
func (o *Orchestrator) dispatch(ctx context.Context, r *run, calls []models.ToolCall) ([]ToolInvocation, error) {
	base := len(r.calls)
	round := r.toolRounds
	invs, err := concurrent.Join(ctx, calls, o.parallelTools, func(ctx context.Context, i int, call models.ToolCall) ToolInvocation {
		inv := ToolInvocation{
			Ordinal:  base + i + 1,
			Round:    round,
			CallID:   call.ID,
			ToolName: call.Name,
		}
		kind, ok := ParseToolKind(call.Name)
		if !ok {
			inv.fail(errs.Invalid("dispatch", "unknown tool %q", call.Name))
			return inv
		}
		inv.Tool = kind
		inv.ToolName = kind.String()

		args, repaired, err := parseArguments(call.Arguments)
		if err != nil {
			inv.fail(err)
			return inv
		}
		if repaired {
			r.logger.Debug("repaired tool arguments", zap.String("tool", inv.ToolName), zap.String("raw", call.Arguments))
		}
		inv.Arguments = args
		o.execute(ctx, kind, ToolRequest{Arguments: args, UserPhoto: r.photo}, &inv)
		return inv
	})
	if err != nil {
		return nil, err
	}
	for _, inv := range invs {
		r.logger.Info("tool invoked", invocationFields(inv)...)
		r.emitEvent(Event{Kind: EventToolResult, Round: round, Invocation: &inv})
	}
	return invs, nil
}

func (r *run) emitEvent(ev Event) {
	if r.emit != nil {
		r.emit(ev)
	}
}

// assignCallIDs fills in ids some providers omit so tool results can be
// matched to their calls.
func assignCallIDs(calls []models.ToolCall, offset int) []models.ToolCall {
	out := make([]models.ToolCall, len(calls))
	for i, c := range calls {
		if strings.TrimSpace(c.ID) == "" {
			c.ID = fmt.Sprintf("call_%d", offset+i+1)
		}
		out[i] = c
	}
	return out
}

func toHistory(conv []ConversationMessage) ([]models.Message, error) {
	if len(conv) == 0 {
		return nil, errs.Invalid("handle", "conversation is empty")
	}
	history := make([]models.Message, 0, len(conv))
	hasUser := false
	for i, m := range conv {
		switch m.Role {
		case models.RoleUser:
			hasUser = true
		case models.RoleAssistant:
		default:
			return nil, errs.Invalid("handle", "message %d has unsupported role %q", i, m.Role)
		}
		history = append(history, models.Message{Role: m.Role, Content: m.Content})
	}
	if !hasUser {
		return nil, errs.Invalid("handle", "conversation has no user message")
	}
	return history, nil
}

func (o *Orchestrator) systemPrompt(hasPhoto bool) string {
	var b strings.Builder
	b.WriteString(o.persona)
	b.WriteString("\n\n")
	if hasPhoto {
		b.WriteString("The user HAS uploaded their photo, so you can generate images.\n")
	} else {
		b.WriteString("The user has NOT uploaded a photo yet. Ask them to upload one before generating images.\n")
	}
	b.WriteString("\nAvailable tools:\n")
	for _, spec := range o.tools.specs() {
		b.WriteString("- " + spec.Name + ": " + spec.Description + "\n")
	}
	b.WriteString(`
Workflow rules:
1. When the user asks about products, call searchProducts and present its results.
2. When the user asks for an image, call searchProducts first, then call generateImage with the chosen product's name and image URL.
3. Never say you did something without calling the tool that does it. Do not announce a step; perform it.
4. Keep going until every step the request implies is finished.`)
	return b.String()
}
