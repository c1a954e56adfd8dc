package agent

import (
	"context"
	"strings"

	"github.com/Protocol-Lattice/promo-agent/src/catalog"
	"github.com/Protocol-Lattice/promo-agent/src/errs"
	"github.com/Protocol-Lattice/promo-agent/src/imagesynth"
	"github.com/Protocol-Lattice/promo-agent/src/models"
)

// ConversationMessage is one entry of the caller's conversation.
type ConversationMessage struct {
	Role          models.Role `json:"role"`
	Content       string      `json:"content"`
	AttachedImage string      `json:"attachedImage,omitempty"`
}

// ToolKind is the closed set of tools the orchestrator can run.
type ToolKind int

const (
	ToolSearchProducts ToolKind = iota + 1
	ToolGenerateImage
)

func (k ToolKind) String() string {
	switch k {
	case ToolSearchProducts:
		return "searchProducts"
	case ToolGenerateImage:
		return "generateImage"
	default:
		return "unknown"
	}
}

// ParseToolKind maps a model-supplied tool name onto a ToolKind.
func ParseToolKind(name string) (ToolKind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "searchproducts":
		return ToolSearchProducts, true
	case "generateimage":
		return ToolGenerateImage, true
	}
	return 0, false
}

// ToolInvocation records one executed tool call. Exactly one of Search or
// Image is set when the call reached its tool; Error is set on any failure.
type ToolInvocation struct {
	Ordinal   int                `json:"ordinal"`
	Round     int                `json:"round"`
	CallID    string             `json:"callId,omitempty"`
	Tool      ToolKind           `json:"-"`
	ToolName  string             `json:"toolName"`
	Arguments map[string]any     `json:"arguments,omitempty"`
	Search    *catalog.Outcome   `json:"search,omitempty"`
	Image     *imagesynth.Result `json:"image,omitempty"`
	Error     string             `json:"error,omitempty"`
	Err       error              `json:"-"`
	// Repair marks a call the orchestrator issued itself. Round is 0 then.
	Repair bool `json:"repair,omitempty"`
}

func (inv ToolInvocation) Failed() bool { return inv.Error != "" || inv.Err != nil }

// Products returns the search results, or nil for any other invocation.
func (inv ToolInvocation) Products() []catalog.ProductRecord {
	if inv.Search == nil {
		return nil
	}
	return inv.Search.Products
}

// ImageURL returns the synthesized image, or "" when there is none.
func (inv ToolInvocation) ImageURL() string {
	if inv.Image == nil || !inv.Image.OK() {
		return ""
	}
	return inv.Image.ImageURL
}

func (inv *ToolInvocation) fail(err error) {
	inv.Err = err
	inv.Error = errs.UserMessage(err)
}

// OrchestrationResult is the single answer produced per request.
type OrchestrationResult struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl,omitempty"`

	Invocations []ToolInvocation `json:"-"`
	ModelCalls  int              `json:"-"`
	Repaired    bool             `json:"-"`
}

// ToolSpec describes how a tool is presented to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

func (s ToolSpec) schema() models.ToolSchema {
	return models.ToolSchema{Name: s.Name, Description: s.Description, Parameters: s.InputSchema}
}

// ToolRequest is a direct, model-free invocation of one tool.
type ToolRequest struct {
	Arguments map[string]any
	UserPhoto string
}

// ProductSearcher is the catalog search tool.
type ProductSearcher interface {
	Search(ctx context.Context, query string, limit int) catalog.Outcome
}

// ImageGenerator is the image synthesis tool.
type ImageGenerator interface {
	Synthesize(ctx context.Context, req imagesynth.Request) imagesynth.Result
}

var (
	_ ProductSearcher = (*catalog.Searcher)(nil)
	_ ImageGenerator  = (*imagesynth.Synthesizer)(nil)
)
