package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/Protocol-Lattice/promo-agent/src/catalog"
	"github.com/Protocol-Lattice/promo-agent/src/errs"
	"github.com/Protocol-Lattice/promo-agent/src/imagesynth"
	"github.com/Protocol-Lattice/promo-agent/src/toon"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RepairScene is the scene used when the orchestrator finishes an image
// request on the model's behalf.
const RepairScene = "modern lifestyle setting, professional photography"

// dataURLPreview is how much of an inline image the model gets to see.
const dataURLPreview = 64

func searchProductsSpec() ToolSpec {
	return ToolSpec{
		Name:        ToolSearchProducts.String(),
		Description: "Search the product catalog by meaning. Returns products with name, brand, category, price and image URL.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What the user is looking for, in natural language.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Number of products to return (%d-%d, default %d).", catalog.MinLimit, catalog.MaxLimit, catalog.DefaultLimit),
				},
			},
			"required": []string{"query"},
		},
	}
}

func generateImageSpec() ToolSpec {
	return ToolSpec{
		Name:        ToolGenerateImage.String(),
		Description: "Generate a promotional image that combines the user's photo with a product. Pass the product name and image URL from searchProducts results.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"productName": map[string]any{
					"type":        "string",
					"description": "Name of the product to feature.",
				},
				"productImageUrl": map[string]any{
					"type":        "string",
					"description": "Image URL of the product, taken from searchProducts results.",
				},
				"scene": map[string]any{
					"type":        "string",
					"description": "Scene description, default \"" + imagesynth.DefaultScene + "\".",
				},
				"customInstructions": map[string]any{
					"type":        "string",
					"description": "Extra instructions appended to the image prompt verbatim.",
				},
			},
			"required": []string{"productName", "productImageUrl"},
		},
	}
}

func (o *Orchestrator) bindTools() (*toolTable, error) {
	table := newToolTable()
	if err := table.register(ToolSearchProducts, searchProductsSpec(), o.runSearch); err != nil {
		return nil, err
	}
	if err := table.register(ToolGenerateImage, generateImageSpec(), o.runGenerateImage); err != nil {
		return nil, err
	}
	return table, nil
}

func (o *Orchestrator) runSearch(ctx context.Context, req ToolRequest, inv *ToolInvocation) {
	query := argString(req.Arguments, "query")
	limit, err := catalog.CoerceLimit(req.Arguments["limit"])
	if err != nil {
		inv.fail(err)
		return
	}
	if o.searchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.searchTimeout)
		defer cancel()
	}
	out := o.search.Search(ctx, query, limit)
	inv.Search = &out
	if out.Err != nil || out.Error != "" {
		inv.Err = out.Err
		inv.Error = out.Error
	}
}

func (o *Orchestrator) runGenerateImage(ctx context.Context, req ToolRequest, inv *ToolInvocation) {
	if o.images == nil {
		inv.fail(errs.New(errs.KindUpstreamUnavailable, "generateImage", "image synthesis is not configured"))
		return
	}
	scene := argString(req.Arguments, "scene")
	if scene == "" {
		scene = argString(req.Arguments, "sceneDescription")
	}
	synthReq := imagesynth.Request{
		ProductName:        argString(req.Arguments, "productName"),
		ProductImageURL:    argString(req.Arguments, "productImageUrl"),
		UserPhoto:          req.UserPhoto,
		Scene:              scene,
		CustomInstructions: argString(req.Arguments, "customInstructions"),
	}
	if o.imageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.imageTimeout)
		defer cancel()
	}
	res := o.images.Synthesize(ctx, synthReq)
	inv.Image = &res
	if !res.OK() {
		inv.Err = res.Err
		inv.Error = res.Error
		if inv.Error == "" {
			inv.Error = errs.ErrNoImageData.Message
		}
	}
}

// InvokeTool runs one tool directly, without the model.
func (o *Orchestrator) InvokeTool(ctx context.Context, kind ToolKind, req ToolRequest) ToolInvocation {
	inv := ToolInvocation{Tool: kind, ToolName: kind.String(), Arguments: req.Arguments}
	o.execute(ctx, kind, req, &inv)
	return inv
}

// Tools returns the tool specifications advertised to the model.
func (o *Orchestrator) Tools() []ToolSpec { return o.tools.specs() }

func (o *Orchestrator) execute(ctx context.Context, kind ToolKind, req ToolRequest, inv *ToolInvocation) {
	binding, ok := o.tools.lookup(kind)
	if !ok {
		inv.fail(errs.Invalid("dispatch", "unknown tool %q", inv.ToolName))
		return
	}
	start := time.Now()
	binding.run(ctx, req, inv)
	status := "ok"
	if inv.Failed() {
		status = "error"
	}
	o.metrics.observeTool(kind.String(), status, time.Since(start))
}

// parseArguments decodes the JSON text a model produced for a tool call.
// Malformed JSON gets one repair attempt before it is rejected.
func parseArguments(raw string) (map[string]any, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]any{}, false, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		if args == nil {
			args = map[string]any{}
		}
		return args, false, nil
	}
	fixed, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, true, errs.Invalid("arguments", "tool arguments are not valid JSON")
	}
	if err := json.Unmarshal([]byte(fixed), &args); err != nil || args == nil {
		return nil, true, errs.Invalid("arguments", "tool arguments are not a JSON object")
	}
	return args, true, nil
}

func argString(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(cast.ToString(v))
}

// toolResultContent renders an invocation for the model. Inline image bytes
// are cut short: the model only needs to know an image exists.
func toolResultContent(inv ToolInvocation) string {
	payload := map[string]any{}
	switch {
	case inv.Search != nil:
		payload["products"] = inv.Search.Products
		payload["count"] = len(inv.Search.Products)
		if inv.Error != "" {
			payload["error"] = inv.Error
		}
	case inv.Image != nil:
		if url := inv.ImageURL(); url != "" {
			payload["success"] = true
			payload["imageUrl"] = previewImageURL(url)
		} else {
			payload["success"] = false
			payload["error"] = inv.Error
			if inv.Image.Diagnostic != "" {
				payload["diagnostic"] = inv.Image.Diagnostic
			}
		}
	default:
		payload["error"] = inv.Error
	}
	out, err := toon.Encode(payload)
	if err != nil {
		return fmt.Sprintf("error: %q", inv.Error)
	}
	return out
}

func previewImageURL(url string) string {
	if !strings.HasPrefix(url, "data:") || len(url) <= dataURLPreview {
		return url
	}
	return fmt.Sprintf("%s... (%d bytes inline image)", url[:dataURLPreview], len(url))
}

func invocationFields(inv ToolInvocation) []zap.Field {
	fields := []zap.Field{
		zap.Int("ordinal", inv.Ordinal),
		zap.Int("round", inv.Round),
		zap.String("tool", inv.ToolName),
		zap.Bool("repair", inv.Repair),
	}
	if inv.Search != nil {
		fields = append(fields, zap.Int("products", len(inv.Search.Products)))
	}
	if inv.Failed() {
		fields = append(fields, zap.String("error", inv.Error), zap.Stringer("kind", errs.KindOf(inv.Err)))
	}
	return fields
}
