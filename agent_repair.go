package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Protocol-Lattice/promo-agent/src/errs"
)

// repair finishes an image request the model abandoned after searching. It
// fires only when the single tool round was a lone successful product search,
// the latest user message asks for an image and a photo is available. The top
// product is then rendered with RepairScene without consulting the model.
func (o *Orchestrator) repair(ctx context.Context, r *run) (ToolInvocation, bool) {
	if r.toolRounds != 1 || len(r.calls) != 1 {
		return ToolInvocation{}, false
	}
	searched := r.calls[0]
	if searched.Tool != ToolSearchProducts || len(searched.Products()) == 0 {
		return ToolInvocation{}, false
	}
	if r.photo == "" || !o.intent(lastUserMessage(r.conv)) {
		return ToolInvocation{}, false
	}

	top := searched.Products()[0]
	r.logger.Info("completing abandoned image request",
		zap.Stringer("kind", errs.KindIncompleteWorkflow),
		zap.String("product", top.Name))

	args := map[string]any{
		"productName":     top.Name,
		"productImageUrl": top.Image,
		"scene":           RepairScene,
	}
	inv := ToolInvocation{
		Ordinal:   len(r.calls) + 1,
		CallID:    "repair_" + strings.ReplaceAll(r.id, "-", "")[:8],
		Tool:      ToolGenerateImage,
		ToolName:  ToolGenerateImage.String(),
		Arguments: args,
		Repair:    true,
	}
	o.execute(ctx, ToolGenerateImage, ToolRequest{Arguments: args, UserPhoto: r.photo}, &inv)

	outcome := "success"
	if inv.Failed() {
		outcome = "failure"
	}
	o.metrics.observeRepair(outcome)
	r.logger.Info("tool invoked", invocationFields(inv)...)
	r.emitEvent(Event{Kind: EventRepair, Invocation: &inv})
	return inv, true
}
