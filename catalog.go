package agent

import (
	"context"
	"fmt"
)

// toolHandler runs one tool and fills the result fields of inv.
type toolHandler func(ctx context.Context, req ToolRequest, inv *ToolInvocation)

type toolBinding struct {
	kind ToolKind
	spec ToolSpec
	run  toolHandler
}

// toolTable is the dispatch table from ToolKind to handler. It is built once
// in New and never mutated afterwards.
type toolTable struct {
	bindings map[ToolKind]toolBinding
	order    []ToolKind
}

func newToolTable() *toolTable {
	return &toolTable{bindings: make(map[ToolKind]toolBinding)}
}

func (t *toolTable) register(kind ToolKind, spec ToolSpec, run toolHandler) error {
	if run == nil {
		return fmt.Errorf("tool %s has no handler", kind)
	}
	if spec.Name != kind.String() {
		return fmt.Errorf("tool %s advertised as %q", kind, spec.Name)
	}
	if _, exists := t.bindings[kind]; exists {
		return fmt.Errorf("tool %s already registered", kind)
	}
	t.bindings[kind] = toolBinding{kind: kind, spec: spec, run: run}
	t.order = append(t.order, kind)
	return nil
}

func (t *toolTable) lookup(kind ToolKind) (toolBinding, bool) {
	b, ok := t.bindings[kind]
	return b, ok
}

// specs returns the tool specifications in registration order.
func (t *toolTable) specs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(t.order))
	for _, kind := range t.order {
		specs = append(specs, t.bindings[kind].spec)
	}
	return specs
}
