package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	utcp "github.com/universal-tool-calling-protocol/go-utcp"
	"github.com/universal-tool-calling-protocol/go-utcp/src/providers/base"
	"github.com/universal-tool-calling-protocol/go-utcp/src/providers/cli"
	"github.com/universal-tool-calling-protocol/go-utcp/src/repository"
	"github.com/universal-tool-calling-protocol/go-utcp/src/tools"
	"github.com/universal-tool-calling-protocol/go-utcp/src/transports"

	"github.com/Protocol-Lattice/promo-agent/src/models"
)

// inProcessTransport routes CLI-typed providers registered here to
// in-process handlers and forwards everything else to the original transport.
type inProcessTransport struct {
	inner repository.ClientTransport
	tools map[string][]tools.Tool
}

func (t *inProcessTransport) RegisterToolProvider(ctx context.Context, prov base.Provider) ([]tools.Tool, error) {
	if p, ok := prov.(*cli.CliProvider); ok {
		if list, ok := t.tools[p.Name]; ok {
			return list, nil
		}
	}
	if t.inner != nil {
		return t.inner.RegisterToolProvider(ctx, prov)
	}
	return nil, fmt.Errorf("unsupported provider %T", prov)
}

func (t *inProcessTransport) DeregisterToolProvider(ctx context.Context, prov base.Provider) error {
	if p, ok := prov.(*cli.CliProvider); ok {
		if _, ok := t.tools[p.Name]; ok {
			delete(t.tools, p.Name)
			return nil
		}
	}
	if t.inner != nil {
		return t.inner.DeregisterToolProvider(ctx, prov)
	}
	return nil
}

func (t *inProcessTransport) CallTool(ctx context.Context, toolName string, args map[string]any, prov base.Provider, stream *string) (any, error) {
	if p, ok := prov.(*cli.CliProvider); ok {
		for _, tool := range t.tools[p.Name] {
			if tool.Name == toolName || strings.HasSuffix(tool.Name, "."+toolName) {
				return tool.Handler(nil, args)
			}
		}
	}
	if t.inner != nil {
		return t.inner.CallTool(ctx, toolName, args, prov, stream)
	}
	return nil, fmt.Errorf("tool %s not found", toolName)
}

func (t *inProcessTransport) CallToolStream(ctx context.Context, toolName string, args map[string]any, prov base.Provider) (transports.StreamResult, error) {
	if p, ok := prov.(*cli.CliProvider); ok {
		if _, ok := t.tools[p.Name]; ok {
			return nil, fmt.Errorf("streaming not supported for %s", toolName)
		}
	}
	if t.inner != nil {
		return t.inner.CallToolStream(ctx, toolName, args, prov)
	}
	return nil, fmt.Errorf("unsupported provider %T", prov)
}

// AsUTCPTools exposes the orchestrator and its two tools under provider:
//   - <provider>.ask runs a whole single-message conversation
//   - <provider>.searchProducts and <provider>.generateImage run one tool
func (o *Orchestrator) AsUTCPTools(provider string) []tools.Tool {
	provider = strings.TrimSpace(provider)
	prov := &base.BaseProvider{Name: provider, ProviderType: base.ProviderCLI}

	out := []tools.Tool{{
		Name:        provider + ".ask",
		Description: "Ask the promo assistant. It searches the catalog and can create a promotional image from a photo.",
		Provider:    prov,
		Inputs: tools.ToolInputOutputSchema{
			Type: "object",
			Properties: map[string]any{
				"message": map[string]any{"type": "string", "description": "The user's request."},
				"photo":   map[string]any{"type": "string", "description": "Optional user photo as URL or data URL."},
			},
			Required: []string{"message"},
		},
		Outputs: tools.ToolInputOutputSchema{
			Type: "object",
			Properties: map[string]any{
				"text":     map[string]any{"type": "string"},
				"imageUrl": map[string]any{"type": "string"},
			},
		},
		Handler: tools.ToolHandler(func(_ map[string]interface{}, inputs map[string]interface{}) (map[string]interface{}, error) {
			msg := argString(inputs, "message")
			if msg == "" {
				return nil, fmt.Errorf("missing or invalid 'message'")
			}
			ctx, cancel := o.utcpContext()
			defer cancel()
			res, err := o.Handle(ctx, []ConversationMessage{{Role: models.RoleUser, Content: msg}}, argString(inputs, "photo"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"text": res.Text, "imageUrl": res.ImageURL}, nil
		}),
	}}

	for _, spec := range o.tools.specs() {
		kind, _ := ParseToolKind(spec.Name)
		required, _ := spec.InputSchema["required"].([]string)
		properties, _ := spec.InputSchema["properties"].(map[string]any)
		if kind == ToolGenerateImage {
			properties = withProperty(properties, "photo", map[string]any{"type": "string", "description": "User photo as URL or data URL."})
		}
		out = append(out, tools.Tool{
			Name:        provider + "." + spec.Name,
			Description: spec.Description,
			Provider:    prov,
			Inputs:      tools.ToolInputOutputSchema{Type: "object", Properties: properties, Required: required},
			Handler: tools.ToolHandler(func(_ map[string]interface{}, inputs map[string]interface{}) (map[string]interface{}, error) {
				ctx, cancel := o.utcpContext()
				defer cancel()
				inv := o.InvokeTool(ctx, kind, ToolRequest{Arguments: inputs, UserPhoto: argString(inputs, "photo")})
				if inv.Failed() && inv.Search == nil && inv.Image == nil {
					return nil, inv.Err
				}
				result := map[string]any{}
				if inv.Search != nil {
					result["products"] = inv.Search.Products
				}
				if url := inv.ImageURL(); url != "" {
					result["imageUrl"] = url
				}
				if inv.Error != "" {
					result["error"] = inv.Error
				}
				return result, nil
			}),
		})
	}
	return out
}

// utcpContext bounds a UTCP handler call. go-utcp handlers carry no
// context, so the deadline covers the longest single request.
func (o *Orchestrator) utcpContext() (context.Context, context.CancelFunc) {
	budget := time.Duration(o.maxRounds)*(o.modelTimeout+o.searchTimeout) + o.imageTimeout
	return context.WithTimeout(context.Background(), budget)
}

func withProperty(props map[string]any, name string, schema map[string]any) map[string]any {
	out := make(map[string]any, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out[name] = schema
	return out
}

// RegisterAsUTCPProvider makes AsUTCPTools callable through client. An
// in-process transport is installed under the CLI provider type so calls
// never leave the process.
func (o *Orchestrator) RegisterAsUTCPProvider(ctx context.Context, client utcp.UtcpClientInterface, provider string) error {
	if client == nil {
		return fmt.Errorf("utcp client is nil")
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return fmt.Errorf("utcp provider name is empty")
	}

	transportsMap := client.GetTransports()
	if transportsMap == nil {
		return fmt.Errorf("utcp client transports map is nil")
	}
	existing := transportsMap[string(base.ProviderCLI)]
	shim, ok := existing.(*inProcessTransport)
	if !ok {
		shim = &inProcessTransport{inner: existing}
		transportsMap[string(base.ProviderCLI)] = shim
	}
	if shim.tools == nil {
		shim.tools = make(map[string][]tools.Tool)
	}
	shim.tools[provider] = o.AsUTCPTools(provider)

	_, err := client.RegisterToolProvider(ctx, &cli.CliProvider{
		BaseProvider: base.BaseProvider{Name: provider, ProviderType: base.ProviderCLI},
	})
	return err
}
