package mentor

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/codementor/kit"
)

// RegisterMCP registers the mentor tools on an MCP server.
func (k *Keeper) RegisterMCP(srv *mcp.Server) {
	k.registerProblemTool(srv)
	k.registerHistoryTool(srv)
	k.registerAskTool(srv)
	k.registerProvidersTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// decodeArgs unmarshals tool arguments into a fresh T. Missing arguments
// decode as the zero value.
func decodeArgs[T any](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}

// --- problem ---

type problemRequest struct {
	PageID string `json:"page_id,omitempty"`
}

func (k *Keeper) registerProblemTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "mentor_problem",
		Description: "Get the coding problem currently open in an observed page: title, difficulty, description, language and the user's code.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Observed page ID (default: most recently updated page)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*problemRequest)
		return k.Problem(ctx, r.PageID)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[problemRequest])
}

// --- history ---

type historyRequest struct {
	PageID string `json:"page_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (k *Keeper) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "mentor_history",
		Description: "List recent problem snapshots, newest first.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Observed page ID (default: all pages)"},
			"limit":   map[string]any{"type": "integer", "description": "Max snapshots (default 20)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*historyRequest)
		return k.History(ctx, r.PageID, r.Limit)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[historyRequest])
}

// --- ask ---

func (k *Keeper) registerAskTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "mentor_ask",
		Description: "Ask an AI provider for a hint, a solution or an explanation of the current problem and code.",
		InputSchema: inputSchema(map[string]any{
			"kind":     map[string]any{"type": "string", "enum": []any{"hint", "solution", "explanation", "general"}, "description": "What to ask for (default: general)"},
			"provider": map[string]any{"type": "string", "enum": []any{"openai", "google"}, "description": "AI provider with a stored key"},
			"page_id":  map[string]any{"type": "string", "description": "Observed page ID (default: most recently updated page)"},
		}, []string{"provider"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return k.Ask(ctx, *req.(*AskRequest))
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[AskRequest])
}

// --- providers ---

type providersRequest struct{}

func (k *Keeper) registerProvidersTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "mentor_providers",
		Description: "List AI providers and whether an API key is stored for each.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return k.Providers(ctx)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[providersRequest])
}
