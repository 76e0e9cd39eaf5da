package registry

import (
	"context"
	"encoding/json"
)

// JSON-RPC 2.0 wire shapes, the same structures pkg/mcp used for its
// tools/list and tools/call methods (see DESIGN.md's C9 entry).

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

const (
	codeInvalidParams = -32602
	codeMethodNotFound = -32601
)

// toolSummary is the wire shape for one entry of a tools/list response —
// bare name plus its declared parameter schema, scoped to a single
// provider's dispatch surface.
type toolSummary struct {
	Name        string         `json:"name"`
	Params      []Param        `json:"params"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Dispatch serves a single JSON-RPC request against one provider's
// dispatch surface: "tools/list" enumerates registered tools by bare
// name, "tools/call" invokes one by name with decoded arguments.
func (r *Registry) Dispatch(ctx context.Context, provider string, req Request) Response {
	switch req.Method {
	case "tools/list":
		return r.handleToolsList(provider, req.ID)
	case "tools/call":
		return r.handleToolsCall(ctx, provider, req.ID, req.Params)
	default:
		return errorResponse(req.ID, codeMethodNotFound, "unknown method: "+req.Method)
	}
}

func (r *Registry) handleToolsList(provider string, id any) Response {
	descs := r.ListProvider(provider)
	tools := make([]toolSummary, 0, len(descs))
	for _, d := range descs {
		tools = append(tools, toolSummary{Name: d.Name, Params: d.Params, InputSchema: d.Schema})
	}
	return Response{JSONRPC: "2.0", ID: id, Result: map[string]any{"tools": tools}}
}

func (r *Registry) handleToolsCall(ctx context.Context, provider string, id any, params json.RawMessage) Response {
	var call struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return errorResponse(id, codeInvalidParams, "invalid params: "+err.Error())
	}

	d, ok := r.LookupBare(provider, call.Name)
	if !ok {
		return errorResponse(id, codeMethodNotFound, "unknown tool: "+call.Name)
	}

	result, err := d.Handler(ctx, call.Arguments)
	if err != nil {
		return errorResponse(id, codeInvalidParams, "tool execution error: "+err.Error())
	}

	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id any, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}
