package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/auth"
	"github.com/Healer-AI/p8fs/internal/tenant"
)

// ProtocolVersion is the MCP revision this gateway speaks.
const ProtocolVersion = "2024-11-05"

// JSON-RPC 2.0 error codes, plus the implementation-defined access code.
const (
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeAccessDenied   = -32001
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server routes JSON-RPC methods to sessions and tools. The HTTP layer has
// already verified the bearer token; Dispatch receives the principal it
// yielded.
type Server struct {
	sessions *SessionStore
	tools    *Registry
	logger   *zap.Logger
}

// NewServer builds the gateway over a session store and tool registry.
func NewServer(sessions *SessionStore, tools *Registry, logger *zap.Logger) *Server {
	return &Server{sessions: sessions, tools: tools, logger: logger}
}

// Dispatch handles one request. sessionID is the Mcp-Session-Id header
// value, empty on initialize. The returned session id, when non-empty, must
// be echoed in the response header. A nil response means the request was a
// notification and needs no body.
func (s *Server) Dispatch(ctx context.Context, p *auth.Principal, sessionID string, req Request) (*Response, string) {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errResponse(req.ID, codeInvalidRequest, "not a JSON-RPC 2.0 request"), ""
	}
	if strings.HasPrefix(req.Method, "notifications/") {
		return nil, ""
	}

	switch req.Method {
	case "initialize":
		return s.initialize(ctx, p, req)
	case "ping":
		return okResponse(req.ID, map[string]any{}), ""
	case "tools/list":
		sess, errResp := s.requireSession(ctx, p, sessionID, req.ID)
		if errResp != nil {
			return errResp, ""
		}
		return s.listTools(req.ID), sess.ID
	case "tools/call":
		sess, errResp := s.requireSession(ctx, p, sessionID, req.ID)
		if errResp != nil {
			return errResp, ""
		}
		return s.callTool(ctx, p, sess, req), sess.ID
	default:
		return errResponse(req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method)), ""
	}
}

// initialize allocates the tenant-bound session and reports capabilities.
func (s *Server) initialize(ctx context.Context, p *auth.Principal, req Request) (*Response, string) {
	sess, err := s.sessions.Create(ctx, p)
	if err != nil {
		s.logger.Error("failed to create session", zap.Error(err))
		return errResponse(req.ID, codeInternalError, "failed to create session"), ""
	}
	s.logger.Info("session opened",
		zap.String("tenant_id", sess.TenantID),
		zap.String("client_id", sess.ClientID))

	return okResponse(req.ID, map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		"serverInfo": map[string]any{
			"name":    "p8fs",
			"version": "1.0.0",
		},
	}), sess.ID
}

// requireSession resolves the session header and enforces the tenant match
// between session and token.
func (s *Server) requireSession(ctx context.Context, p *auth.Principal, sessionID string, reqID json.RawMessage) (*Session, *Response) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, errResponse(reqID, codeInvalidRequest, "missing or expired session; call initialize first")
		}
		s.logger.Error("failed to load session", zap.Error(err))
		return nil, errResponse(reqID, codeInternalError, "failed to load session")
	}
	if sess.TenantID != p.TenantID {
		s.logger.Warn("session tenant mismatch",
			zap.String("session_tenant", sess.TenantID),
			zap.String("token_tenant", p.TenantID))
		return nil, errResponse(reqID, codeAccessDenied, ErrTenantMismatch.Error())
	}
	return sess, nil
}

func (s *Server) listTools(reqID json.RawMessage) *Response {
	tools := s.tools.List()
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": t.InputSchema,
		})
	}
	return okResponse(reqID, map[string]any{"tools": out})
}

// callParams is the tools/call parameter shape.
type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// callTool checks scopes, binds the tenant into ctx, runs the handler, and
// wraps the outcome in MCP content. Handler failures surface as isError
// results, not protocol errors.
func (s *Server) callTool(ctx context.Context, p *auth.Principal, sess *Session, req Request) *Response {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errResponse(req.ID, codeInvalidParams, "params must carry a tool name")
	}

	tool, ok := s.tools.Get(params.Name)
	if !ok {
		return errResponse(req.ID, codeInvalidParams, fmt.Sprintf("unknown tool %q", params.Name))
	}
	for _, scope := range tool.Scopes {
		if !p.HasScope(scope) {
			return errResponse(req.ID, codeAccessDenied, fmt.Sprintf("tool %s requires scope %q", tool.Name, scope))
		}
	}

	tc := ToolContext{TenantID: sess.TenantID, UserID: p.UserID, Scopes: p.Scopes}
	ctx = tenant.WithTenantID(ctx, sess.TenantID)
	ctx = tenant.WithUserID(ctx, p.UserID)
	ctx = tenant.WithScopes(ctx, strings.Join(p.Scopes, " "))

	result, err := tool.Handler(ctx, tc, params.Arguments)
	if err != nil {
		s.logger.Warn("tool call failed",
			zap.String("tool", tool.Name),
			zap.String("tenant_id", sess.TenantID),
			zap.Error(err))
		return okResponse(req.ID, toolResult(err.Error(), true))
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return errResponse(req.ID, codeInternalError, "failed to encode tool result")
	}
	s.logger.Debug("tool call completed",
		zap.String("tool", tool.Name),
		zap.String("tenant_id", sess.TenantID))
	return okResponse(req.ID, toolResult(string(raw), false))
}

// toolResult wraps text in the MCP content envelope.
func toolResult(text string, isErr bool) map[string]any {
	out := map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	}
	if isErr {
		out["isError"] = true
	}
	return out
}

func okResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

func errResponse(id json.RawMessage, code int, msg string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: msg}}
}
