package handler

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/auth"
	"github.com/Healer-AI/p8fs/internal/mcp"
)

// MCPHandler fronts the session gateway. Every request must carry a bearer
// token; the gateway handles sessions and dispatch once the principal is
// established.
type MCPHandler struct {
	verifier auth.Verifier
	server   *mcp.Server
	logger   *zap.Logger
}

// NewMCPHandler wires the verifier and gateway together.
func NewMCPHandler(verifier auth.Verifier, server *mcp.Server, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{verifier: verifier, server: server, logger: logger}
}

// Register mounts the gateway endpoint.
func (h *MCPHandler) Register(e *echo.Echo) {
	e.POST("/mcp", h.Handle)
}

// Handle verifies the bearer token, decodes the JSON-RPC envelope, and
// relays the gateway's response. Notifications answer 202 with no body.
func (h *MCPHandler) Handle(c echo.Context) error {
	token, ok := bearerToken(c)
	if !ok {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
		return c.JSON(http.StatusUnauthorized, oauthError{
			Error:       "invalid_token",
			Description: "bearer token required",
		})
	}
	principal, err := h.verifier.Verify(c.Request().Context(), token)
	if err != nil {
		return handleAuthError(c, err)
	}

	var req mcp.Request
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, mcp.Response{
			JSONRPC: "2.0",
			Error:   &mcp.RPCError{Code: -32700, Message: "parse error"},
		})
	}

	sessionID := c.Request().Header.Get(mcp.SessionHeader)
	resp, newSessionID := h.server.Dispatch(c.Request().Context(), principal, sessionID, req)
	if newSessionID != "" {
		c.Response().Header().Set(mcp.SessionHeader, newSessionID)
	}
	if resp == nil {
		return c.NoContent(http.StatusAccepted)
	}
	return c.JSON(http.StatusOK, resp)
}
