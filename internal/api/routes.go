package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/domain/repositories"
	"github.com/satriahrh/arunika/gateway/internal/auth"
	"github.com/satriahrh/arunika/gateway/internal/session"
	"github.com/satriahrh/arunika/gateway/internal/websocket"
)

const (
	serviceName = "voice-gateway"

	// HeaderAdminKey guards the provisioning endpoint
	HeaderAdminKey = "X-Admin-Key"

	defaultConversationLimit = 20
	maxConversationLimit     = 100
)

// Dependencies are the components the HTTP routes read from
type Dependencies struct {
	WebSocket     *websocket.Server
	Registry      *session.Registry
	Conversations repositories.ConversationRepository
	Validator     *auth.Validator
	AdminKey      string
	Logger        *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies) {
	h := &handlers{deps: deps, logger: deps.Logger}

	// Health check
	e.GET("/health", h.health)

	// Prometheus exposition
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// WebSocket endpoint, authenticated during the handshake
	e.GET("/ws", deps.WebSocket.HandleWebSocket)

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.GET("/sessions", h.listSessions)
	v1.GET("/sessions/:id", h.getSession)
	v1.GET("/conversations", h.listConversations)
	v1.GET("/conversations/:id", h.getConversation)

	// Device provisioning
	v1.POST("/device/token", h.issueDeviceToken)
}

type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

func (h *handlers) health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Service:  serviceName,
		Sessions: h.deps.Registry.Count(),
	})
}

func (h *handlers) listSessions(c echo.Context) error {
	summaries := h.deps.Registry.Summaries()
	return c.JSON(http.StatusOK, SessionsResponse{
		Sessions: summaries,
		Count:    len(summaries),
	})
}

func (h *handlers) getSession(c echo.Context) error {
	s, err := h.deps.Registry.Get(c.Param("id"))
	if errors.Is(err, session.ErrSessionNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Session not found",
		})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Summary())
}

func (h *handlers) listConversations(c echo.Context) error {
	if h.deps.Conversations == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "storage_disabled",
			Message: "Conversation storage is not configured",
		})
	}

	deviceID := c.QueryParam("device_id")
	if deviceID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "device_id is required",
		})
	}

	limit := defaultConversationLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "limit must be a positive integer",
			})
		}
		limit = min(n, maxConversationLimit)
	}

	conversations, err := h.deps.Conversations.ListByDevice(c.Request().Context(), deviceID, limit)
	if err != nil {
		h.logger.Error("Failed to list conversations",
			zap.String("deviceID", deviceID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to list conversations",
		})
	}

	return c.JSON(http.StatusOK, ConversationsResponse{
		Conversations: conversations,
		Count:         len(conversations),
	})
}

func (h *handlers) getConversation(c echo.Context) error {
	if h.deps.Conversations == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "storage_disabled",
			Message: "Conversation storage is not configured",
		})
	}

	conv, err := h.deps.Conversations.GetByID(c.Request().Context(), c.Param("id"))
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Conversation not found",
		})
	}
	if err != nil {
		h.logger.Error("Failed to get conversation", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to get conversation",
		})
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *handlers) issueDeviceToken(c echo.Context) error {
	if h.deps.AdminKey == "" || h.deps.Validator == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "provisioning_disabled",
			Message: "Device provisioning is not enabled",
		})
	}

	key := c.Request().Header.Get(HeaderAdminKey)
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.deps.AdminKey)) != 1 {
		h.logger.Warn("Device token request rejected", zap.String("remoteIP", c.RealIP()))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid admin key",
		})
	}

	var req DeviceTokenRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Error("Failed to bind device token request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.DeviceID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "device_id is required",
		})
	}

	token, expiresAt, err := h.deps.Validator.GenerateDeviceToken(req.DeviceID, req.ClientID)
	if err != nil {
		h.logger.Error("Failed to generate device token",
			zap.String("deviceID", req.DeviceID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	h.logger.Info("Device token issued", zap.String("deviceID", req.DeviceID))
	return c.JSON(http.StatusOK, DeviceTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		DeviceID:  req.DeviceID,
	})
}
