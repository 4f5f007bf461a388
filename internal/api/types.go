package api

import (
	"time"

	"github.com/satriahrh/arunika/gateway/domain/entities"
	"github.com/satriahrh/arunika/gateway/internal/session"
)

// HealthResponse is returned by the health check
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Sessions int    `json:"sessions"`
}

// SessionsResponse lists live sessions
type SessionsResponse struct {
	Sessions []session.Summary `json:"sessions"`
	Count    int               `json:"count"`
}

// DeviceTokenRequest represents the request payload for issuing a device token
type DeviceTokenRequest struct {
	DeviceID string `json:"device_id" validate:"required"`
	ClientID string `json:"client_id"`
}

// DeviceTokenResponse represents the response payload for device token issuing
type DeviceTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	DeviceID  string    `json:"device_id"`
}

// ConversationsResponse lists recorded conversations of a device
type ConversationsResponse struct {
	Conversations []*entities.Conversation `json:"conversations"`
	Count         int                      `json:"count"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
