package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/adapters/memory"
	"github.com/satriahrh/arunika/gateway/domain/entities"
	"github.com/satriahrh/arunika/gateway/internal/auth"
	"github.com/satriahrh/arunika/gateway/internal/metrics"
	"github.com/satriahrh/arunika/gateway/internal/protocol"
	"github.com/satriahrh/arunika/gateway/internal/session"
	"github.com/satriahrh/arunika/gateway/internal/websocket"
)

type nopHandler struct{}

func (nopHandler) OnConnect(*session.Session)                    {}
func (nopHandler) OnMessage(*session.Session, *protocol.Message) {}
func (nopHandler) OnAudio(*session.Session, protocol.AudioFrame) {}
func (nopHandler) OnDisconnect(*session.Session)                 {}

type nopTransport struct{}

func (nopTransport) SendText([]byte) error   { return nil }
func (nopTransport) SendBinary([]byte) error { return nil }
func (nopTransport) Close(int, string) error { return nil }

func setupRoutes(t *testing.T, adminKey string) (*echo.Echo, Dependencies) {
	t.Helper()
	logger := zap.NewNop()
	registry := session.NewRegistry(logger)
	validator := auth.NewValidator("test-secret")
	handshaker := websocket.NewHandshaker(websocket.HandshakeConfig{}, validator, logger)

	deps := Dependencies{
		WebSocket:     websocket.NewServer(handshaker, registry, nopHandler{}, logger, metrics.NewNop()),
		Registry:      registry,
		Conversations: memory.NewConversationRepository(),
		Validator:     validator,
		AdminKey:      adminKey,
		Logger:        logger,
	}

	e := echo.New()
	InitRoutes(e, deps)
	return e, deps
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e, deps := setupRoutes(t, "")
	deps.Registry.Register(session.New(nopTransport{}, session.Options{DeviceID: "device-1"}))

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "voice-gateway", body.Service)
	assert.Equal(t, 1, body.Sessions)
}

func TestSessions(t *testing.T) {
	e, deps := setupRoutes(t, "")
	s := session.New(nopTransport{}, session.Options{DeviceID: "device-1", ClientID: "client-1"})
	deps.Registry.Register(s)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list SessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, s.ID, list.Sessions[0].ID)
	assert.Equal(t, "device-1", list.Sessions[0].DeviceID)

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+s.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversations(t *testing.T) {
	e, deps := setupRoutes(t, "")
	conv := entities.NewConversation("session-1", "device-1", "client-1")
	require.NoError(t, deps.Conversations.Create(context.Background(), conv))

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantCount  int
	}{
		{name: "by device", target: "/api/v1/conversations?device_id=device-1", wantStatus: http.StatusOK, wantCount: 1},
		{name: "other device", target: "/api/v1/conversations?device_id=device-2", wantStatus: http.StatusOK, wantCount: 0},
		{name: "missing device", target: "/api/v1/conversations", wantStatus: http.StatusBadRequest},
		{name: "invalid limit", target: "/api/v1/conversations?device_id=device-1&limit=-1", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, httptest.NewRequest(http.MethodGet, tt.target, nil))
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var body ConversationsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCount, body.Count)
		})
	}

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/"+conv.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIssueDeviceToken(t *testing.T) {
	tests := []struct {
		name       string
		adminKey   string
		headerKey  string
		body       string
		wantStatus int
	}{
		{name: "provisioning disabled", body: `{"device_id":"device-1"}`, wantStatus: http.StatusNotFound},
		{name: "wrong key", adminKey: "admin", headerKey: "nope", body: `{"device_id":"device-1"}`, wantStatus: http.StatusUnauthorized},
		{name: "missing device", adminKey: "admin", headerKey: "admin", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "issued", adminKey: "admin", headerKey: "admin", body: `{"device_id":"device-1","client_id":"client-1"}`, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, deps := setupRoutes(t, tt.adminKey)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/device/token", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			if tt.headerKey != "" {
				req.Header.Set(HeaderAdminKey, tt.headerKey)
			}

			rec := serve(e, req)
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var body DeviceTokenResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			claims, err := deps.Validator.ValidateToken(body.Token)
			require.NoError(t, err)
			assert.Equal(t, "device-1", claims.DeviceID)
			assert.Equal(t, "client-1", claims.ClientID)
		})
	}
}
