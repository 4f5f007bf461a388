package websocket

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/internal/auth"
	"github.com/satriahrh/arunika/gateway/internal/protocol"
	"github.com/satriahrh/arunika/gateway/internal/session"
)

// Handshake close codes
const (
	CloseProtocolError   = websocket.CloseProtocolError   // 1002
	ClosePolicyViolation = websocket.ClosePolicyViolation // 1008
	CloseHelloTimeout    = 4000
)

// Handshake close reasons
const (
	ReasonInvalidVersion = "Invalid protocol version"
	ReasonUnauthorized   = "Unauthorized"
	ReasonHelloTimeout   = "Hello timeout"
	ReasonInvalidHello   = "Invalid hello"
)

// Request headers read during the handshake
const (
	HeaderProtocolVersion = "Protocol-Version"
	HeaderAuthorization   = "Authorization"
	HeaderClientID        = "Client-Id"
	HeaderDeviceID        = "Device-Id"
)

const defaultHelloTimeout = 10 * time.Second

// HandshakeError is returned when a connection must be rejected. Code and
// Reason are sent in the close frame.
type HandshakeError struct {
	Code   int
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake rejected (%d %s): %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("handshake rejected (%d %s)", e.Code, e.Reason)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// HandshakeConfig holds the admission settings
type HandshakeConfig struct {
	ProtocolVersion int
	AuthEnabled     bool
	HelloTimeout    time.Duration
	AudioParams     protocol.AudioParams
	FlushThreshold  int
}

// ConnectInfo is what the headers tell us about a connecting client
type ConnectInfo struct {
	ClientID        string
	DeviceID        string
	ProtocolVersion int
}

// Handshaker admits or rejects new connections
type Handshaker struct {
	config    HandshakeConfig
	validator *auth.Validator
	logger    *zap.Logger
}

// NewHandshaker creates a handshaker. validator may be nil when auth is disabled.
func NewHandshaker(config HandshakeConfig, validator *auth.Validator, logger *zap.Logger) *Handshaker {
	if config.HelloTimeout <= 0 {
		config.HelloTimeout = defaultHelloTimeout
	}
	if config.ProtocolVersion <= 0 {
		config.ProtocolVersion = 1
	}
	if config.AudioParams.Format == "" {
		config.AudioParams = protocol.DefaultAudioParams
	}
	return &Handshaker{
		config:    config,
		validator: validator,
		logger:    logger,
	}
}

// CheckHeaders validates the protocol version and the bearer token.
func (h *Handshaker) CheckHeaders(header http.Header) (ConnectInfo, error) {
	info := ConnectInfo{
		ClientID:        strings.TrimSpace(header.Get(HeaderClientID)),
		DeviceID:        strings.TrimSpace(header.Get(HeaderDeviceID)),
		ProtocolVersion: h.config.ProtocolVersion,
	}

	if raw := strings.TrimSpace(header.Get(HeaderProtocolVersion)); raw != "" {
		version, err := strconv.Atoi(raw)
		if err != nil || version != h.config.ProtocolVersion {
			return info, &HandshakeError{
				Code:   CloseProtocolError,
				Reason: ReasonInvalidVersion,
				Err:    fmt.Errorf("got version %q, want %d", raw, h.config.ProtocolVersion),
			}
		}
		info.ProtocolVersion = version
	} else {
		h.logger.Warn("Protocol-Version header missing, assuming current version",
			zap.Int("protocolVersion", h.config.ProtocolVersion))
	}

	if h.config.AuthEnabled {
		token, ok := auth.BearerToken(header.Get(HeaderAuthorization))
		if !ok {
			return info, &HandshakeError{Code: ClosePolicyViolation, Reason: ReasonUnauthorized, Err: auth.ErrMissingToken}
		}
		if h.validator == nil {
			return info, &HandshakeError{Code: ClosePolicyViolation, Reason: ReasonUnauthorized, Err: errors.New("no token validator configured")}
		}
		claims, err := h.validator.ValidateToken(token)
		if err != nil {
			return info, &HandshakeError{Code: ClosePolicyViolation, Reason: ReasonUnauthorized, Err: err}
		}
		if claims.DeviceID != "" {
			info.DeviceID = claims.DeviceID
		}
		if info.ClientID == "" && claims.ClientID != "" {
			info.ClientID = claims.ClientID
		}
	}

	if info.ClientID == "" {
		info.ClientID = session.UnknownID
	}
	if info.DeviceID == "" {
		info.DeviceID = session.UnknownID
	}
	return info, nil
}

// AwaitHello reads the first frame and requires it to be a valid hello.
// It clears the read deadline before returning successfully.
func (h *Handshaker) AwaitHello(conn *websocket.Conn) (*protocol.Message, error) {
	if err := conn.SetReadDeadline(time.Now().Add(h.config.HelloTimeout)); err != nil {
		return nil, err
	}

	frameType, raw, err := conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &HandshakeError{Code: CloseHelloTimeout, Reason: ReasonHelloTimeout, Err: err}
		}
		return nil, err
	}

	if frameType != websocket.TextMessage {
		return nil, &HandshakeError{Code: ClosePolicyViolation, Reason: ReasonInvalidHello, Err: errors.New("hello must be a text frame")}
	}
	msg, err := protocol.DecodeMessage(raw)
	if err != nil {
		return nil, &HandshakeError{Code: ClosePolicyViolation, Reason: ReasonInvalidHello, Err: err}
	}
	if msg.Type != protocol.MessageTypeHello {
		return nil, &HandshakeError{Code: ClosePolicyViolation, Reason: ReasonInvalidHello, Err: fmt.Errorf("expected hello, got %q", msg.Type)}
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ServerHello is the hello sent back on admission
func (h *Handshaker) ServerHello() protocol.Message {
	return protocol.ServerHello(h.config.AudioParams, h.config.ProtocolVersion)
}

// SessionOptions builds the options for an admitted session
func (h *Handshaker) SessionOptions(info ConnectInfo) session.Options {
	return session.Options{
		ClientID:    info.ClientID,
		DeviceID:    info.DeviceID,
		AudioParams: h.config.AudioParams,
		Policy:      session.NewFlushPolicy(h.config.FlushThreshold),
	}
}

// rejectionLabel maps a close reason to a metric label
func rejectionLabel(reason string) string {
	switch reason {
	case ReasonInvalidVersion:
		return "invalid_version"
	case ReasonUnauthorized:
		return "unauthorized"
	case ReasonHelloTimeout:
		return "hello_timeout"
	case ReasonInvalidHello:
		return "invalid_hello"
	default:
		return "other"
	}
}
