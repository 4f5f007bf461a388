package websocket

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/internal/metrics"
	"github.com/satriahrh/arunika/gateway/internal/protocol"
	"github.com/satriahrh/arunika/gateway/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Devices do not send an Origin header
		return true
	},
}

// Server accepts websocket connections, runs the handshake and pumps
// frames of admitted sessions into an EventHandler.
type Server struct {
	handshaker *Handshaker
	registry   *session.Registry
	handler    EventHandler
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewServer creates a websocket server
func NewServer(handshaker *Handshaker, registry *session.Registry, handler EventHandler, logger *zap.Logger, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Server{
		handshaker: handshaker,
		registry:   registry,
		handler:    handler,
		logger:     logger,
		metrics:    m,
	}
}

// HandleWebSocket upgrades the request and serves the connection in its
// own goroutine.
func (s *Server) HandleWebSocket(c echo.Context) error {
	header := c.Request().Header.Clone()

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", zap.Error(err))
		return err
	}

	go s.serve(conn, header)
	return nil
}

func (s *Server) serve(conn *websocket.Conn, header http.Header) {
	client := newClient(conn, s.logger)
	conn.SetReadLimit(maxMessageSize)

	info, err := s.handshaker.CheckHeaders(header)
	if err != nil {
		s.reject(client, session.PhaseConnecting, err)
		return
	}

	if _, err := s.handshaker.AwaitHello(conn); err != nil {
		s.reject(client, session.PhaseAwaitingHello, err)
		return
	}

	sess := session.New(client, s.handshaker.SessionOptions(info))
	go client.writePump()

	if err := sess.Send(s.handshaker.ServerHello()); err != nil {
		s.logger.Warn("Failed to send server hello", zap.Error(err))
		client.shutdown()
		return
	}

	unregister := s.registry.Register(sess)
	s.handler.OnConnect(sess)

	defer func() {
		sess.MarkClosed()
		unregister()
		client.shutdown()
		s.handler.OnDisconnect(sess)
	}()

	s.readPump(client, sess)
}

// readPump decodes inbound frames until the connection goes away.
func (s *Server) readPump(client *Client, sess *session.Session) {
	conn := client.conn
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		frameType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("Websocket read error",
					zap.String("sessionID", sess.ID),
					zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		inbound, err := protocol.Decode(frameType, raw)
		if err != nil {
			s.metrics.MalformedMessages.Inc()
			s.logger.Warn("Dropping malformed message",
				zap.String("sessionID", sess.ID),
				zap.Error(err))
			continue
		}

		if inbound.IsAudio() {
			s.handler.OnAudio(sess, inbound.Frame)
			continue
		}
		s.handler.OnMessage(sess, inbound.Message)
	}
}

// reject ends a connection that never reached an active session. phase
// is where the handshake stopped.
func (s *Server) reject(client *Client, phase session.Phase, err error) {
	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) {
		s.logger.Info("Connection closed during handshake",
			zap.String("phase", string(phase)),
			zap.Error(err))
		client.shutdown()
		return
	}

	s.metrics.HandshakeRejections.WithLabelValues(rejectionLabel(hsErr.Reason)).Inc()
	s.logger.Warn("Handshake rejected",
		zap.String("phase", string(phase)),
		zap.Int("code", hsErr.Code),
		zap.String("reason", hsErr.Reason),
		zap.Error(hsErr.Err))

	if closeErr := client.Close(hsErr.Code, hsErr.Reason); closeErr != nil {
		s.logger.Debug("Failed to send close frame", zap.Error(closeErr))
	}
}
