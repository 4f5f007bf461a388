package websocket

import (
	"github.com/satriahrh/arunika/gateway/internal/protocol"
	"github.com/satriahrh/arunika/gateway/internal/session"
)

// EventHandler receives the events of admitted sessions. OnMessage and
// OnAudio are called from the session's read goroutine in arrival order.
// OnDisconnect is called exactly once per admitted session.
type EventHandler interface {
	OnConnect(s *session.Session)
	OnMessage(s *session.Session, msg *protocol.Message)
	OnAudio(s *session.Session, frame protocol.AudioFrame)
	OnDisconnect(s *session.Session)
}
