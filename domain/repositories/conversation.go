package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/satriahrh/arunika/gateway/domain/entities"
)

// ErrConversationNotFound is returned when no conversation has the given id
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository records the turns exchanged on a session
type ConversationRepository interface {
	Create(ctx context.Context, conversation *entities.Conversation) error
	AppendTurn(ctx context.Context, id string, turn entities.Turn) error
	Close(ctx context.Context, id string, closedAt time.Time) error
	GetByID(ctx context.Context, id string) (*entities.Conversation, error)
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]*entities.Conversation, error)
}
