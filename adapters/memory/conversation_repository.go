package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/satriahrh/arunika/gateway/domain/entities"
	"github.com/satriahrh/arunika/gateway/domain/repositories"
)

// ConversationRepository is an in-memory ConversationRepository for
// development and tests. Returned conversations are copies.
type ConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]*entities.Conversation // id -> conversation
	byDevice      map[string][]string               // device_id -> conversation ids
}

var _ repositories.ConversationRepository = (*ConversationRepository)(nil)

// NewConversationRepository creates an empty repository
func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		conversations: make(map[string]*entities.Conversation),
		byDevice:      make(map[string][]string),
	}
}

// Create implements repositories.ConversationRepository
func (m *ConversationRepository) Create(ctx context.Context, conversation *entities.Conversation) error {
	if conversation == nil {
		return errors.New("conversation cannot be nil")
	}
	if err := conversation.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conversation.ID]; exists {
		return fmt.Errorf("conversation %s already exists", conversation.ID)
	}
	m.conversations[conversation.ID] = clone(conversation)
	m.byDevice[conversation.DeviceID] = append(m.byDevice[conversation.DeviceID], conversation.ID)
	return nil
}

// AppendTurn implements repositories.ConversationRepository
func (m *ConversationRepository) AppendTurn(ctx context.Context, id string, turn entities.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conversation, ok := m.conversations[id]
	if !ok {
		return fmt.Errorf("%w: %s", repositories.ErrConversationNotFound, id)
	}
	conversation.AddTurn(turn)
	return nil
}

// Close implements repositories.ConversationRepository
func (m *ConversationRepository) Close(ctx context.Context, id string, closedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conversation, ok := m.conversations[id]
	if !ok {
		return fmt.Errorf("%w: %s", repositories.ErrConversationNotFound, id)
	}
	conversation.Close(closedAt)
	return nil
}

// GetByID implements repositories.ConversationRepository
func (m *ConversationRepository) GetByID(ctx context.Context, id string) (*entities.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conversation, ok := m.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repositories.ErrConversationNotFound, id)
	}
	return clone(conversation), nil
}

// ListByDevice implements repositories.ConversationRepository, newest first
func (m *ConversationRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*entities.Conversation, error) {
	if deviceID == "" {
		return nil, errors.New("device ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byDevice[deviceID]
	result := make([]*entities.Conversation, 0, len(ids))
	for _, id := range ids {
		result = append(result, clone(m.conversations[id]))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func clone(c *entities.Conversation) *entities.Conversation {
	cp := *c
	cp.Turns = append([]entities.Turn(nil), c.Turns...)
	if c.ClosedAt != nil {
		closedAt := *c.ClosedAt
		cp.ClosedAt = &closedAt
	}
	return &cp
}
