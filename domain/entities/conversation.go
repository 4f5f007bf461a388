package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ConversationStatus represents the status of a conversation
type ConversationStatus string

const (
	ConversationStatusActive ConversationStatus = "active"
	ConversationStatusClosed ConversationStatus = "closed"
)

// TurnRole represents who produced a turn
type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

// Turn is one utterance within a conversation
type Turn struct {
	Timestamp  time.Time    `json:"timestamp" bson:"timestamp"`
	Role       TurnRole     `json:"role" bson:"role"`
	Content    string       `json:"content" bson:"content"`
	Input      string       `json:"input,omitempty" bson:"input,omitempty"`
	DurationMs int64        `json:"duration_ms" bson:"duration_ms"`
	Metadata   TurnMetadata `json:"metadata" bson:"metadata"`
}

// TurnMetadata contains additional metadata for a turn
type TurnMetadata struct {
	Emotion  string `json:"emotion,omitempty" bson:"emotion,omitempty"`
	Commands int    `json:"commands,omitempty" bson:"commands,omitempty"`
	Degraded bool   `json:"degraded,omitempty" bson:"degraded,omitempty"`
}

// Conversation is the durable record of one gateway session
type Conversation struct {
	ID        string             `json:"id" bson:"_id"`
	SessionID string             `json:"session_id" bson:"session_id"`
	DeviceID  string             `json:"device_id" bson:"device_id"`
	ClientID  string             `json:"client_id" bson:"client_id"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" bson:"updated_at"`
	ClosedAt  *time.Time         `json:"closed_at,omitempty" bson:"closed_at,omitempty"`
	Status    ConversationStatus `json:"status" bson:"status"`
	Turns     []Turn             `json:"turns" bson:"turns"`
}

// NewConversation creates an active conversation for a session
func NewConversation(sessionID, deviceID, clientID string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		DeviceID:  deviceID,
		ClientID:  clientID,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    ConversationStatusActive,
		Turns:     make([]Turn, 0),
	}
}

// NewTurn builds a turn stamped with the current time
func NewTurn(role TurnRole, content string, duration time.Duration, metadata TurnMetadata) Turn {
	return Turn{
		Timestamp:  time.Now(),
		Role:       role,
		Content:    content,
		DurationMs: duration.Milliseconds(),
		Metadata:   metadata,
	}
}

// AddTurn appends a turn and bumps UpdatedAt
func (c *Conversation) AddTurn(turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	c.Turns = append(c.Turns, turn)
	c.UpdatedAt = turn.Timestamp
}

// Close marks the conversation closed. Closing twice keeps the first time.
func (c *Conversation) Close(at time.Time) {
	if c.Status == ConversationStatusClosed {
		return
	}
	c.Status = ConversationStatusClosed
	c.ClosedAt = &at
	c.UpdatedAt = at
}

// RecentTurns returns at most limit of the latest turns, oldest first
func (c *Conversation) RecentTurns(limit int) []Turn {
	if limit <= 0 || len(c.Turns) <= limit {
		return c.Turns
	}
	return c.Turns[len(c.Turns)-limit:]
}

// Validate validates the conversation data
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return errors.New("id is required")
	}
	if c.SessionID == "" {
		return errors.New("session_id is required")
	}
	if c.DeviceID == "" {
		return errors.New("device_id is required")
	}
	if c.Status != ConversationStatusActive && c.Status != ConversationStatusClosed {
		return errors.New("invalid conversation status")
	}
	return nil
}
