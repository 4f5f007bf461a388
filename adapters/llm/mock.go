package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/satriahrh/arunika/gateway/domain/repositories"
)

// MockLLM is an offline LargeLanguageModel for development
type MockLLM struct{}

// NewMockLLM creates a new mock LLM
func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

// GenerateChat implements repositories.LargeLanguageModel
func (m *MockLLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	return &MockChatSession{history: append([]repositories.ChatMessage(nil), history...)}, nil
}

// MockChatSession answers with a canned reply built from the prompt
type MockChatSession struct {
	mu      sync.Mutex
	history []repositories.ChatMessage
}

// SendMessage implements repositories.ChatSession
func (s *MockChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return repositories.ChatMessage{}, err
	}

	var reply string
	lower := strings.ToLower(message.Content)
	switch {
	case strings.Contains(lower, "turn on") && strings.Contains(lower, "light"):
		reply = `Sure, turning on the light. {"device": "light", "action": "turn_on"}`
	case strings.Contains(lower, "turn off") && strings.Contains(lower, "light"):
		reply = `Okay, turning off the light. {"device": "light", "action": "turn_off"}`
	case message.Content == "":
		reply = "Hello! What would you like to talk about?"
	default:
		reply = fmt.Sprintf("You said: %s. Tell me more!", message.Content)
	}

	response := repositories.ChatMessage{Role: repositories.AssistantRole, Content: reply}

	s.mu.Lock()
	s.history = append(s.history, message, response)
	s.mu.Unlock()
	return response, nil
}

// History implements repositories.ChatSession
func (s *MockChatSession) History() ([]repositories.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repositories.ChatMessage(nil), s.history...), nil
}
