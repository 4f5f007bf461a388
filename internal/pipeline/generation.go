package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/domain/repositories"
	"github.com/satriahrh/arunika/gateway/internal/protocol"
	"github.com/satriahrh/arunika/gateway/internal/session"
)

const (
	// DefaultHistoryLimit caps the messages kept per conversation
	DefaultHistoryLimit = 10

	// NotUnderstoodReply answers an empty prompt without calling the model
	NotUnderstoodReply = "I didn't catch that. Could you please repeat?"
)

var commandPattern = regexp.MustCompile(`\{[^{}]*\}`)

// GenerationStage asks the language model for a reply. History is kept per
// device, or per session for devices that did not identify themselves.
type GenerationStage struct {
	llm          repositories.LargeLanguageModel
	historyLimit int
	logger       *zap.Logger

	mu        sync.Mutex
	histories map[string][]repositories.ChatMessage
}

// NewGenerationStage creates the reply generation stage
func NewGenerationStage(llm repositories.LargeLanguageModel, historyLimit int, logger *zap.Logger) *GenerationStage {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &GenerationStage{
		llm:          llm,
		historyLimit: historyLimit,
		logger:       logger,
		histories:    make(map[string][]repositories.ChatMessage),
	}
}

// Name implements Stage
func (g *GenerationStage) Name() string {
	return "generation"
}

// Process implements Stage
func (g *GenerationStage) Process(ctx context.Context, state State) (State, error) {
	prompt := strings.TrimSpace(state.Prompt())
	if prompt == "" {
		state.Reply = NotUnderstoodReply
		state.Emotion = protocol.EmotionNeutral
		return state, nil
	}

	key := historyKey(state)
	history := g.History(key)

	chat, err := g.llm.GenerateChat(ctx, history)
	if err != nil {
		return state, fmt.Errorf("failed to open chat: %w", err)
	}

	userMessage := repositories.ChatMessage{Role: repositories.UserRole, Content: prompt}
	response, err := chat.SendMessage(ctx, userMessage)
	if err != nil {
		return state, fmt.Errorf("failed to generate reply: %w", err)
	}

	g.remember(key, userMessage, response)

	reply, commands := ExtractCommands(response.Content)
	state.Reply = reply
	state.Commands = commands
	state.Emotion = DetectEmotion(reply)

	g.logger.Info("Reply generated",
		zap.String("sessionID", state.SessionID),
		zap.String("emotion", string(state.Emotion)),
		zap.Int("commands", len(commands)),
		zap.Int("historyLength", len(history)+2))
	return state, nil
}

// History returns a copy of the capped history for key
func (g *GenerationStage) History(key string) []repositories.ChatMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]repositories.ChatMessage(nil), g.histories[key]...)
}

// Forget drops history kept for an anonymous session
func (g *GenerationStage) Forget(sessionID string) {
	g.mu.Lock()
	delete(g.histories, sessionID)
	g.mu.Unlock()
}

func (g *GenerationStage) remember(key string, messages ...repositories.ChatMessage) {
	g.mu.Lock()
	defer g.mu.Unlock()

	history := append(g.histories[key], messages...)
	if len(history) > g.historyLimit {
		history = append([]repositories.ChatMessage(nil), history[len(history)-g.historyLimit:]...)
	}
	g.histories[key] = history
}

func historyKey(state State) string {
	if state.DeviceID == "" || state.DeviceID == session.UnknownID {
		return state.SessionID
	}
	return state.DeviceID
}

// ExtractCommands pulls {"device": ..., "action": ...} objects out of a
// reply and returns the remaining speakable text.
func ExtractCommands(reply string) (string, []protocol.DeviceCommand) {
	var commands []protocol.DeviceCommand
	text := commandPattern.ReplaceAllStringFunc(reply, func(match string) string {
		var cmd protocol.DeviceCommand
		if err := json.Unmarshal([]byte(match), &cmd); err != nil || cmd.Device == "" || cmd.Action == "" {
			return match
		}
		commands = append(commands, cmd)
		return ""
	})
	return strings.Join(strings.Fields(text), " "), commands
}

// DetectEmotion picks an emotion from keywords in the reply
func DetectEmotion(reply string) protocol.Emotion {
	lower := strings.ToLower(reply)
	switch {
	case containsAny(lower, "sorry", "apologize", "regret"):
		return protocol.EmotionApologetic
	case containsAny(lower, "happy", "great", "excellent", "!"):
		return protocol.EmotionHappy
	case containsAny(lower, "important", "caution", "warning"):
		return protocol.EmotionSerious
	default:
		return protocol.EmotionNeutral
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func functionCallPrompt(call FunctionCall) string {
	if len(call.Arguments) == 0 {
		return fmt.Sprintf("The device called function %q.", call.Name)
	}
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		return fmt.Sprintf("The device called function %q.", call.Name)
	}
	return fmt.Sprintf("The device called function %q with arguments %s.", call.Name, args)
}
