package stt

import (
	"context"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/domain/repositories"
)

// MockSpeechToText is an offline SpeechToText for development
type MockSpeechToText struct {
	logger *zap.Logger
}

// MockSpeechToTextStream accumulates the size of streamed audio
type MockSpeechToTextStream struct {
	logger *zap.Logger
	frames int
	bytes  int
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{logger: logger}
}

// InitTranscribeStreaming creates a new mock streaming session
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	s.logger.Debug("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	return &MockSpeechToTextStream{logger: s.logger}, nil
}

// Stream implements mock streaming audio processing
func (m *MockSpeechToTextStream) Stream(data []byte) error {
	if len(data) > 0 {
		m.frames++
		m.bytes += len(data)
	}
	return nil
}

// End returns the mock transcription result
func (m *MockSpeechToTextStream) End() (string, error) {
	if m.frames == 0 {
		return "", ErrNoAudio
	}
	text := mockTranscript(m.bytes)
	m.logger.Debug("Ending mock transcription stream",
		zap.Int("frames", m.frames),
		zap.String("result", text))
	return text, nil
}

// TranscribeAudio implements repositories.SpeechToText
func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	if len(audioData) == 0 {
		return "", ErrNoAudio
	}
	return mockTranscript(len(audioData)), nil
}

func mockTranscript(size int) string {
	switch {
	case size > 10000:
		return "Hello there, how are you today? I want to tell you about my day."
	case size > 5000:
		return "Thank you for listening."
	case size > 1000:
		return "Hello!"
	default:
		return "Hi"
	}
}
