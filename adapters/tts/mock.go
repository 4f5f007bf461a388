package tts

import (
	"context"
	"strings"
)

// MockTTS produces one silent frame per word, for development without a provider
type MockTTS struct {
	FrameSize int
}

// NewMockTTS creates a mock synthesizer emitting frames of frameSize bytes
func NewMockTTS(frameSize int) *MockTTS {
	if frameSize <= 0 {
		frameSize = 160
	}
	return &MockTTS{FrameSize: frameSize}
}

// ConvertTextToSpeech implements repositories.TextToSpeech
func (m *MockTTS) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, ErrEmptyText
	}

	frames := make(chan []byte)
	go func() {
		defer close(frames)
		for range words {
			select {
			case frames <- make([]byte, m.FrameSize):
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames, nil
}
