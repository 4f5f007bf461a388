package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/satriahrh/arunika/gateway/domain/repositories"
)

type fakeSTT struct {
	mu       sync.Mutex
	received [][]byte
	result   string
	initErr  error
	endErr   error
}

func (f *fakeSTT) TranscribeAudio(ctx context.Context, audio []byte, config repositories.AudioConfig) (string, error) {
	return f.result, f.endErr
}

func (f *fakeSTT) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &fakeSTTStream{parent: f}, nil
}

type fakeSTTStream struct {
	parent *fakeSTT
}

func (s *fakeSTTStream) Stream(data []byte) error {
	s.parent.mu.Lock()
	s.parent.received = append(s.parent.received, data)
	s.parent.mu.Unlock()
	return nil
}

func (s *fakeSTTStream) End() (string, error) {
	return s.parent.result, s.parent.endErr
}

type fakeLLM struct {
	mu       sync.Mutex
	reply    string
	err      error
	prompts  []string
	seenHist [][]repositories.ChatMessage
}

func (f *fakeLLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	f.mu.Lock()
	f.seenHist = append(f.seenHist, history)
	f.mu.Unlock()
	return &fakeChat{parent: f}, nil
}

type fakeChat struct {
	parent *fakeLLM
}

func (c *fakeChat) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	c.parent.mu.Lock()
	defer c.parent.mu.Unlock()
	c.parent.prompts = append(c.parent.prompts, message.Content)
	if c.parent.err != nil {
		return repositories.ChatMessage{}, c.parent.err
	}
	return repositories.ChatMessage{Role: repositories.AssistantRole, Content: c.parent.reply}, nil
}

func (c *fakeChat) History() ([]repositories.ChatMessage, error) {
	return nil, nil
}

// fakeTTS emits one frame per word, each frame holding the word itself
type fakeTTS struct {
	failOn string
}

func (f *fakeTTS) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("synthesis failed")
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		for _, w := range strings.Fields(text) {
			select {
			case out <- []byte(w):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func collect(speech Speech) []Segment {
	var segments []Segment
	for seg := range speech {
		segments = append(segments, seg)
	}
	return segments
}
