package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/domain/repositories"
)

// TranscriptionStage turns buffered audio frames into text
type TranscriptionStage struct {
	stt      repositories.SpeechToText
	language string
	logger   *zap.Logger
}

// NewTranscriptionStage creates the speech recognition stage
func NewTranscriptionStage(stt repositories.SpeechToText, language string, logger *zap.Logger) *TranscriptionStage {
	return &TranscriptionStage{
		stt:      stt,
		language: language,
		logger:   logger,
	}
}

// Name implements Stage
func (t *TranscriptionStage) Name() string {
	return "transcription"
}

// Process streams the frames in arrival order. Text input is echoed as
// the transcript and function calls have none.
func (t *TranscriptionStage) Process(ctx context.Context, state State) (State, error) {
	switch state.Input {
	case InputText:
		state.Transcript = strings.TrimSpace(state.Text)
		return state, nil
	case InputFunctionCall:
		return state, nil
	}

	if len(state.Frames) == 0 {
		state.Transcript = strings.TrimSpace(state.WakeWord)
		return state, nil
	}

	stream, err := t.stt.InitTranscribeStreaming(ctx, repositories.AudioConfig{
		SampleRate: state.Audio.SampleRate,
		Encoding:   state.Audio.Format,
		Channels:   state.Audio.Channels,
		Language:   t.language,
	})
	if err != nil {
		return state, fmt.Errorf("failed to start transcription: %w", err)
	}

	for _, frame := range state.Frames {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		if err := stream.Stream(frame); err != nil {
			return state, fmt.Errorf("failed to stream audio: %w", err)
		}
	}

	transcript, err := stream.End()
	if err != nil {
		return state, fmt.Errorf("failed to finish transcription: %w", err)
	}

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		transcript = strings.TrimSpace(state.WakeWord)
	}
	state.Transcript = transcript

	t.logger.Info("Transcription completed",
		zap.String("sessionID", state.SessionID),
		zap.Int("frames", len(state.Frames)),
		zap.String("transcript", transcript))
	return state, nil
}
