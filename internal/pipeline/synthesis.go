package pipeline

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/domain/repositories"
)

var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]?`)

// SynthesisStage attaches a lazy speech stream to the reply. Sentences are
// synthesized one at a time as the stream is consumed.
type SynthesisStage struct {
	tts    repositories.TextToSpeech
	logger *zap.Logger
}

// NewSynthesisStage creates the text-to-speech stage
func NewSynthesisStage(tts repositories.TextToSpeech, logger *zap.Logger) *SynthesisStage {
	return &SynthesisStage{tts: tts, logger: logger}
}

// Name implements Stage
func (s *SynthesisStage) Name() string {
	return "synthesis"
}

// RunsOnDegraded lets the apology be spoken after a failure
func (s *SynthesisStage) RunsOnDegraded() bool {
	return true
}

// Process implements Stage
func (s *SynthesisStage) Process(ctx context.Context, state State) (State, error) {
	state.Speech = nil
	if state.SkipSynthesis {
		return state, nil
	}
	sentences := SplitSentences(state.Reply)
	if len(sentences) == 0 {
		return state, nil
	}

	segments := make(chan Segment)
	go s.produce(ctx, state.SessionID, sentences, segments)
	state.Speech = segments
	return state, nil
}

func (s *SynthesisStage) produce(ctx context.Context, sessionID string, sentences []string, out chan<- Segment) {
	defer close(out)

	for _, sentence := range sentences {
		if !emit(ctx, out, Segment{Sentence: sentence}) {
			return
		}

		frames, err := s.tts.ConvertTextToSpeech(ctx, sentence)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to synthesize sentence",
				zap.String("sessionID", sessionID),
				zap.String("sentence", sentence),
				zap.Error(err))
			continue
		}

		for frame := range frames {
			if !emit(ctx, out, Segment{Frame: frame}) {
				return
			}
		}
	}
}

func emit(ctx context.Context, out chan<- Segment, seg Segment) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case out <- seg:
		return true
	case <-ctx.Done():
		return false
	}
}

// SplitSentences breaks text at '.', '!' and '?' and drops blank pieces
func SplitSentences(text string) []string {
	var sentences []string
	for _, match := range sentencePattern.FindAllString(text, -1) {
		if sentence := strings.TrimSpace(match); sentence != "" {
			sentences = append(sentences, sentence)
		}
	}
	return sentences
}
