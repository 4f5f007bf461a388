package repositories

import "context"

// TextToSpeech turns text into a stream of encoded audio frames. The
// channel is closed when synthesis finishes or ctx is cancelled.
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error)
}
