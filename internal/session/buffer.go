package session

import "github.com/satriahrh/arunika/gateway/internal/protocol"

// DefaultFlushThreshold is the frame count that triggers a flush in auto mode.
const DefaultFlushThreshold = 10

// AudioBuffer accumulates the audio frames of one listening cycle in arrival
// order. It is not safe for concurrent use; the owning Session guards it.
type AudioBuffer struct {
	frames []protocol.AudioFrame
}

// NewAudioBuffer creates an empty buffer
func NewAudioBuffer() *AudioBuffer {
	return &AudioBuffer{}
}

// Append adds a frame and returns the new length
func (b *AudioBuffer) Append(frame protocol.AudioFrame) int {
	b.frames = append(b.frames, frame)
	return len(b.frames)
}

// Len returns the number of buffered frames
func (b *AudioBuffer) Len() int {
	return len(b.frames)
}

// Drain returns every buffered frame and leaves the buffer empty.
// It returns nil when there is nothing to drain.
func (b *AudioBuffer) Drain() []protocol.AudioFrame {
	if len(b.frames) == 0 {
		return nil
	}
	frames := b.frames
	b.frames = nil
	return frames
}

// Prepend puts frames back in front of the buffered ones
func (b *AudioBuffer) Prepend(frames []protocol.AudioFrame) int {
	b.frames = append(append(make([]protocol.AudioFrame, 0, len(frames)+len(b.frames)), frames...), b.frames...)
	return len(b.frames)
}

// Clear discards every buffered frame and returns how many were dropped
func (b *AudioBuffer) Clear() int {
	n := len(b.frames)
	b.frames = nil
	return n
}

// FlushPolicy decides when a listening cycle hands its frames to the pipeline
type FlushPolicy struct {
	Threshold int
}

// NewFlushPolicy returns a policy with the given auto-mode threshold,
// falling back to DefaultFlushThreshold when it is not positive.
func NewFlushPolicy(threshold int) FlushPolicy {
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	return FlushPolicy{Threshold: threshold}
}

// ShouldFlush reports whether a buffer of n frames must be flushed right
// after a frame is accepted in the given mode. Manual mode never flushes on
// arrival; it waits for listen stop.
func (p FlushPolicy) ShouldFlush(mode protocol.ListenMode, n int) bool {
	switch mode {
	case protocol.ListenModeRealtime:
		return n >= 1
	case protocol.ListenModeAuto:
		return n >= p.Threshold
	default:
		return false
	}
}
