package gateway

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/internal/metrics"
	"github.com/satriahrh/arunika/gateway/internal/pipeline"
	"github.com/satriahrh/arunika/gateway/internal/protocol"
)

func newTestStreamer(t *testing.T, tr *recordingTransport, runner Runner, queueSize int) (*Streamer, chan struct{}) {
	s := newTestSession(tr)
	done := make(chan struct{}, 16)
	st := NewStreamer(s, runner, queueSize, func(pipeline.State, bool) {
		done <- struct{}{}
	}, zap.NewNop(), metrics.NewNop())
	t.Cleanup(st.Close)
	return st, done
}

func TestStreamer_DeliveryOrder(t *testing.T) {
	tr := newRecordingTransport()
	runner := runnerFunc(func(ctx context.Context, st pipeline.State) pipeline.State {
		st.Transcript = "turn on the lamp"
		st.Commands = []protocol.DeviceCommand{{Device: "lamp", Action: "on"}}
		st.Emotion = protocol.EmotionHappy
		st.Reply = "Done. Enjoy!"
		st.Speech = speechOf(
			pipeline.Segment{Sentence: "Done."},
			pipeline.Segment{Frame: []byte{1}},
			pipeline.Segment{Sentence: "Enjoy!"},
			pipeline.Segment{Frame: []byte{2}},
			pipeline.Segment{Frame: []byte{3}},
		)
		return st
	})
	st, done := newTestStreamer(t, tr, runner, 4)
	st.session.StartListening(protocol.ListenModeAuto)

	require.NoError(t, st.Enqueue(pipeline.State{Input: pipeline.InputAudio}))
	waitDone(t, done)

	assert.Equal(t, []string{
		"stt", "iot", "llm",
		"tts:start",
		"tts:sentence_start", "binary(1)",
		"tts:sentence_start", "binary(1)", "binary(1)",
		"tts:stop",
		"listen:start",
	}, tr.sequence())
}

func TestStreamer_TextOnlyTurn(t *testing.T) {
	tr := newRecordingTransport()
	runner := runnerFunc(func(ctx context.Context, st pipeline.State) pipeline.State {
		st.Transcript = st.Text
		st.Reply = "Hello there."
		st.Emotion = protocol.EmotionNeutral
		return st
	})
	st, done := newTestStreamer(t, tr, runner, 4)

	require.NoError(t, st.Enqueue(pipeline.State{Input: pipeline.InputText, Text: "hi", SkipSynthesis: true}))
	waitDone(t, done)

	assert.Equal(t, []string{"stt", "llm", "text_response"}, tr.sequence())
}

func TestStreamer_NoReplySendsOnlyStop(t *testing.T) {
	tr := newRecordingTransport()
	st, done := newTestStreamer(t, tr, runnerFunc(func(ctx context.Context, st pipeline.State) pipeline.State {
		return st
	}), 4)

	require.NoError(t, st.Enqueue(pipeline.State{Input: pipeline.InputAudio}))
	waitDone(t, done)

	assert.Equal(t, []string{"tts:stop"}, tr.sequence())
}

func TestStreamer_FunctionCallEcho(t *testing.T) {
	tr := newRecordingTransport()
	st, done := newTestStreamer(t, tr, runnerFunc(func(ctx context.Context, st pipeline.State) pipeline.State {
		return st
	}), 4)

	require.NoError(t, st.Enqueue(pipeline.State{
		Input:        pipeline.InputFunctionCall,
		FunctionCall: &pipeline.FunctionCall{Name: "get_time"},
	}))
	waitDone(t, done)

	assert.Equal(t, []string{"function_call", "tts:stop"}, tr.sequence())
}

func TestStreamer_AbortMidStream(t *testing.T) {
	tr := newRecordingTransport()
	speech := make(chan pipeline.Segment)
	runner := runnerFunc(func(ctx context.Context, st pipeline.State) pipeline.State {
		st.Reply = "One sentence."
		st.Speech = speech
		return st
	})
	st, done := newTestStreamer(t, tr, runner, 4)
	st.session.StartListening(protocol.ListenModeAuto)

	require.NoError(t, st.Enqueue(pipeline.State{Input: pipeline.InputAudio}))

	speech <- pipeline.Segment{Sentence: "One sentence."}
	speech <- pipeline.Segment{Frame: []byte{1}}
	tr.waitFor(t, "binary(1)")

	st.Abort()

	// the streamer may or may not take the remaining frames, but must not send them
	for _, frame := range [][]byte{{2}, {3}} {
		select {
		case speech <- pipeline.Segment{Frame: frame}:
		case <-time.After(50 * time.Millisecond):
		}
	}
	waitDone(t, done)

	assert.Equal(t, 1, tr.count("binary(1)"))
	assert.Equal(t, 1, tr.count("tts:stop"))
	assert.Equal(t, 0, tr.count("listen:start"))
}

func TestStreamer_AbortWithoutActiveResponse(t *testing.T) {
	tr := newRecordingTransport()
	st, _ := newTestStreamer(t, tr, runnerFunc(func(ctx context.Context, st pipeline.State) pipeline.State {
		return st
	}), 4)

	st.Abort()
	assert.Equal(t, []string{"tts:stop"}, tr.sequence())
}

func TestStreamer_QueueFull(t *testing.T) {
	tr := newRecordingTransport()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, st pipeline.State) pipeline.State {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return st
	})
	st, _ := newTestStreamer(t, tr, runner, 2)
	defer close(release)

	require.NoError(t, st.Enqueue(pipeline.State{}))
	<-started

	require.NoError(t, st.Enqueue(pipeline.State{}))
	require.NoError(t, st.Enqueue(pipeline.State{}))
	assert.ErrorIs(t, st.Enqueue(pipeline.State{}), ErrQueueFull)
}

func TestStreamer_AbortDropsQueued(t *testing.T) {
	tr := newRecordingTransport()
	var runs atomic.Int32
	started := make(chan struct{}, 4)
	runner := runnerFunc(func(ctx context.Context, st pipeline.State) pipeline.State {
		runs.Add(1)
		started <- struct{}{}
		if st.Text == "block" {
			<-ctx.Done()
		}
		return st
	})
	st, done := newTestStreamer(t, tr, runner, 4)

	require.NoError(t, st.Enqueue(pipeline.State{Text: "block"}))
	<-started
	require.NoError(t, st.Enqueue(pipeline.State{Text: "queued"}))
	require.NoError(t, st.Enqueue(pipeline.State{Text: "queued"}))

	st.Abort()
	waitDone(t, done)

	require.NoError(t, st.Enqueue(pipeline.State{Text: "after"}))
	waitDone(t, done)

	assert.Equal(t, int32(2), runs.Load())
	// one stop from the abort, one from the natural end of the last turn
	assert.Equal(t, 2, tr.count("tts:stop"))
}

func TestStreamer_Close(t *testing.T) {
	tr := newRecordingTransport()
	st, _ := newTestStreamer(t, tr, runnerFunc(func(ctx context.Context, st pipeline.State) pipeline.State {
		return st
	}), 4)

	st.Close()
	st.Close()
	assert.ErrorIs(t, st.Enqueue(pipeline.State{}), ErrStreamerClosed)
}
