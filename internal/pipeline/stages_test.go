package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/internal/protocol"
)

func TestTranscriptionStage_PreservesFrameOrder(t *testing.T) {
	stt := &fakeSTT{result: "  hello world "}
	stage := NewTranscriptionStage(stt, "en-US", zap.NewNop())

	frames := []protocol.AudioFrame{{1}, {2}, {3}}
	out, err := stage.Process(context.Background(), State{Input: InputAudio, Frames: frames})
	require.NoError(t, err)

	assert.Equal(t, "hello world", out.Transcript)
	require.Len(t, stt.received, 3)
	for i, frame := range stt.received {
		assert.Equal(t, []byte{byte(i + 1)}, frame)
	}
}

func TestTranscriptionStage_Inputs(t *testing.T) {
	stt := &fakeSTT{result: "unused"}
	stage := NewTranscriptionStage(stt, "en-US", zap.NewNop())
	ctx := context.Background()

	text, err := stage.Process(ctx, State{Input: InputText, Text: " hi "})
	require.NoError(t, err)
	assert.Equal(t, "hi", text.Transcript)

	call, err := stage.Process(ctx, State{Input: InputFunctionCall, FunctionCall: &FunctionCall{Name: "f"}})
	require.NoError(t, err)
	assert.Empty(t, call.Transcript)

	wake, err := stage.Process(ctx, State{Input: InputAudio, WakeWord: "hey doll"})
	require.NoError(t, err)
	assert.Equal(t, "hey doll", wake.Transcript)

	assert.Empty(t, stt.received, "non-audio input must not reach the recognizer")
}

func TestTranscriptionStage_Error(t *testing.T) {
	stage := NewTranscriptionStage(&fakeSTT{endErr: errors.New("boom")}, "en-US", zap.NewNop())
	_, err := stage.Process(context.Background(), State{Input: InputAudio, Frames: []protocol.AudioFrame{{1}}})
	assert.Error(t, err)
}

func TestGenerationStage_EmptyPrompt(t *testing.T) {
	llm := &fakeLLM{reply: "should not be used"}
	stage := NewGenerationStage(llm, 10, zap.NewNop())

	out, err := stage.Process(context.Background(), State{Input: InputAudio, Transcript: "   "})
	require.NoError(t, err)
	assert.Equal(t, NotUnderstoodReply, out.Reply)
	assert.Equal(t, protocol.EmotionNeutral, out.Emotion)
	assert.Empty(t, llm.prompts)
}

func TestGenerationStage_CommandsAndEmotion(t *testing.T) {
	llm := &fakeLLM{reply: `Great, turning it on! {"device": "lamp", "action": "turn_on"}`}
	stage := NewGenerationStage(llm, 10, zap.NewNop())

	out, err := stage.Process(context.Background(), State{SessionID: "s1", DeviceID: "d1", Input: InputText, Text: "lamp on"})
	require.NoError(t, err)

	assert.Equal(t, "Great, turning it on!", out.Reply)
	assert.Equal(t, protocol.EmotionHappy, out.Emotion)
	require.Len(t, out.Commands, 1)
	assert.Equal(t, protocol.DeviceCommand{Device: "lamp", Action: "turn_on"}, out.Commands[0])
}

func TestGenerationStage_HistoryCap(t *testing.T) {
	llm := &fakeLLM{reply: "ok"}
	stage := NewGenerationStage(llm, 4, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := stage.Process(ctx, State{SessionID: "s1", DeviceID: "d1", Input: InputText, Text: "hi"})
		require.NoError(t, err)
	}

	assert.Len(t, stage.History("d1"), 4)
	assert.Len(t, llm.seenHist[2], 4)

	// anonymous devices are keyed by session and can be forgotten
	_, err := stage.Process(ctx, State{SessionID: "s2", DeviceID: "unknown", Input: InputText, Text: "hi"})
	require.NoError(t, err)
	assert.Len(t, stage.History("s2"), 2)
	stage.Forget("s2")
	assert.Empty(t, stage.History("s2"))
}

func TestGenerationStage_FunctionCallPrompt(t *testing.T) {
	llm := &fakeLLM{reply: "Done."}
	stage := NewGenerationStage(llm, 10, zap.NewNop())

	_, err := stage.Process(context.Background(), State{
		Input:        InputFunctionCall,
		FunctionCall: &FunctionCall{Name: "set_volume", Arguments: map[string]interface{}{"level": 3}},
	})
	require.NoError(t, err)
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], `"set_volume"`)
	assert.Contains(t, llm.prompts[0], `{"level":3}`)
}

func TestGenerationStage_Error(t *testing.T) {
	stage := NewGenerationStage(&fakeLLM{err: errors.New("quota")}, 10, zap.NewNop())
	_, err := stage.Process(context.Background(), State{Input: InputText, Text: "hi"})
	assert.Error(t, err)
}

func TestExtractCommands(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		wantText string
		wantCmds int
	}{
		{name: "none", reply: "Just talking.", wantText: "Just talking.", wantCmds: 0},
		{name: "one", reply: `On it. {"device":"fan","action":"stop"}`, wantText: "On it.", wantCmds: 1},
		{name: "two", reply: `{"device":"a","action":"x"} and {"device":"b","action":"y"}`, wantText: "and", wantCmds: 2},
		{name: "missing action kept as text", reply: `See {"device":"fan"}`, wantText: `See {"device":"fan"}`, wantCmds: 0},
		{name: "not json", reply: "Braces {like this}", wantText: "Braces {like this}", wantCmds: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, cmds := ExtractCommands(tt.reply)
			assert.Equal(t, tt.wantText, text)
			assert.Len(t, cmds, tt.wantCmds)
		})
	}
}

func TestDetectEmotion(t *testing.T) {
	tests := []struct {
		reply string
		want  protocol.Emotion
	}{
		{reply: "I'm sorry about that.", want: protocol.EmotionApologetic},
		{reply: "That is great news", want: protocol.EmotionHappy},
		{reply: "Wow!", want: protocol.EmotionHappy},
		{reply: "This is important.", want: protocol.EmotionSerious},
		{reply: "The sky is blue.", want: protocol.EmotionNeutral},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectEmotion(tt.reply), tt.reply)
	}
}

func TestDeviceStage_Validate(t *testing.T) {
	stage := NewDeviceStage(zap.NewNop())
	stage.Register("s1", []protocol.DeviceDescriptor{{Name: "lamp"}, {Name: ""}})

	valid, results := stage.Validate("s1", []protocol.DeviceCommand{
		{Device: "lamp", Action: "turn_on"},
		{Device: "fan", Action: "spin"},
		{Device: "lamp"},
	})

	require.Len(t, valid, 2)
	require.Len(t, results, 3)
	assert.Equal(t, CommandAccepted, results[0].Status)
	assert.Equal(t, CommandUnknownDevice, results[1].Status)
	assert.Equal(t, CommandInvalid, results[2].Status)

	stage.Forget("s1")
	assert.False(t, stage.Known("s1", "lamp"))
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{text: "Hello. How are you? Great!", want: []string{"Hello.", "How are you?", "Great!"}},
		{text: "No punctuation", want: []string{"No punctuation"}},
		{text: "   ", want: nil},
		{text: "", want: nil},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SplitSentences(tt.text), tt.text)
	}
}

func TestSynthesisStage_MarkerPrecedesFrames(t *testing.T) {
	stage := NewSynthesisStage(&fakeTTS{}, zap.NewNop())

	out, err := stage.Process(context.Background(), State{Reply: "One two. Three!"})
	require.NoError(t, err)
	require.NotNil(t, out.Speech)

	segments := collect(out.Speech)
	want := []Segment{
		{Sentence: "One two."},
		{Frame: []byte("One")},
		{Frame: []byte("two.")},
		{Sentence: "Three!"},
		{Frame: []byte("Three!")},
	}
	assert.Equal(t, want, segments)
}

func TestSynthesisStage_SkipsAndFailures(t *testing.T) {
	stage := NewSynthesisStage(&fakeTTS{failOn: "bad"}, zap.NewNop())
	ctx := context.Background()

	skipped, err := stage.Process(ctx, State{Reply: "Hello.", SkipSynthesis: true})
	require.NoError(t, err)
	assert.Nil(t, skipped.Speech)

	empty, err := stage.Process(ctx, State{Reply: ""})
	require.NoError(t, err)
	assert.Nil(t, empty.Speech)

	partial, err := stage.Process(ctx, State{Reply: "A bad one. Fine."})
	require.NoError(t, err)
	segments := collect(partial.Speech)
	assert.Equal(t, []Segment{{Sentence: "A bad one."}, {Sentence: "Fine."}, {Frame: []byte("Fine.")}}, segments)
}

func TestSynthesisStage_Cancel(t *testing.T) {
	stage := NewSynthesisStage(&fakeTTS{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	out, err := stage.Process(ctx, State{Reply: "one two three four."})
	require.NoError(t, err)

	first := <-out.Speech
	assert.Equal(t, "one two three four.", first.Sentence)
	cancel()

	// the producer closes the stream once it observes cancellation
	for range out.Speech {
	}
}
