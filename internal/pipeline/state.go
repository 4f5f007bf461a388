package pipeline

import "github.com/satriahrh/arunika/gateway/internal/protocol"

// InputKind is what started a turn
type InputKind string

const (
	InputAudio        InputKind = "audio"
	InputText         InputKind = "text"
	InputFunctionCall InputKind = "function_call"
)

// FunctionCall is a client-invoked function carried into the pipeline
type FunctionCall struct {
	Name      string
	Arguments map[string]interface{}
}

// Segment is one unit of synthesized speech: either a sentence marker
// (Sentence set) or an encoded audio frame (Frame set).
type Segment struct {
	Sentence string
	Frame    []byte
}

// Speech is a lazy, finite stream of segments. It is consumed exactly once
// and closed by the producer when synthesis ends or its context is cancelled.
type Speech <-chan Segment

// State flows through the stages of one turn. Each stage returns an
// updated copy.
type State struct {
	SessionID string
	DeviceID  string

	Input        InputKind
	Frames       []protocol.AudioFrame
	Audio        protocol.AudioParams
	WakeWord     string
	Text         string
	FunctionCall *FunctionCall

	Transcript     string
	Reply          string
	Emotion        protocol.Emotion
	Commands       []protocol.DeviceCommand
	CommandResults []CommandResult

	// SkipSynthesis marks text-only turns answered with text_response
	SkipSynthesis bool
	Speech        Speech
	Degraded      bool
	FailedStage   string
}

// Prompt returns the text the generation stage answers
func (s State) Prompt() string {
	switch s.Input {
	case InputText:
		return s.Text
	case InputFunctionCall:
		if s.FunctionCall == nil {
			return ""
		}
		return functionCallPrompt(*s.FunctionCall)
	default:
		return s.Transcript
	}
}
