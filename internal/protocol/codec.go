package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// ErrMalformedPayload is matched by every DecodeError.
var ErrMalformedPayload = errors.New("malformed payload")

// Decode error codes
const (
	CodeInvalidJSON  = "invalid_json"
	CodeMissingType  = "missing_type"
	CodeUnknownType  = "unknown_type"
	CodeMissingField = "missing_field"
	CodeInvalidValue = "invalid_value"
	CodeUnsupported  = "unsupported_frame"
)

// DecodeError describes why an inbound payload was rejected
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap lets callers test for ErrMalformedPayload with errors.Is.
func (e *DecodeError) Unwrap() error {
	return ErrMalformedPayload
}

func missingField(param string) *DecodeError {
	return &DecodeError{Code: CodeMissingField, Message: param + " is required", Param: param}
}

func invalidValue(param, value string) *DecodeError {
	return &DecodeError{Code: CodeInvalidValue, Message: fmt.Sprintf("unsupported %s %q", param, value), Param: param}
}

// Inbound is the result of decoding one WebSocket frame: either a
// control Message or an AudioFrame, never both.
type Inbound struct {
	Message *Message
	Frame   AudioFrame
}

// IsAudio reports whether the inbound unit is a binary audio frame.
func (in Inbound) IsAudio() bool {
	return in.Message == nil
}

// Decode turns a raw WebSocket frame into an Inbound unit. Binary frames
// always decode to audio; text frames must be a JSON object whose type is
// known and whose required fields are present.
func Decode(frameType int, raw []byte) (Inbound, error) {
	switch frameType {
	case websocket.BinaryMessage:
		return Inbound{Frame: AudioFrame(raw)}, nil
	case websocket.TextMessage:
		msg, err := DecodeMessage(raw)
		if err != nil {
			return Inbound{}, err
		}
		return Inbound{Message: &msg}, nil
	default:
		return Inbound{}, &DecodeError{Code: CodeUnsupported, Message: fmt.Sprintf("frame type %d", frameType)}
	}
}

// DecodeMessage parses and validates a text message
func DecodeMessage(raw []byte) (Message, error) {
	var envelope struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Message{}, &DecodeError{Code: CodeInvalidJSON, Message: err.Error()}
	}
	if envelope.Type == nil || *envelope.Type == "" {
		return Message{}, &DecodeError{Code: CodeMissingType, Message: "type is required", Param: "type"}
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, &DecodeError{Code: CodeInvalidJSON, Message: err.Error()}
	}

	if err := validate(&msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func validate(msg *Message) error {
	switch msg.Type {
	case MessageTypeHello:
		return validateHello(msg)
	case MessageTypeListen:
		return validateListen(msg)
	case MessageTypeSTT, MessageTypeTextResponse:
		if msg.Text == "" {
			return missingField("text")
		}
	case MessageTypeTTS:
		return validateTTS(msg)
	case MessageTypeAbort:
		if msg.Reason == "" {
			return missingField("reason")
		}
	case MessageTypeIoT:
		if msg.Descriptors == nil && msg.States == nil && msg.Commands == nil {
			return missingField("descriptors|states|commands")
		}
	case MessageTypeLLM:
		if msg.Emotion == "" {
			return missingField("emotion")
		}
	case MessageTypeFunctionCall:
		if msg.Function == "" {
			return missingField("function")
		}
		if msg.Arguments == nil {
			return missingField("arguments")
		}
	default:
		return &DecodeError{Code: CodeUnknownType, Message: fmt.Sprintf("unknown message type %q", msg.Type), Param: "type"}
	}
	return nil
}

func validateHello(msg *Message) error {
	if msg.Transport == "" {
		return missingField("transport")
	}
	if msg.AudioParams == nil {
		return missingField("audio_params")
	}
	return nil
}

func validateListen(msg *Message) error {
	switch ListenState(msg.State) {
	case ListenStateStart:
		if msg.Mode == "" {
			return missingField("mode")
		}
		if !msg.Mode.Valid() {
			return invalidValue("mode", string(msg.Mode))
		}
	case ListenStateStop:
	case ListenStateDetect:
		if msg.Text == "" {
			return missingField("text")
		}
		if msg.Source == "" {
			return missingField("source")
		}
	case "":
		return missingField("state")
	default:
		return invalidValue("state", msg.State)
	}
	return nil
}

func validateTTS(msg *Message) error {
	switch TTSState(msg.State) {
	case TTSStateStart, TTSStateStop:
	case TTSStateSentenceStart:
		if msg.Text == "" {
			return missingField("text")
		}
	case "":
		return missingField("state")
	default:
		return invalidValue("state", msg.State)
	}
	return nil
}

// Encode serializes a message. It never fails for messages built from
// JSON-compatible values; arguments that cannot be serialized are dropped.
func Encode(msg Message) []byte {
	payload, err := json.Marshal(msg)
	if err != nil {
		msg.Arguments = map[string]interface{}{}
		payload, _ = json.Marshal(msg)
	}
	return payload
}

// MarshalJSON keeps function_call arguments on the wire even when empty.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire Message
	if m.Type != MessageTypeFunctionCall {
		return json.Marshal(wire(m))
	}
	args := m.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	return json.Marshal(struct {
		wire
		Arguments map[string]interface{} `json:"arguments"`
	}{wire(m), args})
}
