package protocol

// Version is the wire protocol version spoken by this gateway.
const Version = 1

// MessageType defines the type of a text WebSocket message
type MessageType string

// Supported message types
const (
	MessageTypeHello        MessageType = "hello"
	MessageTypeListen       MessageType = "listen"
	MessageTypeSTT          MessageType = "stt"
	MessageTypeTTS          MessageType = "tts"
	MessageTypeAbort        MessageType = "abort"
	MessageTypeIoT          MessageType = "iot"
	MessageTypeLLM          MessageType = "llm"
	MessageTypeTextResponse MessageType = "text_response"
	MessageTypeFunctionCall MessageType = "function_call"
)

// ListenState is the state carried by a listen message
type ListenState string

const (
	ListenStateStart  ListenState = "start"
	ListenStateStop   ListenState = "stop"
	ListenStateDetect ListenState = "detect"
)

// ListenMode governs when buffered audio is handed to the pipeline
type ListenMode string

const (
	ListenModeNone     ListenMode = "none"
	ListenModeAuto     ListenMode = "auto"
	ListenModeManual   ListenMode = "manual"
	ListenModeRealtime ListenMode = "realtime"
)

// Valid reports whether m is a mode a client may request.
func (m ListenMode) Valid() bool {
	switch m {
	case ListenModeAuto, ListenModeManual, ListenModeRealtime:
		return true
	}
	return false
}

// TTSState is the state carried by a tts message
type TTSState string

const (
	TTSStateStart         TTSState = "start"
	TTSStateStop          TTSState = "stop"
	TTSStateSentenceStart TTSState = "sentence_start"
)

// AbortReason explains why a client interrupted the current response
type AbortReason string

const (
	AbortReasonNone             AbortReason = "none"
	AbortReasonUserRequested    AbortReason = "user_requested"
	AbortReasonWakeWordDetected AbortReason = "wake_word_detected"
	AbortReasonTimeout          AbortReason = "timeout"
)

// Emotion is attached to generated replies so the device can animate
type Emotion string

const (
	EmotionNeutral    Emotion = "neutral"
	EmotionHappy      Emotion = "happy"
	EmotionSad        Emotion = "sad"
	EmotionAngry      Emotion = "angry"
	EmotionSurprised  Emotion = "surprised"
	EmotionApologetic Emotion = "apologetic"
	EmotionSerious    Emotion = "serious"
)

// DetectSourceText marks a wake word detect that carries typed text instead of audio.
const DetectSourceText = "text"

// AudioParams describes the negotiated audio format
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// DefaultAudioParams is the format the gateway offers in its hello.
var DefaultAudioParams = AudioParams{
	Format:        "opus",
	SampleRate:    16000,
	Channels:      1,
	FrameDuration: 60,
}

// DeviceDescriptor describes an IoT device reported by the client
type DeviceDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	Methods     map[string]interface{} `json:"methods,omitempty"`
}

// DeviceCommand is an action addressed to a client-side device
type DeviceCommand struct {
	Device string                 `json:"device"`
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Message is the single wire shape for every text message kind.
// Which fields are meaningful depends on Type.
type Message struct {
	Type MessageType `json:"type"`

	// hello
	Transport       string       `json:"transport,omitempty"`
	AudioParams     *AudioParams `json:"audio_params,omitempty"`
	ProtocolVersion int          `json:"protocol_version,omitempty"`

	// listen, tts
	State  string     `json:"state,omitempty"`
	Mode   ListenMode `json:"mode,omitempty"`
	Source string     `json:"source,omitempty"`

	// listen detect, stt, tts sentence_start, llm, text_response
	Text string `json:"text,omitempty"`

	// abort
	Reason AbortReason `json:"reason,omitempty"`

	// llm
	Emotion Emotion `json:"emotion,omitempty"`

	// iot
	Descriptors []DeviceDescriptor     `json:"descriptors,omitempty"`
	States      map[string]interface{} `json:"states,omitempty"`
	Commands    []DeviceCommand        `json:"commands,omitempty"`

	// function_call
	Function  string                 `json:"function,omitempty"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// AudioFrame is one opaque encoded media unit received as a binary message
type AudioFrame []byte

// Hello builds a client hello
func Hello(params AudioParams) Message {
	return Message{
		Type:        MessageTypeHello,
		Transport:   "websocket",
		AudioParams: &params,
	}
}

// ServerHello builds the hello the gateway answers with after admission
func ServerHello(params AudioParams, version int) Message {
	return Message{
		Type:            MessageTypeHello,
		Transport:       "websocket",
		AudioParams:     &params,
		ProtocolVersion: version,
	}
}

// TTSStart marks the beginning of a spoken response
func TTSStart() Message {
	return Message{Type: MessageTypeTTS, State: string(TTSStateStart)}
}

// TTSStop marks the end of a spoken response
func TTSStop() Message {
	return Message{Type: MessageTypeTTS, State: string(TTSStateStop)}
}

// TTSSentenceStart announces the sentence whose audio frames follow
func TTSSentenceStart(text string) Message {
	return Message{Type: MessageTypeTTS, State: string(TTSStateSentenceStart), Text: text}
}

// STT reports what the gateway heard
func STT(text string) Message {
	return Message{Type: MessageTypeSTT, Text: text}
}

// LLMEmotion carries the emotion of the generated reply
func LLMEmotion(emotion Emotion, text string) Message {
	return Message{Type: MessageTypeLLM, Emotion: emotion, Text: text}
}

// IoTCommands forwards device commands to the client
func IoTCommands(commands []DeviceCommand) Message {
	return Message{Type: MessageTypeIoT, Commands: commands}
}

// TextResponse carries a reply that is not synthesized
func TextResponse(text string) Message {
	return Message{Type: MessageTypeTextResponse, Text: text}
}

// FunctionCall builds a function_call message
func FunctionCall(function string, arguments map[string]interface{}) Message {
	if arguments == nil {
		arguments = map[string]interface{}{}
	}
	return Message{Type: MessageTypeFunctionCall, Function: function, Arguments: arguments}
}

// ListenStart asks the client to resume listening in the given mode
func ListenStart(mode ListenMode) Message {
	return Message{Type: MessageTypeListen, State: string(ListenStateStart), Mode: mode}
}

// ListenStop builds a client listen stop
func ListenStop() Message {
	return Message{Type: MessageTypeListen, State: string(ListenStateStop)}
}

// ListenDetect builds a client wake word detect
func ListenDetect(text, source string) Message {
	return Message{Type: MessageTypeListen, State: string(ListenStateDetect), Text: text, Source: source}
}

// Abort builds a client abort
func Abort(reason AbortReason) Message {
	return Message{Type: MessageTypeAbort, Reason: reason}
}
