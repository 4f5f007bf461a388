package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satriahrh/arunika/gateway/internal/protocol"
)

// ErrTransportClosed is returned when sending on a connection that is gone.
var ErrTransportClosed = errors.New("transport closed")

// UnknownID is used when a client does not identify itself.
const UnknownID = "unknown"

// Phase is the lifecycle phase of a connection. A Session is only created
// once the hello is accepted, so it is always PhaseActive or PhaseClosed;
// the earlier phases are reported by the websocket handshake.
type Phase string

const (
	PhaseConnecting    Phase = "connecting"
	PhaseAwaitingHello Phase = "awaiting_hello"
	PhaseActive        Phase = "active"
	PhaseClosed        Phase = "closed"
)

// Transport is the connection a session writes to
type Transport interface {
	SendText(payload []byte) error
	SendBinary(payload []byte) error
	Close(code int, reason string) error
}

// AudioDiscarder is implemented by transports that queue outbound frames.
// DiscardPendingAudio drops binary frames accepted but not yet written and
// returns how many were dropped.
type AudioDiscarder interface {
	DiscardPendingAudio() int
}

// Session is the server-side state of one admitted connection.
type Session struct {
	ID        string
	ClientID  string
	DeviceID  string
	CreatedAt time.Time

	transport   Transport
	audioParams protocol.AudioParams
	policy      FlushPolicy

	mu           sync.Mutex
	phase        Phase
	listening    bool
	mode         protocol.ListenMode
	buffer       *AudioBuffer
	lastActivity time.Time
	descriptors  []protocol.DeviceDescriptor
	deviceStates map[string]interface{}
}

// Options configures a new session
type Options struct {
	ClientID    string
	DeviceID    string
	AudioParams protocol.AudioParams
	Policy      FlushPolicy
}

// New creates an active session bound to a transport
func New(transport Transport, opts Options) *Session {
	if opts.ClientID == "" {
		opts.ClientID = UnknownID
	}
	if opts.DeviceID == "" {
		opts.DeviceID = UnknownID
	}
	if opts.Policy.Threshold <= 0 {
		opts.Policy = NewFlushPolicy(0)
	}

	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		ClientID:     opts.ClientID,
		DeviceID:     opts.DeviceID,
		CreatedAt:    now,
		transport:    transport,
		audioParams:  opts.AudioParams,
		policy:       opts.Policy,
		phase:        PhaseActive,
		mode:         protocol.ListenModeNone,
		buffer:       NewAudioBuffer(),
		lastActivity: now,
	}
}

// AudioParams returns the audio format negotiated at handshake
func (s *Session) AudioParams() protocol.AudioParams {
	return s.audioParams
}

// Phase returns the current lifecycle phase
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Listening returns the listening flag and mode
func (s *Session) Listening() (bool, protocol.ListenMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening, s.mode
}

// Mode returns the current listening mode
func (s *Session) Mode() protocol.ListenMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// BufferedFrames returns the number of frames waiting in the buffer
func (s *Session) BufferedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Len()
}

// LastActivity returns the time of the last inbound message or frame
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch records inbound activity
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// StartListening begins a new listening cycle. Frames left over from the
// previous cycle are returned as flushed unless that cycle was manual, in
// which case they are dropped and counted in discarded.
func (s *Session) StartListening(mode protocol.ListenMode) (flushed []protocol.AudioFrame, discarded int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == protocol.ListenModeManual {
		discarded = s.buffer.Clear()
	} else {
		flushed = s.buffer.Drain()
	}
	s.listening = true
	s.mode = mode
	s.lastActivity = time.Now()
	return flushed, discarded
}

// StopListening ends the cycle and drains whatever was buffered
func (s *Session) StopListening() []protocol.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listening = false
	s.lastActivity = time.Now()
	return s.buffer.Drain()
}

// AcceptFrame appends a frame when the session is listening. When the
// flush policy fires, the whole buffer is drained in the same critical
// section and returned.
func (s *Session) AcceptFrame(frame protocol.AudioFrame) (accepted bool, flushed []protocol.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.listening || s.phase != PhaseActive {
		return false, nil
	}
	n := s.buffer.Append(frame)
	s.lastActivity = time.Now()
	if s.policy.ShouldFlush(s.mode, n) {
		return true, s.buffer.Drain()
	}
	return true, nil
}

// Flush drains the buffer regardless of mode, for wake word triggers
func (s *Session) Flush() []protocol.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Drain()
}

// Restore returns frames of a flush that could not be handed on to the
// front of the buffer, so the next flush carries them. It is a no-op when
// the session is no longer listening.
func (s *Session) Restore(frames []protocol.AudioFrame) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.listening || s.phase != PhaseActive {
		return 0
	}
	return s.buffer.Prepend(frames)
}

// ClearBuffer drops every buffered frame and returns how many were dropped
func (s *Session) ClearBuffer() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Clear()
}

// SetDescriptors stores the IoT descriptors reported by the client
func (s *Session) SetDescriptors(descriptors []protocol.DeviceDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptors = descriptors
}

// Descriptors returns the IoT descriptors reported by the client
func (s *Session) Descriptors() []protocol.DeviceDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.descriptors
}

// UpdateDeviceStates merges reported IoT states into the session
func (s *Session) UpdateDeviceStates(states map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deviceStates == nil {
		s.deviceStates = make(map[string]interface{}, len(states))
	}
	for name, state := range states {
		s.deviceStates[name] = state
	}
}

// DeviceStates returns a copy of the last reported IoT states
func (s *Session) DeviceStates() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make(map[string]interface{}, len(s.deviceStates))
	for name, state := range s.deviceStates {
		states[name] = state
	}
	return states
}

// MarkClosed moves the session to its terminal phase and discards the
// buffer. It reports true only for the first call.
func (s *Session) MarkClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseClosed {
		return false
	}
	s.phase = PhaseClosed
	s.listening = false
	s.buffer.Clear()
	return true
}

// Send encodes and writes a control message
func (s *Session) Send(msg protocol.Message) error {
	return s.transport.SendText(protocol.Encode(msg))
}

// SendAudio writes one binary audio frame
func (s *Session) SendAudio(frame []byte) error {
	return s.transport.SendBinary(frame)
}

// DiscardPendingAudio drops audio still queued in the transport. Transports
// that write synchronously have nothing to drop.
func (s *Session) DiscardPendingAudio() int {
	if d, ok := s.transport.(AudioDiscarder); ok {
		return d.DiscardPendingAudio()
	}
	return 0
}

// Close closes the underlying transport with the given close code
func (s *Session) Close(code int, reason string) error {
	return s.transport.Close(code, reason)
}

// Summary is a read-only view of a session for the HTTP API
type Summary struct {
	ID             string              `json:"id"`
	ClientID       string              `json:"client_id"`
	DeviceID       string              `json:"device_id"`
	Phase          Phase               `json:"phase"`
	Listening      bool                `json:"listening"`
	Mode           protocol.ListenMode `json:"mode"`
	BufferedFrames int                 `json:"buffered_frames"`
	CreatedAt      time.Time           `json:"created_at"`
	LastActivity   time.Time           `json:"last_activity"`
}

// Summary returns a snapshot of the session
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		ID:             s.ID,
		ClientID:       s.ClientID,
		DeviceID:       s.DeviceID,
		Phase:          s.phase,
		Listening:      s.listening,
		Mode:           s.mode,
		BufferedFrames: s.buffer.Len(),
		CreatedAt:      s.CreatedAt,
		LastActivity:   s.lastActivity,
	}
}
