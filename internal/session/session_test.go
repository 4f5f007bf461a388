package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/satriahrh/arunika/gateway/internal/protocol"
)

type fakeTransport struct {
	mu      sync.Mutex
	texts   [][]byte
	binary  [][]byte
	closed  bool
	code    int
	reason  string
	sendErr error
}

type queueingTransport struct {
	fakeTransport
	pending int
}

func (q *queueingTransport) DiscardPendingAudio() int {
	n := q.pending
	q.pending = 0
	return n
}

func (f *fakeTransport) SendText(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.texts = append(f.texts, payload)
	return nil
}

func (f *fakeTransport) SendBinary(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.binary = append(f.binary, payload)
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
	f.reason = reason
	return nil
}

func frame(i int) protocol.AudioFrame {
	return protocol.AudioFrame(fmt.Sprintf("frame-%02d", i))
}

func newTestSession() *Session {
	return New(&fakeTransport{}, Options{ClientID: "client-1", DeviceID: "device-1"})
}

func TestNewSessionDefaults(t *testing.T) {
	s := New(&fakeTransport{}, Options{})

	if s.ID == "" {
		t.Error("Expected session ID to be generated")
	}
	if s.ClientID != UnknownID || s.DeviceID != UnknownID {
		t.Errorf("Expected unknown identifiers, got client=%s device=%s", s.ClientID, s.DeviceID)
	}
	if s.Phase() != PhaseActive {
		t.Errorf("Expected phase %s, got %s", PhaseActive, s.Phase())
	}
	if listening, mode := s.Listening(); listening || mode != protocol.ListenModeNone {
		t.Errorf("Expected idle session, got listening=%v mode=%s", listening, mode)
	}
	if s.policy.Threshold != DefaultFlushThreshold {
		t.Errorf("Expected default threshold %d, got %d", DefaultFlushThreshold, s.policy.Threshold)
	}
}

func TestAcceptFrame_RejectedWhenNotListening(t *testing.T) {
	s := newTestSession()

	accepted, flushed := s.AcceptFrame(frame(1))
	if accepted {
		t.Error("Frame should be rejected before listen start")
	}
	if flushed != nil {
		t.Error("Nothing should be flushed")
	}
	if s.BufferedFrames() != 0 {
		t.Errorf("Expected empty buffer, got %d", s.BufferedFrames())
	}
}

func TestAutoMode_FlushesAtThreshold(t *testing.T) {
	s := newTestSession()
	s.StartListening(protocol.ListenModeAuto)

	var flushes [][]protocol.AudioFrame
	for i := 1; i <= 12; i++ {
		accepted, flushed := s.AcceptFrame(frame(i))
		if !accepted {
			t.Fatalf("Frame %d was rejected", i)
		}
		if flushed != nil {
			if i != DefaultFlushThreshold {
				t.Errorf("Unexpected flush after frame %d", i)
			}
			flushes = append(flushes, flushed)
		}
	}

	if len(flushes) != 1 {
		t.Fatalf("Expected exactly one flush, got %d", len(flushes))
	}
	if len(flushes[0]) != DefaultFlushThreshold {
		t.Errorf("Expected flush of %d frames, got %d", DefaultFlushThreshold, len(flushes[0]))
	}
	for i, f := range flushes[0] {
		if string(f) != string(frame(i+1)) {
			t.Errorf("Frame %d out of order: %s", i, f)
		}
	}
	if s.BufferedFrames() != 2 {
		t.Errorf("Expected 2 frames left in buffer, got %d", s.BufferedFrames())
	}
}

func TestAutoMode_StopFlushesRemainder(t *testing.T) {
	s := newTestSession()
	s.StartListening(protocol.ListenModeAuto)
	for i := 1; i <= 3; i++ {
		s.AcceptFrame(frame(i))
	}

	flushed := s.StopListening()
	if len(flushed) != 3 {
		t.Errorf("Expected 3 frames on stop, got %d", len(flushed))
	}
	if s.BufferedFrames() != 0 {
		t.Errorf("Expected empty buffer after stop, got %d", s.BufferedFrames())
	}
	if listening, _ := s.Listening(); listening {
		t.Error("Session should not be listening after stop")
	}
	if accepted, _ := s.AcceptFrame(frame(4)); accepted {
		t.Error("Frames after stop must be rejected")
	}
}

func TestRealtimeMode_FlushesEveryFrame(t *testing.T) {
	s := newTestSession()
	s.StartListening(protocol.ListenModeRealtime)

	for i := 1; i <= 5; i++ {
		_, flushed := s.AcceptFrame(frame(i))
		if len(flushed) != 1 {
			t.Fatalf("Frame %d: expected flush of size 1, got %d", i, len(flushed))
		}
		if string(flushed[0]) != string(frame(i)) {
			t.Errorf("Frame %d: unexpected content %s", i, flushed[0])
		}
		if s.BufferedFrames() != 0 {
			t.Errorf("Frame %d: buffer should be empty after flush", i)
		}
	}
}

func TestManualMode_FlushesOnlyOnStop(t *testing.T) {
	s := newTestSession()
	s.StartListening(protocol.ListenModeManual)

	for i := 1; i <= 25; i++ {
		if _, flushed := s.AcceptFrame(frame(i)); flushed != nil {
			t.Fatalf("Manual mode flushed after frame %d", i)
		}
	}

	flushed := s.StopListening()
	if len(flushed) != 25 {
		t.Fatalf("Expected 25 frames on stop, got %d", len(flushed))
	}
	for i, f := range flushed {
		if string(f) != string(frame(i+1)) {
			t.Errorf("Frame %d out of order: %s", i, f)
		}
	}
}

func TestStartListening_HandlesLeftovers(t *testing.T) {
	s := newTestSession()
	s.StartListening(protocol.ListenModeAuto)
	s.AcceptFrame(frame(1))
	s.AcceptFrame(frame(2))

	flushed, discarded := s.StartListening(protocol.ListenModeManual)
	if len(flushed) != 2 || discarded != 0 {
		t.Errorf("Auto leftovers should be flushed, got flushed=%d discarded=%d", len(flushed), discarded)
	}

	s.AcceptFrame(frame(3))
	flushed, discarded = s.StartListening(protocol.ListenModeAuto)
	if flushed != nil || discarded != 1 {
		t.Errorf("Manual leftovers should be discarded, got flushed=%d discarded=%d", len(flushed), discarded)
	}
	if s.Mode() != protocol.ListenModeAuto {
		t.Errorf("Expected mode auto, got %s", s.Mode())
	}
}

func TestClearBuffer(t *testing.T) {
	s := newTestSession()
	s.StartListening(protocol.ListenModeManual)
	s.AcceptFrame(frame(1))
	s.AcceptFrame(frame(2))

	if dropped := s.ClearBuffer(); dropped != 2 {
		t.Errorf("Expected 2 dropped frames, got %d", dropped)
	}
	if s.BufferedFrames() != 0 {
		t.Error("Buffer should be empty after clear")
	}
	if flushed := s.Flush(); flushed != nil {
		t.Error("Flush of an empty buffer should return nil")
	}
}

func TestRestore_PutsFramesBackInOrder(t *testing.T) {
	s := newTestSession()
	s.StartListening(protocol.ListenModeRealtime)

	_, flushed := s.AcceptFrame(frame(1))
	if len(flushed) != 1 {
		t.Fatalf("Expected realtime flush of 1 frame, got %d", len(flushed))
	}
	if n := s.Restore(flushed); n != 1 {
		t.Errorf("Expected 1 buffered frame after restore, got %d", n)
	}

	_, flushed = s.AcceptFrame(frame(2))
	if len(flushed) != 2 || string(flushed[0]) != string(frame(1)) || string(flushed[1]) != string(frame(2)) {
		t.Errorf("Expected restored frame ahead of the new one, got %q", flushed)
	}

	s.StopListening()
	if n := s.Restore([]protocol.AudioFrame{frame(3)}); n != 0 {
		t.Errorf("Restore after stop should be a no-op, got %d", n)
	}
}

func TestDiscardPendingAudio(t *testing.T) {
	if n := newTestSession().DiscardPendingAudio(); n != 0 {
		t.Errorf("Synchronous transport should discard nothing, got %d", n)
	}

	transport := &queueingTransport{pending: 3}
	s := New(transport, Options{})
	if n := s.DiscardPendingAudio(); n != 3 {
		t.Errorf("Expected 3 discarded frames, got %d", n)
	}
}

func TestConcurrentAppendAndClear(t *testing.T) {
	s := newTestSession()
	s.StartListening(protocol.ListenModeAuto)

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if _, flushed := s.AcceptFrame(frame(i)); flushed != nil {
				mu.Lock()
				total += len(flushed)
				mu.Unlock()
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			n := s.ClearBuffer()
			mu.Lock()
			total += n
			mu.Unlock()
		}
	}()
	wg.Wait()

	total += s.ClearBuffer()
	if total != 1000 {
		t.Errorf("Every frame must be either flushed or cleared exactly once, got %d", total)
	}
}

func TestMarkClosed(t *testing.T) {
	s := newTestSession()
	s.StartListening(protocol.ListenModeManual)
	s.AcceptFrame(frame(1))

	if !s.MarkClosed() {
		t.Error("First MarkClosed should report true")
	}
	if s.MarkClosed() {
		t.Error("Second MarkClosed should report false")
	}
	if s.BufferedFrames() != 0 {
		t.Error("Buffer should be discarded on close")
	}
	if accepted, _ := s.AcceptFrame(frame(2)); accepted {
		t.Error("Closed session must not accept frames")
	}
}

func TestDeviceStates(t *testing.T) {
	s := newTestSession()
	s.UpdateDeviceStates(map[string]interface{}{"lamp": "on"})
	s.UpdateDeviceStates(map[string]interface{}{"speaker": 3})

	states := s.DeviceStates()
	if states["lamp"] != "on" || states["speaker"] != 3 {
		t.Errorf("Unexpected states %v", states)
	}

	states["lamp"] = "off"
	if s.DeviceStates()["lamp"] != "on" {
		t.Error("DeviceStates must return a copy")
	}
}

func TestSendUsesTransport(t *testing.T) {
	transport := &fakeTransport{}
	s := New(transport, Options{})

	if err := s.Send(protocol.TTSStop()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := s.SendAudio([]byte{1, 2}); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	if err := s.Close(1000, "bye"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(transport.texts) != 1 || string(transport.texts[0]) != `{"type":"tts","state":"stop"}` {
		t.Errorf("Unexpected text frames %q", transport.texts)
	}
	if len(transport.binary) != 1 {
		t.Errorf("Expected one binary frame, got %d", len(transport.binary))
	}
	if !transport.closed || transport.code != 1000 {
		t.Errorf("Expected close with 1000, got closed=%v code=%d", transport.closed, transport.code)
	}
}
