package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/satriahrh/arunika/gateway/internal/pipeline"
	"github.com/satriahrh/arunika/gateway/internal/protocol"
	"github.com/satriahrh/arunika/gateway/internal/session"
)

// unit is one outbound message as the client would see it
type unit struct {
	msg    *protocol.Message
	binary []byte
}

func (u unit) String() string {
	if u.msg == nil {
		return fmt.Sprintf("binary(%d)", len(u.binary))
	}
	if u.msg.State != "" {
		return string(u.msg.Type) + ":" + u.msg.State
	}
	return string(u.msg.Type)
}

type recordingTransport struct {
	mu     sync.Mutex
	units  []unit
	notify chan unit
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{notify: make(chan unit, 256)}
}

func (t *recordingTransport) SendText(payload []byte) error {
	var msg protocol.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	t.record(unit{msg: &msg})
	return nil
}

func (t *recordingTransport) SendBinary(payload []byte) error {
	t.record(unit{binary: append([]byte(nil), payload...)})
	return nil
}

func (t *recordingTransport) Close(code int, reason string) error {
	return nil
}

func (t *recordingTransport) record(u unit) {
	t.mu.Lock()
	t.units = append(t.units, u)
	t.mu.Unlock()
	t.notify <- u
}

func (t *recordingTransport) sequence() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.units))
	for _, u := range t.units {
		out = append(out, u.String())
	}
	return out
}

func (t *recordingTransport) count(name string) int {
	n := 0
	for _, s := range t.sequence() {
		if s == name {
			n++
		}
	}
	return n
}

// waitFor blocks until a unit named name is recorded
func (t *recordingTransport) waitFor(tb testing.TB, name string) unit {
	tb.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-t.notify:
			if u.String() == name {
				return u
			}
		case <-deadline:
			tb.Fatalf("timed out waiting for %s; got %v", name, t.sequence())
			return unit{}
		}
	}
}

func newTestSession(t *recordingTransport) *session.Session {
	return session.New(t, session.Options{
		DeviceID:    "device-1",
		AudioParams: protocol.DefaultAudioParams,
		Policy:      session.NewFlushPolicy(10),
	})
}

// runnerFunc adapts a function to PipelineRunner
type runnerFunc func(ctx context.Context, state pipeline.State) pipeline.State

func (f runnerFunc) Run(ctx context.Context, state pipeline.State) pipeline.State {
	return f(ctx, state)
}

func (f runnerFunc) Forget(string) {}

func speechOf(segments ...pipeline.Segment) pipeline.Speech {
	ch := make(chan pipeline.Segment, len(segments))
	for _, seg := range segments {
		ch <- seg
	}
	close(ch)
	return ch
}

func waitDone(tb testing.TB, done <-chan struct{}) {
	tb.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		tb.Fatal("timed out waiting for response to complete")
	}
}
