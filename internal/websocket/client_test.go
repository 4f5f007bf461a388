package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/internal/gateway"
	"github.com/satriahrh/arunika/gateway/internal/metrics"
	"github.com/satriahrh/arunika/gateway/internal/pipeline"
	"github.com/satriahrh/arunika/gateway/internal/protocol"
	"github.com/satriahrh/arunika/gateway/internal/session"
)

// connPair returns the server side of an upgraded connection and the peer
// dialed to it.
func connPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(httpServer.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpServer.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	select {
	case conn := <-accepted:
		t.Cleanup(func() { conn.Close() })
		return conn, peer
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the upgrade")
		return nil, nil
	}
}

// readUnits reads from the peer until a tts:stop arrives and names each unit
func readUnits(t *testing.T, peer *websocket.Conn) []string {
	t.Helper()
	var units []string
	for {
		require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
		frameType, raw, err := peer.ReadMessage()
		require.NoError(t, err, "read so far: %v", units)
		if frameType == websocket.BinaryMessage {
			units = append(units, "binary")
			continue
		}
		msg, err := protocol.DecodeMessage(raw)
		require.NoError(t, err)
		name := string(msg.Type)
		if msg.State != "" {
			name += ":" + msg.State
		}
		units = append(units, name)
		if name == "tts:stop" {
			return units
		}
	}
}

func TestClient_DiscardPendingAudioKeepsText(t *testing.T) {
	conn, peer := connPair(t)
	client := newClient(conn, zap.NewNop())
	defer client.shutdown()

	require.NoError(t, client.SendText(protocol.Encode(protocol.TTSStart())))
	require.NoError(t, client.SendBinary([]byte{1}))
	require.NoError(t, client.SendBinary([]byte{2}))

	assert.Equal(t, 2, client.DiscardPendingAudio())

	require.NoError(t, client.SendBinary([]byte{3}))
	require.NoError(t, client.SendText(protocol.Encode(protocol.TTSStop())))

	go client.writePump()

	assert.Equal(t, []string{"tts:start", "binary", "tts:stop"}, readUnits(t, peer))
}

func TestClient_AbortDropsAudioQueuedBehindStalledWriter(t *testing.T) {
	conn, peer := connPair(t)
	client := newClient(conn, zap.NewNop())
	defer client.shutdown()

	s := session.New(client, session.Options{AudioParams: protocol.DefaultAudioParams})
	speech := make(chan pipeline.Segment, 4)
	speech <- pipeline.Segment{Sentence: "Hello there."}
	speech <- pipeline.Segment{Frame: []byte{1}}
	speech <- pipeline.Segment{Frame: []byte{2}}
	speech <- pipeline.Segment{Frame: []byte{3}}

	runner := runnerFunc(func(ctx context.Context, st pipeline.State) pipeline.State {
		st.Reply = "Hello there."
		st.Speech = speech
		return st
	})
	streamer := gateway.NewStreamer(s, runner, 4, nil, zap.NewNop(), metrics.NewNop())
	defer streamer.Close()

	require.NoError(t, streamer.Enqueue(pipeline.State{Input: pipeline.InputAudio}))

	// tts:start, the sentence and three frames wait for the writer
	require.Eventually(t, func() bool { return len(client.send) == 5 }, 2*time.Second, 5*time.Millisecond)

	streamer.Abort()
	go client.writePump()

	assert.Equal(t, []string{"tts:start", "tts:sentence_start", "tts:stop"}, readUnits(t, peer))
}

func TestClient_WriteFailureClosesTransport(t *testing.T) {
	conn, _ := connPair(t)
	client := newClient(conn, zap.NewNop())

	require.NoError(t, conn.UnderlyingConn().Close())
	go client.writePump()

	require.NoError(t, client.SendText(protocol.Encode(protocol.TTSStart())))
	require.Eventually(t, func() bool {
		return errors.Is(client.SendBinary([]byte{1}), session.ErrTransportClosed)
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, client.SendText([]byte(`{}`)), session.ErrTransportClosed)
}

type runnerFunc func(ctx context.Context, st pipeline.State) pipeline.State

func (f runnerFunc) Run(ctx context.Context, st pipeline.State) pipeline.State {
	return f(ctx, st)
}
