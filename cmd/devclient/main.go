// Command devclient drives one conversation turn against a running gateway.
// It speaks the device side of the protocol: handshake, listen, audio
// frames and text detect. Received audio is written to disk.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/internal/protocol"
)

type options struct {
	addr      string
	adminKey  string
	deviceID  string
	clientID  string
	audioPath string
	text      string
	mode      string
	frameSize int
	outDir    string
}

func main() {
	var opts options
	flag.StringVar(&opts.addr, "addr", "localhost:8000", "gateway host:port")
	flag.StringVar(&opts.adminKey, "admin-key", "", "admin key used to fetch a device token")
	flag.StringVar(&opts.deviceID, "device", "devclient-001", "device id")
	flag.StringVar(&opts.clientID, "client", "devclient", "client id")
	flag.StringVar(&opts.audioPath, "audio", "", "file streamed as audio frames")
	flag.StringVar(&opts.text, "text", "", "send a text detect instead of audio")
	flag.StringVar(&opts.mode, "mode", string(protocol.ListenModeManual), "listen mode for audio turns")
	flag.IntVar(&opts.frameSize, "frame-size", 1024, "bytes per audio frame")
	flag.StringVar(&opts.outDir, "out", "audio_responses", "directory for received audio")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if err := run(opts, logger); err != nil {
		logger.Fatal("Client failed", zap.Error(err))
	}
}

func run(opts options, logger *zap.Logger) error {
	headers := http.Header{}
	headers.Set("Protocol-Version", strconv.Itoa(protocol.Version))
	headers.Set("Device-Id", opts.deviceID)
	headers.Set("Client-Id", opts.clientID)

	if opts.adminKey != "" {
		token, err := fetchToken(opts)
		if err != nil {
			return fmt.Errorf("failed to fetch device token: %w", err)
		}
		headers.Set("Authorization", "Bearer "+token)
		logger.Info("Fetched device token", zap.String("deviceID", opts.deviceID))
	}

	u := url.URL{Scheme: "ws", Host: opts.addr, Path: "/ws"}
	logger.Info("Connecting", zap.String("url", u.String()))

	c, _, err := websocket.DefaultDialer.Dial(u.String(), headers)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer c.Close()

	if err := send(c, protocol.Hello(protocol.DefaultAudioParams)); err != nil {
		return err
	}

	done := make(chan struct{})
	go readLoop(c, opts.outDir, logger, done)

	if opts.text != "" {
		err = send(c, protocol.ListenDetect(opts.text, protocol.DetectSourceText))
	} else {
		err = streamAudio(c, opts, logger)
	}
	if err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	select {
	case <-done:
		return nil
	case <-interrupt:
		logger.Info("Interrupted, closing connection")
		err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			return fmt.Errorf("write close: %w", err)
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return nil
	}
}

func fetchToken(opts options) (string, error) {
	body, err := json.Marshal(map[string]string{
		"device_id": opts.deviceID,
		"client_id": opts.clientID,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, "http://"+opts.addr+"/api/v1/device/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", opts.adminKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed: %s", string(raw))
	}

	var tokenResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &tokenResp); err != nil {
		return "", err
	}
	return tokenResp.Token, nil
}

func streamAudio(c *websocket.Conn, opts options, logger *zap.Logger) error {
	if opts.audioPath == "" {
		return fmt.Errorf("either -audio or -text is required")
	}
	data, err := os.ReadFile(opts.audioPath)
	if err != nil {
		return fmt.Errorf("failed to read audio file: %w", err)
	}

	mode := protocol.ListenMode(opts.mode)
	if !mode.Valid() {
		return fmt.Errorf("unknown listen mode %q", opts.mode)
	}
	if err := send(c, protocol.ListenStart(mode)); err != nil {
		return err
	}

	frames := 0
	for start := 0; start < len(data); start += opts.frameSize {
		end := min(start+opts.frameSize, len(data))
		if err := c.WriteMessage(websocket.BinaryMessage, data[start:end]); err != nil {
			return fmt.Errorf("failed to send frame %d: %w", frames, err)
		}
		frames++
		time.Sleep(60 * time.Millisecond)
	}
	logger.Info("Audio sent", zap.Int("frames", frames), zap.Int("bytes", len(data)))

	if mode == protocol.ListenModeRealtime {
		return nil
	}
	return send(c, protocol.ListenStop())
}

func send(c *websocket.Conn, msg protocol.Message) error {
	return c.WriteMessage(websocket.TextMessage, protocol.Encode(msg))
}

func readLoop(c *websocket.Conn, outDir string, logger *zap.Logger, done chan struct{}) {
	defer close(done)

	var audioFile *os.File
	var frames int
	started := time.Now()

	for {
		messageType, raw, err := c.ReadMessage()
		if err != nil {
			logger.Info("Connection closed", zap.Error(err))
			return
		}

		if messageType == websocket.BinaryMessage {
			frames++
			if audioFile != nil {
				if _, err := audioFile.Write(raw); err != nil {
					logger.Warn("Failed to write audio frame", zap.Error(err))
				}
			}
			continue
		}

		msg, err := protocol.DecodeMessage(raw)
		if err != nil {
			logger.Warn("Unreadable message from gateway", zap.Error(err))
			continue
		}

		switch {
		case msg.Type == protocol.MessageTypeTTS && msg.State == string(protocol.TTSStateStart):
			started = time.Now()
			frames = 0
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				logger.Error("Failed to create output directory", zap.Error(err))
				continue
			}
			path := filepath.Join(outDir, fmt.Sprintf("%d.audio", time.Now().Unix()))
			audioFile, err = os.Create(path)
			if err != nil {
				logger.Error("Failed to create audio file", zap.Error(err))
				continue
			}
			logger.Info("Response audio started", zap.String("file", path))

		case msg.Type == protocol.MessageTypeTTS && msg.State == string(protocol.TTSStateStop):
			logger.Info("Response audio ended",
				zap.Duration("duration", time.Since(started)),
				zap.Int("frames", frames))
			if audioFile != nil {
				audioFile.Close()
				audioFile = nil
			}

		case msg.Type == protocol.MessageTypeTextResponse:
			logger.Info("Text response", zap.String("text", msg.Text))

		default:
			logger.Info("Received message",
				zap.String("type", string(msg.Type)),
				zap.String("state", msg.State),
				zap.String("text", msg.Text))
		}
	}
}
