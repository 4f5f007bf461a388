package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/domain/entities"
	"github.com/satriahrh/arunika/gateway/domain/repositories"
	"github.com/satriahrh/arunika/gateway/internal/metrics"
	"github.com/satriahrh/arunika/gateway/internal/pipeline"
	"github.com/satriahrh/arunika/gateway/internal/protocol"
	"github.com/satriahrh/arunika/gateway/internal/session"
)

const storageTimeout = 5 * time.Second

// Flush triggers recorded in metrics
const (
	triggerThreshold = "threshold"
	triggerRealtime  = "realtime"
	triggerStop      = "stop"
	triggerRestart   = "restart"
	triggerWakeWord  = "wake_word"
	triggerText      = "text"
	triggerFunction  = "function_call"
)

// PipelineRunner runs turns and releases per-session pipeline state
type PipelineRunner interface {
	Runner
	Forget(sessionID string)
}

// DeviceRegistry tracks the IoT devices each session described
type DeviceRegistry interface {
	Register(sessionID string, descriptors []protocol.DeviceDescriptor)
	Validate(sessionID string, commands []protocol.DeviceCommand) ([]protocol.DeviceCommand, []pipeline.CommandResult)
}

// Config wires a Controller
type Config struct {
	Pipeline      PipelineRunner
	Devices       DeviceRegistry
	Conversations repositories.ConversationRepository
	QueueSize     int
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

type connection struct {
	streamer       *Streamer
	conversationID string
}

// Controller reacts to session events: it buffers audio, dispatches control
// messages and feeds turns to each session's streamer.
type Controller struct {
	pipeline      PipelineRunner
	devices       DeviceRegistry
	conversations repositories.ConversationRepository
	queueSize     int
	logger        *zap.Logger
	metrics       *metrics.Metrics

	mu    sync.Mutex
	conns map[string]*connection
}

// NewController creates a controller
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	return &Controller{
		pipeline:      cfg.Pipeline,
		devices:       cfg.Devices,
		conversations: cfg.Conversations,
		queueSize:     cfg.QueueSize,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		conns:         make(map[string]*connection),
	}
}

// OnConnect starts the session's streamer and opens its conversation record
func (c *Controller) OnConnect(s *session.Session) {
	conn := &connection{}
	if c.conversations != nil {
		conv := entities.NewConversation(s.ID, s.DeviceID, s.ClientID)
		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		if err := c.conversations.Create(ctx, conv); err != nil {
			c.logger.Error("Failed to create conversation",
				zap.String("sessionID", s.ID),
				zap.Error(err))
		} else {
			conn.conversationID = conv.ID
		}
		cancel()
	}

	conversationID := conn.conversationID
	conn.streamer = NewStreamer(s, c.pipeline, c.queueSize, func(result pipeline.State, aborted bool) {
		c.recordTurn(conversationID, result, aborted)
	}, c.logger, c.metrics)

	c.mu.Lock()
	c.conns[s.ID] = conn
	c.mu.Unlock()

	c.metrics.SessionsAdmitted.Inc()
	c.metrics.ActiveSessions.Inc()
	c.logger.Info("Session connected",
		zap.String("sessionID", s.ID),
		zap.String("deviceID", s.DeviceID))
}

// OnDisconnect tears the session down. Calling it more than once is a no-op.
func (c *Controller) OnDisconnect(s *session.Session) {
	c.mu.Lock()
	conn, ok := c.conns[s.ID]
	delete(c.conns, s.ID)
	c.mu.Unlock()
	if !ok {
		return
	}

	conn.streamer.Close()
	if c.pipeline != nil {
		c.pipeline.Forget(s.ID)
	}
	if c.conversations != nil && conn.conversationID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		if err := c.conversations.Close(ctx, conn.conversationID, time.Now()); err != nil {
			c.logger.Error("Failed to close conversation",
				zap.String("sessionID", s.ID),
				zap.Error(err))
		}
		cancel()
	}

	c.metrics.ActiveSessions.Dec()
	c.logger.Info("Session disconnected", zap.String("sessionID", s.ID))
}

// OnMessage dispatches a decoded control message
func (c *Controller) OnMessage(s *session.Session, msg *protocol.Message) {
	s.Touch()

	switch msg.Type {
	case protocol.MessageTypeHello:
		c.logger.Debug("Ignoring repeated hello", zap.String("sessionID", s.ID))
	case protocol.MessageTypeListen:
		c.handleListen(s, msg)
	case protocol.MessageTypeAbort:
		c.handleAbort(s, msg)
	case protocol.MessageTypeIoT:
		c.handleIoT(s, msg)
	case protocol.MessageTypeFunctionCall:
		c.submit(s, triggerFunction, pipeline.State{
			Input: pipeline.InputFunctionCall,
			FunctionCall: &pipeline.FunctionCall{
				Name:      msg.Function,
				Arguments: msg.Arguments,
			},
		})
	default:
		c.logger.Warn("Ignoring message not accepted from clients",
			zap.String("sessionID", s.ID),
			zap.String("type", string(msg.Type)))
	}
}

// OnAudio buffers a frame and submits a turn when the flush policy fires
func (c *Controller) OnAudio(s *session.Session, frame protocol.AudioFrame) {
	accepted, flushed := s.AcceptFrame(frame)
	if !accepted {
		c.metrics.FramesDropped.Inc()
		c.logger.Debug("Dropping audio frame while not listening",
			zap.String("sessionID", s.ID),
			zap.Int("size", len(frame)))
		return
	}
	c.metrics.FramesReceived.Inc()

	if len(flushed) == 0 {
		return
	}
	trigger := triggerThreshold
	if s.Mode() == protocol.ListenModeRealtime {
		trigger = triggerRealtime
	}
	c.submitAudio(s, trigger, flushed, "")
}

func (c *Controller) handleListen(s *session.Session, msg *protocol.Message) {
	switch protocol.ListenState(msg.State) {
	case protocol.ListenStateStart:
		flushed, discarded := s.StartListening(msg.Mode)
		if discarded > 0 {
			c.logger.Info("Discarded frames left from manual listening",
				zap.String("sessionID", s.ID),
				zap.Int("frames", discarded))
		}
		c.submitAudio(s, triggerRestart, flushed, "")
		c.logger.Debug("Listening started",
			zap.String("sessionID", s.ID),
			zap.String("mode", string(msg.Mode)))

	case protocol.ListenStateStop:
		c.submitAudio(s, triggerStop, s.StopListening(), "")

	case protocol.ListenStateDetect:
		if msg.Source == protocol.DetectSourceText {
			c.submit(s, triggerText, pipeline.State{
				Input:         pipeline.InputText,
				Text:          msg.Text,
				SkipSynthesis: true,
			})
			return
		}
		c.submitAudio(s, triggerWakeWord, s.Flush(), msg.Text)
	}
}

func (c *Controller) handleAbort(s *session.Session, msg *protocol.Message) {
	cleared := s.ClearBuffer()
	if conn := c.connection(s.ID); conn != nil {
		conn.streamer.Abort()
	}
	c.logger.Info("Abort requested",
		zap.String("sessionID", s.ID),
		zap.String("reason", string(msg.Reason)),
		zap.Int("clearedFrames", cleared))
}

func (c *Controller) handleIoT(s *session.Session, msg *protocol.Message) {
	if len(msg.Descriptors) > 0 {
		s.SetDescriptors(msg.Descriptors)
		if c.devices != nil {
			c.devices.Register(s.ID, msg.Descriptors)
		}
	}
	if len(msg.States) > 0 {
		s.UpdateDeviceStates(msg.States)
	}
	if len(msg.Commands) == 0 || c.devices == nil {
		return
	}

	valid, _ := c.devices.Validate(s.ID, msg.Commands)
	if len(valid) == 0 {
		return
	}
	conn := c.connection(s.ID)
	if conn == nil {
		return
	}
	if err := conn.streamer.Send(protocol.IoTCommands(valid)); err != nil {
		c.logger.Warn("Failed to forward device commands",
			zap.String("sessionID", s.ID),
			zap.Error(err))
	}
}

func (c *Controller) submitAudio(s *session.Session, trigger string, frames []protocol.AudioFrame, wakeWord string) {
	if len(frames) == 0 {
		c.logger.Debug("Empty flush",
			zap.String("sessionID", s.ID),
			zap.String("trigger", trigger))
		return
	}
	c.metrics.FlushSize.Observe(float64(len(frames)))
	err := c.submit(s, trigger, pipeline.State{
		Input:    pipeline.InputAudio,
		Frames:   frames,
		WakeWord: wakeWord,
	})

	// Threshold and realtime flushes keep their audio when the queue is
	// full; it rides along with the next flush of the same cycle.
	if errors.Is(err, ErrQueueFull) && (trigger == triggerThreshold || trigger == triggerRealtime) {
		buffered := s.Restore(frames)
		c.logger.Debug("Flush deferred until the response queue drains",
			zap.String("sessionID", s.ID),
			zap.Int("bufferedFrames", buffered))
	}
}

func (c *Controller) submit(s *session.Session, trigger string, state pipeline.State) error {
	conn := c.connection(s.ID)
	if conn == nil {
		c.logger.Warn("Dropping turn for unknown session", zap.String("sessionID", s.ID))
		return ErrStreamerClosed
	}

	state.SessionID = s.ID
	state.DeviceID = s.DeviceID
	state.Audio = s.AudioParams()

	c.metrics.Flushes.WithLabelValues(trigger).Inc()
	err := conn.streamer.Enqueue(state)
	if err != nil {
		level := zap.WarnLevel
		if errors.Is(err, ErrStreamerClosed) {
			level = zap.DebugLevel
		}
		c.logger.Check(level, "Turn rejected").Write(
			zap.String("sessionID", s.ID),
			zap.String("trigger", trigger),
			zap.Error(err))
	}
	return err
}

func (c *Controller) connection(sessionID string) *connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns[sessionID]
}

func (c *Controller) recordTurn(conversationID string, result pipeline.State, aborted bool) {
	if c.conversations == nil || conversationID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	user := result.Transcript
	if result.Input == pipeline.InputFunctionCall {
		user = result.Prompt()
	}
	if user != "" {
		turn := entities.NewTurn(entities.TurnRoleUser, user, 0, entities.TurnMetadata{})
		turn.Input = string(result.Input)
		if err := c.conversations.AppendTurn(ctx, conversationID, turn); err != nil {
			c.logger.Error("Failed to record user turn", zap.Error(err))
			return
		}
	}

	if aborted || result.Reply == "" {
		return
	}
	turn := entities.NewTurn(entities.TurnRoleAssistant, result.Reply, 0, entities.TurnMetadata{
		Emotion:  string(result.Emotion),
		Commands: len(result.Commands),
		Degraded: result.Degraded,
	})
	if err := c.conversations.AppendTurn(ctx, conversationID, turn); err != nil {
		c.logger.Error("Failed to record assistant turn", zap.Error(err))
	}
}
