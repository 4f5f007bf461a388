package gateway

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/internal/metrics"
	"github.com/satriahrh/arunika/gateway/internal/pipeline"
	"github.com/satriahrh/arunika/gateway/internal/protocol"
	"github.com/satriahrh/arunika/gateway/internal/session"
)

var (
	// ErrQueueFull is returned when a session already has the maximum
	// number of responses waiting.
	ErrQueueFull = errors.New("response queue full")
	// ErrStreamerClosed is returned after the session has gone away
	ErrStreamerClosed = errors.New("streamer closed")
)

// DefaultQueueSize is the number of responses that may wait behind the active one
const DefaultQueueSize = 4

// Runner executes the pipeline for one turn
type Runner interface {
	Run(ctx context.Context, state pipeline.State) pipeline.State
}

// Completion is called on the worker after each response. aborted is true
// when the response was cancelled before it finished.
type Completion func(result pipeline.State, aborted bool)

type job struct {
	state pipeline.State
	epoch uint64
}

// response is the in-flight turn. stopSent is guarded by Streamer.sendMu.
type response struct {
	cancel   context.CancelFunc
	stopSent bool
}

// Streamer serializes the responses of one session. Jobs queue behind the
// active response and are delivered in order by a single worker.
type Streamer struct {
	session    *session.Session
	runner     Runner
	onComplete Completion
	logger     *zap.Logger
	metrics    *metrics.Metrics

	jobs chan job

	// sendMu orders every outbound unit of this session
	sendMu sync.Mutex

	mu     sync.Mutex
	epoch  uint64
	active *response

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewStreamer creates a streamer and starts its worker
func NewStreamer(s *session.Session, runner Runner, queueSize int, onComplete Completion, logger *zap.Logger, m *metrics.Metrics) *Streamer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	st := &Streamer{
		session:    s,
		runner:     runner,
		onComplete: onComplete,
		logger:     logger.With(zap.String("sessionID", s.ID)),
		metrics:    m,
		jobs:       make(chan job, queueSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go st.run()
	return st
}

// Enqueue schedules a turn behind the active response
func (s *Streamer) Enqueue(state pipeline.State) error {
	if s.ctx.Err() != nil {
		return ErrStreamerClosed
	}

	s.mu.Lock()
	j := job{state: state, epoch: s.epoch}
	s.mu.Unlock()

	select {
	case s.jobs <- j:
		return nil
	default:
		s.metrics.ResponsesRejected.Inc()
		return ErrQueueFull
	}
}

// Abort cancels the active response and drops queued ones. Audio of the
// cancelled response still waiting in the transport is discarded. It always
// sends exactly one tts:stop, and the interrupted response sends none of its own.
func (s *Streamer) Abort() {
	s.mu.Lock()
	s.epoch++
	active := s.active
	s.mu.Unlock()

	if active != nil {
		active.cancel()
	}
	// The worker may hold sendMu while blocked on a full transport queue.
	// Discarding lets the writer drain it.
	discarded := s.session.DiscardPendingAudio()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	dropped := s.drainQueue()
	if active != nil && !active.stopSent {
		active.stopSent = true
		s.metrics.ResponsesAborted.Inc()
	}

	if err := s.session.Send(protocol.TTSStop()); err != nil {
		s.logger.Warn("Failed to send stop after abort", zap.Error(err))
	}
	s.logger.Info("Response aborted",
		zap.Bool("active", active != nil),
		zap.Int("droppedQueued", dropped),
		zap.Int("discardedFrames", discarded))
}

// Send writes a control message between response units
func (s *Streamer) Send(msg protocol.Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.session.Send(msg)
}

// Close stops the worker and waits for it to exit. Queued jobs are dropped.
func (s *Streamer) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *Streamer) drainQueue() int {
	n := 0
	for {
		select {
		case <-s.jobs:
			n++
		default:
			return n
		}
	}
}

func (s *Streamer) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case j := <-s.jobs:
			s.handle(j)
		}
	}
}

func (s *Streamer) handle(j job) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	r := &response{cancel: cancel}
	s.mu.Lock()
	if j.epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.active = r
	s.mu.Unlock()

	s.metrics.ResponsesStarted.Inc()
	result := s.runner.Run(ctx, j.state)
	delivered := ctx.Err() == nil && s.deliver(ctx, r, result)

	s.sendMu.Lock()
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
	s.sendMu.Unlock()

	if s.onComplete != nil {
		s.onComplete(result, !delivered)
	}
}

// send writes one unit unless the response was cancelled. It reports
// whether delivery may continue.
func (s *Streamer) send(ctx context.Context, r *response, write func() error) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if ctx.Err() != nil || r.stopSent {
		return false
	}
	if err := write(); err != nil {
		s.logger.Warn("Failed to deliver response", zap.Error(err))
		r.cancel()
		return false
	}
	return true
}

func (s *Streamer) sendMessage(ctx context.Context, r *response, msg protocol.Message) bool {
	return s.send(ctx, r, func() error { return s.session.Send(msg) })
}

// deliver sends the response units in order and reports whether the
// response reached its end.
func (s *Streamer) deliver(ctx context.Context, r *response, result pipeline.State) bool {
	if result.Transcript != "" && result.Input != pipeline.InputFunctionCall {
		if !s.sendMessage(ctx, r, protocol.STT(result.Transcript)) {
			return false
		}
	}
	if len(result.Commands) > 0 {
		if !s.sendMessage(ctx, r, protocol.IoTCommands(result.Commands)) {
			return false
		}
	}
	if result.Emotion != "" {
		if !s.sendMessage(ctx, r, protocol.LLMEmotion(result.Emotion, emotionGlyph(result.Emotion))) {
			return false
		}
	}
	if result.Input == pipeline.InputFunctionCall && result.FunctionCall != nil {
		if !s.sendMessage(ctx, r, protocol.FunctionCall(result.FunctionCall.Name, result.FunctionCall.Arguments)) {
			return false
		}
	}

	if result.SkipSynthesis {
		if result.Reply == "" {
			return true
		}
		return s.sendMessage(ctx, r, protocol.TextResponse(result.Reply))
	}

	if result.Reply != "" && !s.streamSpeech(ctx, r, result) {
		return false
	}
	if !s.finish(ctx, r) {
		return false
	}

	if result.Input == pipeline.InputAudio && s.session.Mode() == protocol.ListenModeAuto {
		s.sendMessage(ctx, r, protocol.ListenStart(protocol.ListenModeAuto))
	}
	return true
}

func (s *Streamer) streamSpeech(ctx context.Context, r *response, result pipeline.State) bool {
	if !s.sendMessage(ctx, r, protocol.TTSStart()) {
		return false
	}

	if result.Speech == nil {
		return s.sendMessage(ctx, r, protocol.TTSSentenceStart(result.Reply))
	}

	frames := 0
	for {
		select {
		case <-ctx.Done():
			return false
		case seg, ok := <-result.Speech:
			if !ok {
				s.logger.Debug("Speech delivered", zap.Int("frames", frames))
				return true
			}
			if seg.Sentence != "" {
				if !s.sendMessage(ctx, r, protocol.TTSSentenceStart(seg.Sentence)) {
					return false
				}
				continue
			}
			if !s.send(ctx, r, func() error { return s.session.SendAudio(seg.Frame) }) {
				return false
			}
			frames++
			s.metrics.AudioFramesSent.Inc()
		}
	}
}

// finish sends the natural-end stop unless an abort already did
func (s *Streamer) finish(ctx context.Context, r *response) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if ctx.Err() != nil || r.stopSent {
		return false
	}
	r.stopSent = true
	if err := s.session.Send(protocol.TTSStop()); err != nil {
		s.logger.Warn("Failed to send stop", zap.Error(err))
		return false
	}
	return true
}

func emotionGlyph(e protocol.Emotion) string {
	switch e {
	case protocol.EmotionHappy:
		return "😊"
	case protocol.EmotionSad:
		return "😢"
	case protocol.EmotionAngry:
		return "😠"
	case protocol.EmotionSurprised:
		return "😮"
	case protocol.EmotionApologetic:
		return "😔"
	case protocol.EmotionSerious:
		return "😐"
	default:
		return "🙂"
	}
}
