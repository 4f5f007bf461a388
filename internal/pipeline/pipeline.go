package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/internal/metrics"
	"github.com/satriahrh/arunika/gateway/internal/protocol"
)

// DegradedReply is spoken when a stage fails
const DegradedReply = "I'm having trouble right now. Please try again later."

// Stage is one step of a turn
type Stage interface {
	Name() string
	Process(ctx context.Context, state State) (State, error)
}

// degradedRunner is implemented by stages that still run after an earlier
// stage failed.
type degradedRunner interface {
	RunsOnDegraded() bool
}

// sessionForgetter is implemented by stages holding per-session state.
type sessionForgetter interface {
	Forget(sessionID string)
}

// Pipeline runs a fixed list of stages in order
type Pipeline struct {
	stages  []Stage
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a pipeline from stages
func New(logger *zap.Logger, m *metrics.Metrics, stages ...Stage) *Pipeline {
	return &Pipeline{
		stages:  stages,
		logger:  logger,
		metrics: m,
	}
}

// Run executes every stage. A failing stage turns the state into a degraded
// apology and only stages that run on degraded states continue. When ctx is
// cancelled Run returns early and the result must be discarded.
func (p *Pipeline) Run(ctx context.Context, state State) State {
	for _, stage := range p.stages {
		if ctx.Err() != nil {
			return state
		}
		if state.Degraded && !runsOnDegraded(stage) {
			continue
		}

		start := time.Now()
		next, err := stage.Process(ctx, state)
		elapsed := time.Since(start)
		p.metrics.StageDuration.WithLabelValues(stage.Name()).Observe(elapsed.Seconds())

		if err != nil {
			if ctx.Err() != nil {
				return state
			}
			p.metrics.StageFailures.WithLabelValues(stage.Name()).Inc()
			p.logger.Error("Pipeline stage failed",
				zap.String("sessionID", state.SessionID),
				zap.String("stage", stage.Name()),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			state = degrade(state, stage.Name())
			continue
		}

		p.logger.Debug("Pipeline stage completed",
			zap.String("sessionID", state.SessionID),
			zap.String("stage", stage.Name()),
			zap.Duration("elapsed", elapsed))
		state = next
	}
	return state
}

// Forget releases per-session state held by any stage
func (p *Pipeline) Forget(sessionID string) {
	for _, stage := range p.stages {
		if f, ok := stage.(sessionForgetter); ok {
			f.Forget(sessionID)
		}
	}
}

func runsOnDegraded(stage Stage) bool {
	d, ok := stage.(degradedRunner)
	return ok && d.RunsOnDegraded()
}

func degrade(state State, stage string) State {
	state.Reply = DegradedReply
	state.Emotion = protocol.EmotionApologetic
	state.Commands = nil
	state.CommandResults = nil
	state.Degraded = true
	state.FailedStage = stage
	return state
}
