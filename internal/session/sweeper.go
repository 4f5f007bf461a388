package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CloseGoingAway is the WebSocket close code used for idle sessions.
const CloseGoingAway = 1001

// Sweeper closes sessions that have been idle for too long
type Sweeper struct {
	registry    *Registry
	idleTimeout time.Duration
	interval    time.Duration
	logger      *zap.Logger
}

// NewSweeper creates a sweeper. A zero idleTimeout disables it.
func NewSweeper(registry *Registry, idleTimeout time.Duration, logger *zap.Logger) *Sweeper {
	interval := idleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	return &Sweeper{
		registry:    registry,
		idleTimeout: idleTimeout,
		interval:    interval,
		logger:      logger,
	}
}

// Run sweeps periodically until ctx is done
func (s *Sweeper) Run(ctx context.Context) {
	if s.idleTimeout <= 0 {
		s.logger.Info("Session sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Session sweeper started", zap.Duration("idleTimeout", s.idleTimeout))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Session sweeper stopped")
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Sweep closes every session idle since now minus the idle timeout and
// returns how many were closed
func (s *Sweeper) Sweep(now time.Time) int {
	idle := s.registry.IdleSince(now.Add(-s.idleTimeout))
	for _, sess := range idle {
		s.logger.Info("Closing idle session",
			zap.String("sessionID", sess.ID),
			zap.String("deviceID", sess.DeviceID),
			zap.Time("lastActivity", sess.LastActivity()))
		if err := sess.Close(CloseGoingAway, "Idle timeout"); err != nil {
			s.logger.Warn("Failed to close idle session",
				zap.String("sessionID", sess.ID),
				zap.Error(err))
		}
	}
	return len(idle)
}
