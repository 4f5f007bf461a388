package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSessionNotFound is returned when a session id is not registered.
var ErrSessionNotFound = errors.New("session not found")

// Registry maintains the set of live sessions. It is the only structure
// shared between connections.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Register adds a session and returns a function that removes it again.
// The returned function is safe to call more than once.
func (r *Registry) Register(s *Session) (unregister func()) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("Session registered",
		zap.String("sessionID", s.ID),
		zap.String("deviceID", s.DeviceID),
		zap.String("clientID", s.ClientID),
		zap.Int("sessions", count))

	var once sync.Once
	return func() {
		once.Do(func() {
			r.Remove(s.ID)
		})
	}
}

// Remove deletes a session by id and reports whether it was present
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		r.logger.Info("Session unregistered",
			zap.String("sessionID", id),
			zap.Int("sessions", count))
	}
	return ok
}

// Get returns a session by id
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Summaries returns a snapshot of every live session, oldest first
func (r *Registry) Summaries() []Summary {
	r.mu.RLock()
	summaries := make([]Summary, 0, len(r.sessions))
	for _, s := range r.sessions {
		summaries = append(summaries, s.Summary())
	}
	r.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

// IdleSince returns the sessions with no inbound activity after cutoff
func (r *Registry) IdleSince(cutoff time.Time) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var idle []*Session
	for _, s := range r.sessions {
		if s.LastActivity().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	return idle
}

// CloseAll closes the transport of every live session. Removal happens
// through each connection's own disconnect path.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		if err := s.Close(code, reason); err != nil && !errors.Is(err, ErrTransportClosed) {
			r.logger.Warn("Failed to close session",
				zap.String("sessionID", s.ID),
				zap.Error(err))
		}
	}
	r.logger.Info("Closed all sessions", zap.Int("count", len(sessions)))
}
