package memory

import (
	"context"
	"sync"

	"storymap-live/internal/domain"
)

// SessionService is an in-memory implementation of the external session
// service, used when no backing store is configured and by tests.
type SessionService struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewSessionService(sessions ...domain.Session) *SessionService {
	s := &SessionService{sessions: make(map[string]*domain.Session)}
	for i := range sessions {
		sess := sessions[i]
		if sess.Status == "" {
			sess.Status = domain.StatusNotStarted
		}
		s.sessions[sess.ID] = &sess
	}
	return s
}

func (s *SessionService) Start(_ context.Context, sessionID string) error {
	return s.setStatus(sessionID, domain.StatusRunning)
}

func (s *SessionService) Pause(_ context.Context, sessionID string) error {
	return s.setStatus(sessionID, domain.StatusPaused)
}

func (s *SessionService) Resume(_ context.Context, sessionID string) error {
	return s.setStatus(sessionID, domain.StatusRunning)
}

func (s *SessionService) End(_ context.Context, sessionID string) error {
	return s.setStatus(sessionID, domain.StatusEnded)
}

func (s *SessionService) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return *sess, nil
}

func (s *SessionService) setStatus(sessionID string, status domain.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.Status = status
	return nil
}
