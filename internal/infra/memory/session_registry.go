package memory

import (
	"sync"

	"exam-session-service/internal/engine"
)

// SessionRegistry is an in-memory implementation of engine.SessionRegistry.
// It keeps at most one session per participant.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*engine.Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*engine.Session),
	}
}

func (r *SessionRegistry) Get(participantID string) (*engine.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[participantID]
	return session, ok
}

func (r *SessionRegistry) Claim(participantID string, session *engine.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[participantID]; ok {
		return false
	}
	r.sessions[participantID] = session
	return true
}

func (r *SessionRegistry) Release(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, participantID)
}
