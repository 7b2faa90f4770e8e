package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"exam-session-service/internal/engine"
)

// SessionRegistry is a Redis-aware implementation of engine.SessionRegistry.
// Notes:
//   - The live Session objects stay in the local map; the state machine and
//     its countdown are in-process by design.
//   - Redis marks attempt liveness per participant, so operators (and other
//     instances) can see who is mid-assessment.
type SessionRegistry struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*engine.Session
}

func NewSessionRegistry(client *redis.Client, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{
		client:   client,
		ttl:      ttl,
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
	// best-effort liveness marker
	_ = r.client.Set(context.Background(), r.key(participantID), "1", r.ttl).Err()
	return true
}

func (r *SessionRegistry) Release(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[participantID]; !ok {
		return
	}
	delete(r.sessions, participantID)
	_ = r.client.Del(context.Background(), r.key(participantID)).Err()
}

func (r *SessionRegistry) key(participantID string) string {
	return "assessment:session:" + participantID
}
