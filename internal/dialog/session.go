package dialog

import (
	"sync"
	"time"
)

// Turn records one customer utterance, its classification, and the stage
// the conversation was in when it arrived.
type Turn struct {
	Utterance string    `json:"utterance"`
	Category  Category  `json:"category"`
	Stage     Stage     `json:"stage"`
	At        time.Time `json:"at"`
}

// Session is the mutable per-call conversation state. It is owned by the
// webhook flow handling its call; turns for one call arrive serially, so
// the struct itself needs no locking.
type Session struct {
	CallID     string
	ClientName string
	AgentName  string
	Stage      Stage
	Turns      []Turn
	Outcome    string // empty until the call completes
	StartedAt  time.Time
	EndedAt    time.Time
}

// NewSession creates a session at the greeting stage.
func NewSession(callID, clientName, agentName string) *Session {
	return &Session{
		CallID:     callID,
		ClientName: clientName,
		AgentName:  agentName,
		Stage:      StageGreeting,
		StartedAt:  time.Now().UTC(),
	}
}

// RecordTurn appends a turn taken at the session's current stage.
func (s *Session) RecordTurn(utterance string, category Category) {
	s.Turns = append(s.Turns, Turn{
		Utterance: utterance,
		Category:  category,
		Stage:     s.Stage,
		At:        time.Now().UTC(),
	})
}

// Complete marks the session finished with the given outcome.
func (s *Session) Complete(outcome string) {
	s.Stage = StageCompleted
	s.Outcome = outcome
	s.EndedAt = time.Now().UTC()
}

// SessionStore tracks the sessions of active calls. The store itself is
// safe for concurrent use; each contained session is still only mutated by
// the flow owning its call.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Put registers a session under its call ID.
func (s *SessionStore) Put(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.CallID] = sess
	s.mu.Unlock()
}

// Get returns the session for a call, or nil.
func (s *SessionStore) Get(callID string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[callID]
}

// Remove deletes the session for a call.
func (s *SessionStore) Remove(callID string) {
	s.mu.Lock()
	delete(s.sessions, callID)
	s.mu.Unlock()
}

// Active returns a snapshot of all active sessions, in no particular order.
func (s *SessionStore) Active() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Count returns the number of active sessions.
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
