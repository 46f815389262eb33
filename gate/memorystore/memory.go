package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/chainapsis/oko-sub010/gate"
)

const defaultSweepInterval = time.Minute

// Store is an in-memory gate.Store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]gate.Session
	calls    map[callKey]gate.CallRecord

	stopOnce sync.Once
	stopCh   chan struct{}
}

type callKey struct {
	sessionID string
	apiName   string
}

var _ gate.Store = (*Store)(nil)

// New creates an in-memory store and starts its expiry janitor.
func New() *Store {
	s := &Store{
		sessions: make(map[string]gate.Session),
		calls:    make(map[callKey]gate.CallRecord),
		stopCh:   make(chan struct{}),
	}
	go s.sweepLoop(defaultSweepInterval)
	return s
}

// Create persists a new session in state COMMITTED.
func (s *Store) Create(ctx context.Context, params gate.CreateParams) (gate.Session, error) {
	if err := gate.ValidateCreate(params); err != nil {
		return gate.Session{}, err
	}

	sess := gate.Session{
		ID:           params.SessionID,
		Operation:    params.Operation,
		ClientPubKey: append([]byte(nil), params.ClientPubKey...),
		IDTokenHash:  append([]byte(nil), params.IDTokenHash...),
		State:        gate.StateCommitted,
		CreatedAt:    time.Now(),
		ExpiresAt:    params.ExpiresAt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[params.SessionID]; exists {
		return gate.Session{}, gate.ErrDuplicateSession
	}
	s.sessions[params.SessionID] = sess

	return copySession(sess), nil
}

// Get loads a session by ID.
func (s *Store) Get(ctx context.Context, sessionID string) (gate.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return gate.Session{}, gate.ErrSessionNotFound
	}
	return copySession(sess), nil
}

// Transition atomically moves a session between states. The store mutex makes
// the check-and-set atomic within this process, mirroring what the
// distributed backends push down to their storage engines.
func (s *Store) Transition(ctx context.Context, sessionID string, from, to gate.SessionState) error {
	if err := gate.CheckTransition(from, to); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return gate.ErrSessionNotFound
	}
	if sess.State != from {
		return gate.ErrInvalidTransition
	}
	sess.State = to
	s.sessions[sessionID] = sess
	return nil
}

// HasCalled reports whether a call record exists for the pair.
func (s *Store) HasCalled(ctx context.Context, sessionID, apiName string) (bool, error) {
	s.mu.RLock()
	_, ok := s.calls[callKey{sessionID, apiName}]
	s.mu.RUnlock()
	return ok, nil
}

// Record appends a call record, enforcing uniqueness of (session, api).
func (s *Store) Record(ctx context.Context, rec gate.CallRecord) error {
	key := callKey{rec.SessionID, rec.APIName}
	rec.Signature = append([]byte(nil), rec.Signature...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.calls[key]; exists {
		return gate.ErrAlreadyRecorded
	}
	s.calls[key] = rec
	return nil
}

// Close stops the janitor and drops all state.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	s.sessions = make(map[string]gate.Session)
	s.calls = make(map[callKey]gate.CallRecord)
	s.mu.Unlock()
	return nil
}

// sweepLoop periodically marks sessions past their deadline as EXPIRED.
// Records and terminal sessions are retained: dropping them would turn
// "expired"/"session_closed" answers into "session_not_found".
func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.State == gate.StateCommitted && !now.Before(sess.ExpiresAt) {
			sess.State = gate.StateExpired
			s.sessions[id] = sess
		}
	}
}

func copySession(sess gate.Session) gate.Session {
	sess.ClientPubKey = append([]byte(nil), sess.ClientPubKey...)
	sess.IDTokenHash = append([]byte(nil), sess.IDTokenHash...)
	return sess
}
