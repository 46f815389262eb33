package gate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared by all store implementations. Stores must return
// these (possibly wrapped) for the corresponding conditions so that the gate
// can distinguish protocol outcomes from storage failures.
var (
	// ErrDuplicateSession indicates a session with the same ID already exists.
	ErrDuplicateSession = errors.New("session id already exists")
	// ErrSessionNotFound indicates no session exists for the given ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTransition indicates the persisted state did not match the
	// expected from-state, or the requested transition is not permitted.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrAlreadyRecorded indicates a call record for the (session, api) pair
	// already exists.
	ErrAlreadyRecorded = errors.New("api call already recorded")
)

// CreateParams carries the commitment a client makes when opening a session.
type CreateParams struct {
	SessionID    string
	Operation    OperationType
	ClientPubKey []byte
	IDTokenHash  []byte
	ExpiresAt    time.Time
}

// SessionStore is durable CRUD for session records.
//
// Implementations must enforce uniqueness of session IDs at creation and must
// implement Transition as an atomic compare-and-swap at the storage layer.
// In-process locking is not sufficient: independent server processes may race
// to complete or expire the same session.
type SessionStore interface {
	// Create persists a new session in state COMMITTED. Returns
	// ErrDuplicateSession if a session with the same ID already exists.
	Create(ctx context.Context, params CreateParams) (Session, error)

	// Get loads a session by ID. Returns ErrSessionNotFound if absent.
	Get(ctx context.Context, sessionID string) (Session, error)

	// Transition atomically moves the session from `from` to `to`. It
	// succeeds only if the persisted state equals `from` and the transition
	// is one of COMMITTED->COMPLETED or COMMITTED->EXPIRED; otherwise it
	// returns ErrInvalidTransition (or ErrSessionNotFound for a missing
	// session). Exactly one of any set of concurrent attempts succeeds.
	Transition(ctx context.Context, sessionID string, from, to SessionState) error
}

// CallLedger is the durable record of which privileged APIs have executed for
// a session.
//
// Record must be race-safe via a storage-layer uniqueness constraint on the
// (session, api) pair: under concurrent attempts exactly one caller observes
// success and every other observes ErrAlreadyRecorded.
type CallLedger interface {
	// HasCalled reports whether a call record exists for the pair.
	HasCalled(ctx context.Context, sessionID, apiName string) (bool, error)

	// Record appends a call record. Returns ErrAlreadyRecorded if a record
	// for (rec.SessionID, rec.APIName) already exists.
	Record(ctx context.Context, rec CallRecord) error
}

// Store combines the session store and call ledger backed by one storage
// system. All provided backends implement it.
type Store interface {
	SessionStore
	CallLedger

	// Close releases the backend's resources.
	Close() error
}

// CheckTransition validates a requested state transition against the session
// lifecycle rules, independent of persisted state. Store implementations use
// it to reject malformed transitions before touching storage.
func CheckTransition(from, to SessionState) error {
	if from != StateCommitted || !to.Terminal() {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return nil
}

// ValidateCreate checks commitment parameters before they reach storage.
func ValidateCreate(params CreateParams) error {
	if params.SessionID == "" {
		return errors.New("session id is required")
	}
	if !params.Operation.Valid() {
		return fmt.Errorf("unknown operation type %q", params.Operation)
	}
	if len(params.ClientPubKey) == 0 {
		return errors.New("client ephemeral public key is required")
	}
	if len(params.IDTokenHash) == 0 {
		return errors.New("id token hash is required")
	}
	if params.ExpiresAt.IsZero() {
		return errors.New("expiry is required")
	}
	return nil
}
