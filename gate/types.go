package gate

import (
	"time"
)

// OperationType enumerates the OAuth-backed key-share flows a session may be
// committed for. The set is closed; the allow-list keys off it.
type OperationType string

const (
	// OpSignUp registers a brand new key for an identity.
	OpSignUp OperationType = "sign_up"
	// OpSignIn retrieves existing key shares for an identity.
	OpSignIn OperationType = "sign_in"
	// OpReshare re-splits an existing key across a new share set.
	OpReshare OperationType = "reshare"
)

// Valid reports whether o is a member of the closed operation enumeration.
func (o OperationType) Valid() bool {
	switch o {
	case OpSignUp, OpSignIn, OpReshare:
		return true
	}
	return false
}

// SessionState is the lifecycle state of a session. COMMITTED is the only
// initial state; COMPLETED and EXPIRED are terminal and mutually exclusive.
type SessionState string

const (
	StateCommitted SessionState = "COMMITTED"
	StateCompleted SessionState = "COMPLETED"
	StateExpired   SessionState = "EXPIRED"
)

// Terminal reports whether s is a terminal state. No transition may leave a
// terminal state.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateExpired
}

// Session is the unit of commitment binding an ephemeral client key and an
// identity-token digest to a bounded validity window and a declared operation.
type Session struct {
	// ID is an opaque, globally unique identifier. Immutable.
	ID string `json:"id"`
	// Operation declares which privileged APIs the session may unlock.
	Operation OperationType `json:"operation"`
	// ClientPubKey is the client's one-time public key bound to this session.
	ClientPubKey []byte `json:"client_pub_key"`
	// IDTokenHash is the one-way digest of the identity token the client
	// committed to. The plaintext token is never stored.
	IDTokenHash []byte `json:"id_token_hash"`
	// State is the lifecycle state. Monotonic: COMMITTED -> {COMPLETED, EXPIRED}.
	State SessionState `json:"state"`
	// CreatedAt is when the commitment was made.
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is fixed at creation and never extended.
	ExpiresAt time.Time `json:"expires_at"`
}

// ExpiredAt reports whether the session's validity window has elapsed at t.
func (s *Session) ExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// CallRecord is one row of the append-only audit trail of privileged calls.
// Records are created once, immediately before a caller is permitted to
// proceed to the cryptographic engine, and are never updated or deleted.
type CallRecord struct {
	// ID is a sortable unique identifier for the record itself.
	ID string `json:"id"`
	// SessionID references the owning session.
	SessionID string `json:"session_id"`
	// APIName is the privileged API that was authorized.
	APIName string `json:"api_name"`
	// CalledAt is when authorization was granted.
	CalledAt time.Time `json:"called_at"`
	// Signature optionally carries the client's ephemeral-key signature over
	// CallMessage(SessionID, APIName), proving the session owner requested
	// this specific call.
	Signature []byte `json:"signature,omitempty"`
}

// CallMessage is the canonical byte string a client signs with its ephemeral
// key to authorize one specific privileged call within a session.
func CallMessage(sessionID, apiName string) []byte {
	return []byte(sessionID + "|" + apiName)
}
