package gate

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chainapsis/oko-sub010/internal/logctx"
	"github.com/chainapsis/oko-sub010/metrics"
)

// Gate is the sole entry point consulted before a privileged key-share API is
// invoked. It holds no mutable state of its own; every guarantee is backed by
// the storage layer so any number of Gate instances may serve the same
// sessions concurrently.
type Gate struct {
	sessions SessionStore
	ledger   CallLedger
	log      *slog.Logger
	now      func() time.Time

	// verifySignatures requires each authorize attempt to carry a valid
	// ed25519 signature from the session's ephemeral key.
	verifySignatures bool
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(g *Gate) { g.log = log }
}

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithSignatureVerification requires every authorize attempt to present a
// valid ed25519 signature over CallMessage(sessionID, apiName), produced by
// the session's committed ephemeral key.
func WithSignatureVerification() Option {
	return func(g *Gate) { g.verifySignatures = true }
}

// New builds a Gate over the given session store and call ledger. Both are
// usually the same backend (see Store), but they are accepted separately so
// the audit trail can live in a different system than the session records.
func New(sessions SessionStore, ledger CallLedger, opts ...Option) *Gate {
	g := &Gate{
		sessions: sessions,
		ledger:   ledger,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AuthorizeRequest carries one privileged call attempt.
type AuthorizeRequest struct {
	SessionID string
	APIName   string
	// IdentityHash is the digest of the revealed identity token, as extracted
	// by the HTTP layer from an already-verified token.
	IdentityHash []byte
	// Signature is the client's ephemeral-key signature over
	// CallMessage(SessionID, APIName). Required when the gate was built with
	// WithSignatureVerification.
	Signature []byte
}

// Commit creates a session in state COMMITTED, binding the client's ephemeral
// key and identity-token digest to a fixed validity window. Fails with
// ErrDuplicateSession if the ID is already taken: commitments are never
// overwritten.
func (g *Gate) Commit(ctx context.Context, params CreateParams) (Session, error) {
	if err := ValidateCreate(params); err != nil {
		return Session{}, fmt.Errorf("commit: %w", err)
	}

	sess, err := g.sessions.Create(ctx, params)
	if err != nil {
		return Session{}, fmt.Errorf("commit: %w", err)
	}

	metrics.RecordCommit(string(sess.Operation))
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID,
		Operation: string(sess.Operation),
		State:     string(sess.State),
	})
	g.log.LogAttrs(ctx, slog.LevelInfo, "session committed",
		slog.Time("expires_at", sess.ExpiresAt))

	return sess, nil
}

// Authorize decides one privileged call attempt. A nil error means the
// decision is final: either Authorized (the caller may invoke the
// cryptographic engine exactly once) or Denied with a reason. A non-nil error
// is a storage failure; the decision is unusable and retry policy belongs to
// the caller. Retries are idempotent-safe: a retried attempt whose call
// record was already written is denied with ReasonAlreadyCalled.
func (g *Gate) Authorize(ctx context.Context, req AuthorizeRequest) (Decision, error) {
	ctx = logctx.WithCallData(ctx, &logctx.CallData{APIName: req.APIName})

	sess, err := g.sessions.Get(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return g.deny(ctx, Session{Operation: "unknown"}, req, ReasonSessionNotFound), nil
		}
		return Decision{}, fmt.Errorf("authorize: get session: %w", err)
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID,
		Operation: string(sess.Operation),
		State:     string(sess.State),
	})

	// Terminal states first. An EXPIRED session keeps answering "expired" so
	// clients cannot distinguish first from repeated post-expiry attempts.
	switch sess.State {
	case StateCompleted:
		return g.deny(ctx, sess, req, ReasonSessionClosed), nil
	case StateExpired:
		return g.deny(ctx, sess, req, ReasonExpired), nil
	}

	if sess.ExpiredAt(g.now()) {
		g.expire(ctx, sess.ID)
		return g.deny(ctx, sess, req, ReasonExpired), nil
	}

	if subtle.ConstantTimeCompare(req.IdentityHash, sess.IDTokenHash) != 1 {
		return g.deny(ctx, sess, req, ReasonIdentityMismatch), nil
	}

	if !Allowed(sess.Operation, req.APIName) {
		return g.deny(ctx, sess, req, ReasonAPINotAllowed), nil
	}

	if g.verifySignatures && !verifyCallSignature(sess, req) {
		return g.deny(ctx, sess, req, ReasonSignatureInvalid), nil
	}

	rec := CallRecord{
		ID:        ulid.Make().String(),
		SessionID: sess.ID,
		APIName:   req.APIName,
		CalledAt:  g.now(),
		Signature: req.Signature,
	}
	if err := g.ledger.Record(ctx, rec); err != nil {
		if errors.Is(err, ErrAlreadyRecorded) {
			return g.deny(ctx, sess, req, ReasonAlreadyCalled), nil
		}
		return Decision{}, fmt.Errorf("authorize: record call: %w", err)
	}

	metrics.RecordAuthorize(string(sess.Operation), req.APIName, "authorized")
	g.log.LogAttrs(ctx, slog.LevelInfo, "privileged call authorized",
		slog.String("record_id", rec.ID))

	return Authorized(), nil
}

// Complete marks the session COMPLETED after the cryptographic engine reports
// success for an operation-terminating call. It is an idempotent no-op when
// the session is already terminal: the operation's effect happened exactly
// once and a losing race changes nothing.
func (g *Gate) Complete(ctx context.Context, sessionID, terminalAPIName string) error {
	ctx = logctx.WithCallData(ctx, &logctx.CallData{APIName: terminalAPIName})

	err := g.sessions.Transition(ctx, sessionID, StateCommitted, StateCompleted)
	switch {
	case err == nil:
		metrics.RecordComplete()
		g.log.LogAttrs(ctx, slog.LevelInfo, "session completed",
			slog.String("session_id", sessionID))
		return nil
	case errors.Is(err, ErrInvalidTransition):
		// Already terminal; another process won the transition.
		return nil
	default:
		return fmt.Errorf("complete: %w", err)
	}
}

// expire moves a session past its deadline to EXPIRED. Best-effort: losing
// the transition race to another process is not an error, and a storage
// failure here must not mask the (already decided) expiry denial.
func (g *Gate) expire(ctx context.Context, sessionID string) {
	err := g.sessions.Transition(ctx, sessionID, StateCommitted, StateExpired)
	if err == nil {
		g.log.LogAttrs(ctx, slog.LevelInfo, "session expired",
			slog.String("session_id", sessionID))
		return
	}
	if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrSessionNotFound) {
		return
	}
	g.log.LogAttrs(ctx, slog.LevelWarn, "failed to persist session expiry",
		slog.String("session_id", sessionID),
		slog.String("error", err.Error()))
}

func (g *Gate) deny(ctx context.Context, sess Session, req AuthorizeRequest, reason DenyReason) Decision {
	d := Denied(reason)
	metrics.RecordAuthorize(string(sess.Operation), req.APIName, d.Outcome())
	// Debug level: denial details must not leak into uniform client-facing
	// responses, but operators still need them.
	g.log.LogAttrs(ctx, slog.LevelDebug, "privileged call denied",
		slog.String("reason", string(reason)))
	return d
}

func verifyCallSignature(sess Session, req AuthorizeRequest) bool {
	if len(sess.ClientPubKey) != ed25519.PublicKeySize || len(req.Signature) == 0 {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(sess.ClientPubKey), CallMessage(sess.ID, req.APIName), req.Signature)
}
