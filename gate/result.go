package gate

// DenyReason is the closed set of reasons an authorization attempt can be
// denied. Reasons are protocol outcomes, not errors: they are terminal for
// the specific call attempt and never leave the session inconsistent.
type DenyReason string

const (
	// ReasonSessionNotFound: no session exists for the presented ID.
	ReasonSessionNotFound DenyReason = "session_not_found"
	// ReasonSessionClosed: the session already completed its operation.
	ReasonSessionClosed DenyReason = "session_closed"
	// ReasonExpired: the session's validity window has elapsed.
	ReasonExpired DenyReason = "expired"
	// ReasonIdentityMismatch: the revealed identity digest does not match the
	// committed one. This is the anti-front-running check.
	ReasonIdentityMismatch DenyReason = "identity_mismatch"
	// ReasonAPINotAllowed: the API is outside the session's allow-list.
	ReasonAPINotAllowed DenyReason = "api_not_allowed"
	// ReasonAlreadyCalled: this API already ran once for this session.
	ReasonAlreadyCalled DenyReason = "already_called"
	// ReasonSignatureInvalid: the per-call ephemeral-key signature failed
	// verification. Only produced when signature verification is enabled.
	ReasonSignatureInvalid DenyReason = "signature_invalid"
)

// Decision is the outcome of one authorization attempt. When Authorized is
// true the caller may invoke the cryptographic engine exactly once; otherwise
// Reason carries the denial cause.
type Decision struct {
	Authorized bool
	Reason     DenyReason
}

// Authorized is the positive decision.
func Authorized() Decision {
	return Decision{Authorized: true}
}

// Denied builds a negative decision with the given reason.
func Denied(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

// Outcome returns a stable label for logs and metrics: "authorized" for the
// positive decision, the deny reason otherwise.
func (d Decision) Outcome() string {
	if d.Authorized {
		return "authorized"
	}
	return string(d.Reason)
}
