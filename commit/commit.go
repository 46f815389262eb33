// Package commit provides the client-side helpers of the commit-reveal
// protocol: the identity-token digest a client commits to before the OAuth
// dance, server-generated session IDs, and the nonce binding that ties an ID
// token to the session's ephemeral key.
package commit

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/google/uuid"
)

// TokenDigest computes the one-way digest of an identity token. The client
// commits to this value at session creation; the gate later compares it
// against the digest of the revealed token.
func TokenDigest(idToken string) []byte {
	sum := sha256.Sum256([]byte(idToken))
	return sum[:]
}

// DigestEqual compares two digests in constant time.
func DigestEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// NewSessionID generates an opaque session identifier for server-side
// creation flows. Clients may also supply their own opaque IDs.
func NewSessionID() string {
	return uuid.NewString()
}

// KeyNonce derives the nonce value a client embeds in its OAuth request so
// the resulting ID token is bound to the session's ephemeral public key.
func KeyNonce(ephemeralPub []byte) string {
	sum := sha256.Sum256(ephemeralPub)
	return hex.EncodeToString(sum[:])
}
