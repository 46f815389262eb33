package commit

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoNonce indicates the token carries no nonce claim.
	ErrNoNonce = errors.New("id token has no nonce claim")
	// ErrNonceMismatch indicates the nonce claim is not bound to the
	// session's ephemeral key.
	ErrNonceMismatch = errors.New("id token nonce does not match ephemeral key")
)

// VerifyTokenNonce checks that an ID token's nonce claim equals
// KeyNonce(ephemeralPub), the binding that prevents an intercepted token from
// being replayed against a session committed with a different key.
//
// The token's signature is NOT verified here; provider-side verification
// happens upstream and this helper only inspects the claims of an
// already-verified token.
func VerifyTokenNonce(idToken string, ephemeralPub []byte) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return fmt.Errorf("parse id token: %w", err)
	}

	nonce, ok := claims["nonce"].(string)
	if !ok || nonce == "" {
		return ErrNoNonce
	}
	want := KeyNonce(ephemeralPub)
	if subtle.ConstantTimeCompare([]byte(nonce), []byte(want)) != 1 {
		return ErrNonceMismatch
	}
	return nil
}
