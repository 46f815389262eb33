package commit

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenDigest(t *testing.T) {
	a := TokenDigest("token-a")
	b := TokenDigest("token-b")

	if len(a) != 32 {
		t.Fatalf("digest length = %d, want 32", len(a))
	}
	if DigestEqual(a, b) {
		t.Fatal("digests of different tokens compare equal")
	}
	if !DigestEqual(a, TokenDigest("token-a")) {
		t.Fatal("digest is not deterministic")
	}
}

func TestNewSessionID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := NewSessionID()
		if id == "" {
			t.Fatal("empty session id")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestKeyNonce(t *testing.T) {
	nonce := KeyNonce([]byte("ephemeral-pub"))
	if _, err := hex.DecodeString(nonce); err != nil {
		t.Fatalf("nonce is not hex: %v", err)
	}
	if nonce != KeyNonce([]byte("ephemeral-pub")) {
		t.Fatal("nonce is not deterministic")
	}
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("SignedString() failed: %v", err)
	}
	return tok
}

func TestVerifyTokenNonce(t *testing.T) {
	pub := []byte("ephemeral-pub")

	ok := signedToken(t, jwt.MapClaims{"sub": "user-1", "nonce": KeyNonce(pub)})
	if err := VerifyTokenNonce(ok, pub); err != nil {
		t.Fatalf("VerifyTokenNonce() failed on bound token: %v", err)
	}

	wrongKey := signedToken(t, jwt.MapClaims{"sub": "user-1", "nonce": KeyNonce([]byte("other-key"))})
	if err := VerifyTokenNonce(wrongKey, pub); !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("VerifyTokenNonce() error = %v, want ErrNonceMismatch", err)
	}

	noNonce := signedToken(t, jwt.MapClaims{"sub": "user-1"})
	if err := VerifyTokenNonce(noNonce, pub); !errors.Is(err, ErrNoNonce) {
		t.Fatalf("VerifyTokenNonce() error = %v, want ErrNoNonce", err)
	}

	if err := VerifyTokenNonce("not-a-jwt", pub); err == nil {
		t.Fatal("VerifyTokenNonce() accepted a malformed token")
	}
}
