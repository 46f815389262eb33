package gate_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chainapsis/oko-sub010/commit"
	"github.com/chainapsis/oko-sub010/gate"
	"github.com/chainapsis/oko-sub010/gate/memorystore"
)

// clock is a settable time source for driving expiry.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newGate(t *testing.T, opts ...gate.Option) (*gate.Gate, *memorystore.Store, *clock) {
	t.Helper()
	store := memorystore.New()
	t.Cleanup(func() { store.Close() })
	clk := newClock()
	opts = append([]gate.Option{gate.WithClock(clk.Now)}, opts...)
	return gate.New(store, store, opts...), store, clk
}

func commitSession(t *testing.T, g *gate.Gate, clk *clock, id string, op gate.OperationType, hash []byte, ttl time.Duration) gate.Session {
	t.Helper()
	sess, err := g.Commit(context.Background(), gate.CreateParams{
		SessionID:    id,
		Operation:    op,
		ClientPubKey: []byte("ephemeral-pub"),
		IDTokenHash:  hash,
		ExpiresAt:    clk.Now().Add(ttl),
	})
	if err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	return sess
}

func authorize(t *testing.T, g *gate.Gate, sessionID, apiName string, hash []byte) gate.Decision {
	t.Helper()
	d, err := g.Authorize(context.Background(), gate.AuthorizeRequest{
		SessionID:    sessionID,
		APIName:      apiName,
		IdentityHash: hash,
	})
	if err != nil {
		t.Fatalf("Authorize(%s, %s) failed: %v", sessionID, apiName, err)
	}
	return d
}

func wantDenied(t *testing.T, d gate.Decision, reason gate.DenyReason) {
	t.Helper()
	if d.Authorized {
		t.Fatalf("decision = Authorized, want denied with %q", reason)
	}
	if d.Reason != reason {
		t.Fatalf("deny reason = %q, want %q", d.Reason, reason)
	}
}

func TestAuthorizeSignUpFlow(t *testing.T) {
	g, _, clk := newGate(t)
	hash := commit.TokenDigest("id-token-s1")
	commitSession(t, g, clk, "s1", gate.OpSignUp, hash, 300*time.Second)

	if d := authorize(t, g, "s1", gate.APIRegister, hash); !d.Authorized {
		t.Fatalf("first register denied: %q", d.Reason)
	}

	// The same privileged call must never run twice.
	wantDenied(t, authorize(t, g, "s1", gate.APIRegister, hash), gate.ReasonAlreadyCalled)

	// reshare is outside the sign_up allow-list even with a correct hash.
	wantDenied(t, authorize(t, g, "s1", gate.APIReshare, hash), gate.ReasonAPINotAllowed)
}

func TestAuthorizeExpiredSession(t *testing.T) {
	g, store, clk := newGate(t)
	hash := commit.TokenDigest("id-token-s2")

	// Commitment whose deadline has already passed.
	if _, err := g.Commit(context.Background(), gate.CreateParams{
		SessionID:    "s2",
		Operation:    gate.OpSignIn,
		ClientPubKey: []byte("ephemeral-pub"),
		IDTokenHash:  hash,
		ExpiresAt:    clk.Now().Add(-time.Second),
	}); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	wantDenied(t, authorize(t, g, "s2", gate.APIGetKeyShares, hash), gate.ReasonExpired)

	// Expiry was detected lazily and persisted.
	sess, err := store.Get(context.Background(), "s2")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if sess.State != gate.StateExpired {
		t.Fatalf("state = %q, want EXPIRED", sess.State)
	}

	// Post-expiry attempts keep answering "expired".
	wantDenied(t, authorize(t, g, "s2", gate.APIGetKeyShares, hash), gate.ReasonExpired)
}

func TestAuthorizeExpiryAfterValidity(t *testing.T) {
	g, _, clk := newGate(t)
	hash := commit.TokenDigest("id-token-ttl")
	commitSession(t, g, clk, "s-ttl", gate.OpSignIn, hash, 300*time.Second)

	clk.Advance(300 * time.Second)
	wantDenied(t, authorize(t, g, "s-ttl", gate.APIGetKeyShares, hash), gate.ReasonExpired)
}

func TestAuthorizeIdentityMismatch(t *testing.T) {
	g, store, clk := newGate(t)
	hash := commit.TokenDigest("id-token-s3")
	commitSession(t, g, clk, "s3", gate.OpSignIn, hash, 300*time.Second)

	wrong := commit.TokenDigest("some-other-token")
	wantDenied(t, authorize(t, g, "s3", gate.APIGetKeyShares, wrong), gate.ReasonIdentityMismatch)

	// A mismatch must not disturb the session.
	sess, err := store.Get(context.Background(), "s3")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if sess.State != gate.StateCommitted {
		t.Fatalf("state after mismatch = %q, want COMMITTED", sess.State)
	}

	// The correct hash still works afterwards.
	if d := authorize(t, g, "s3", gate.APIGetKeyShares, hash); !d.Authorized {
		t.Fatalf("authorize after mismatch denied: %q", d.Reason)
	}
}

func TestAuthorizeUnknownSession(t *testing.T) {
	g, _, _ := newGate(t)
	wantDenied(t, authorize(t, g, "nope", gate.APIRegister, []byte("h")), gate.ReasonSessionNotFound)
}

func TestCompleteClosesSession(t *testing.T) {
	g, _, clk := newGate(t)
	hash := commit.TokenDigest("id-token-s4")
	commitSession(t, g, clk, "s4", gate.OpSignUp, hash, 300*time.Second)

	if d := authorize(t, g, "s4", gate.APIRegister, hash); !d.Authorized {
		t.Fatalf("register denied: %q", d.Reason)
	}
	if err := g.Complete(context.Background(), "s4", gate.APIRegister); err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}

	// Completion is idempotent.
	if err := g.Complete(context.Background(), "s4", gate.APIRegister); err != nil {
		t.Fatalf("second Complete() failed: %v", err)
	}

	// Any further attempt is refused.
	wantDenied(t, authorize(t, g, "s4", gate.APIRegister, hash), gate.ReasonSessionClosed)
	wantDenied(t, authorize(t, g, "s4", gate.APIRegisterEd25519, hash), gate.ReasonSessionClosed)
}

func TestCompleteMissingSession(t *testing.T) {
	g, _, _ := newGate(t)
	if err := g.Complete(context.Background(), "nope", gate.APIRegister); err == nil {
		t.Fatal("Complete() of a missing session succeeded")
	}
}

func TestAuthorizeConcurrentSingleWinner(t *testing.T) {
	g, _, clk := newGate(t)
	hash := commit.TokenDigest("id-token-race")
	commitSession(t, g, clk, "s-race", gate.OpReshare, hash, 300*time.Second)

	const n = 32
	var wg sync.WaitGroup
	decisions := make(chan gate.Decision, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := g.Authorize(context.Background(), gate.AuthorizeRequest{
				SessionID:    "s-race",
				APIName:      gate.APIReshare,
				IdentityHash: hash,
			})
			if err != nil {
				t.Errorf("Authorize() failed: %v", err)
				return
			}
			decisions <- d
		}()
	}
	wg.Wait()
	close(decisions)

	var granted, replayed int
	for d := range decisions {
		if d.Authorized {
			granted++
		} else if d.Reason == gate.ReasonAlreadyCalled {
			replayed++
		} else {
			t.Fatalf("unexpected deny reason %q", d.Reason)
		}
	}
	if granted != 1 || replayed != n-1 {
		t.Fatalf("%d authorized, %d already_called; want exactly 1 authorized", granted, replayed)
	}
}

func TestAuthorizeSignatureVerification(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() failed: %v", err)
	}

	store := memorystore.New()
	t.Cleanup(func() { store.Close() })
	clk := newClock()
	g := gate.New(store, store, gate.WithClock(clk.Now), gate.WithSignatureVerification())

	hash := commit.TokenDigest("id-token-sig")
	if _, err := g.Commit(context.Background(), gate.CreateParams{
		SessionID:    "s-sig",
		Operation:    gate.OpSignUp,
		ClientPubKey: pub,
		IDTokenHash:  hash,
		ExpiresAt:    clk.Now().Add(300 * time.Second),
	}); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	// Missing signature is refused before the ledger is touched.
	d, err := g.Authorize(context.Background(), gate.AuthorizeRequest{
		SessionID:    "s-sig",
		APIName:      gate.APIRegisterEd25519,
		IdentityHash: hash,
	})
	if err != nil {
		t.Fatalf("Authorize() failed: %v", err)
	}
	wantDenied(t, d, gate.ReasonSignatureInvalid)

	// Wrong message is refused.
	badSig := ed25519.Sign(priv, gate.CallMessage("s-sig", gate.APIRegister))
	d, err = g.Authorize(context.Background(), gate.AuthorizeRequest{
		SessionID:    "s-sig",
		APIName:      gate.APIRegisterEd25519,
		IdentityHash: hash,
		Signature:    badSig,
	})
	if err != nil {
		t.Fatalf("Authorize() failed: %v", err)
	}
	wantDenied(t, d, gate.ReasonSignatureInvalid)

	// A valid signature over the canonical message passes.
	sig := ed25519.Sign(priv, gate.CallMessage("s-sig", gate.APIRegisterEd25519))
	d, err = g.Authorize(context.Background(), gate.AuthorizeRequest{
		SessionID:    "s-sig",
		APIName:      gate.APIRegisterEd25519,
		IdentityHash: hash,
		Signature:    sig,
	})
	if err != nil {
		t.Fatalf("Authorize() failed: %v", err)
	}
	if !d.Authorized {
		t.Fatalf("signed authorize denied: %q", d.Reason)
	}
}

func TestCommitValidation(t *testing.T) {
	g, _, clk := newGate(t)

	cases := []struct {
		name   string
		params gate.CreateParams
	}{
		{"missing id", gate.CreateParams{Operation: gate.OpSignUp, ClientPubKey: []byte("k"), IDTokenHash: []byte("h"), ExpiresAt: clk.Now().Add(time.Minute)}},
		{"unknown operation", gate.CreateParams{SessionID: "x", Operation: "sign_sideways", ClientPubKey: []byte("k"), IDTokenHash: []byte("h"), ExpiresAt: clk.Now().Add(time.Minute)}},
		{"missing pubkey", gate.CreateParams{SessionID: "x", Operation: gate.OpSignUp, IDTokenHash: []byte("h"), ExpiresAt: clk.Now().Add(time.Minute)}},
		{"missing hash", gate.CreateParams{SessionID: "x", Operation: gate.OpSignUp, ClientPubKey: []byte("k"), ExpiresAt: clk.Now().Add(time.Minute)}},
		{"missing expiry", gate.CreateParams{SessionID: "x", Operation: gate.OpSignUp, ClientPubKey: []byte("k"), IDTokenHash: []byte("h")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := g.Commit(context.Background(), tc.params); err == nil {
				t.Fatal("Commit() accepted invalid params")
			}
		})
	}
}

func TestCommitDuplicate(t *testing.T) {
	g, _, clk := newGate(t)
	hash := commit.TokenDigest("id-token-dup")
	commitSession(t, g, clk, "s-dup", gate.OpSignUp, hash, 300*time.Second)

	_, err := g.Commit(context.Background(), gate.CreateParams{
		SessionID:    "s-dup",
		Operation:    gate.OpSignUp,
		ClientPubKey: []byte("ephemeral-pub"),
		IDTokenHash:  hash,
		ExpiresAt:    clk.Now().Add(300 * time.Second),
	})
	if !errors.Is(err, gate.ErrDuplicateSession) {
		t.Fatalf("duplicate Commit() error = %v, want ErrDuplicateSession", err)
	}
}

func TestInstrumentStorePassesThrough(t *testing.T) {
	inner := memorystore.New()
	s := gate.InstrumentStore(inner, "memory")
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	if _, err := s.Create(ctx, gate.CreateParams{
		SessionID:    "s-instr",
		Operation:    gate.OpSignUp,
		ClientPubKey: []byte("k"),
		IDTokenHash:  []byte("h"),
		ExpiresAt:    time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	got, err := s.Get(ctx, "s-instr")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.ID != "s-instr" {
		t.Fatalf("Get() returned wrong session: %+v", got)
	}
	if _, err := s.Get(ctx, "absent"); !errors.Is(err, gate.ErrSessionNotFound) {
		t.Fatalf("Get() error = %v, want ErrSessionNotFound", err)
	}
}

// failingLedger simulates a storage outage on the call ledger.
type failingLedger struct{}

func (failingLedger) HasCalled(ctx context.Context, sessionID, apiName string) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingLedger) Record(ctx context.Context, rec gate.CallRecord) error {
	return errors.New("connection refused")
}

func TestAuthorizeStorageFailureSurfacesError(t *testing.T) {
	store := memorystore.New()
	t.Cleanup(func() { store.Close() })
	clk := newClock()
	g := gate.New(store, failingLedger{}, gate.WithClock(clk.Now))

	hash := commit.TokenDigest("id-token-outage")
	commitSession(t, g, clk, "s-outage", gate.OpSignUp, hash, 300*time.Second)

	// A storage failure is an error, never a (mis)decision.
	d, err := g.Authorize(context.Background(), gate.AuthorizeRequest{
		SessionID:    "s-outage",
		APIName:      gate.APIRegister,
		IdentityHash: hash,
	})
	if err == nil {
		t.Fatalf("Authorize() returned decision %+v despite ledger outage", d)
	}
	if d.Authorized {
		t.Fatal("Authorize() granted despite ledger outage")
	}
}
