// Package storetest provides the conformance suite every gate.Store backend
// must pass. Backend test packages call RunStoreTests with a factory; the
// suite exercises the uniqueness, compare-and-swap, and at-most-once
// guarantees the gate depends on, including under concurrency.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chainapsis/oko-sub010/gate"
)

// runNonce makes session IDs unique per process so the suite can run
// repeatedly against persistent backends.
var runNonce = fmt.Sprintf("%d", time.Now().UnixNano())

// sid builds a session ID unique to this test run.
func sid(base string) string {
	return base + "-" + runNonce
}

// StoreFactory creates a fresh gate.Store for a test.
type StoreFactory func(t *testing.T) gate.Store

// RunStoreTests runs the complete store conformance suite against the
// provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("Sessions_CreateAndGet", func(t *testing.T) { testCreateAndGet(t, factory) })
	t.Run("Sessions_DuplicateCreateFails", func(t *testing.T) { testDuplicateCreate(t, factory) })
	t.Run("Sessions_GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("Sessions_TransitionToCompleted", func(t *testing.T) { testTransition(t, factory, gate.StateCompleted) })
	t.Run("Sessions_TransitionToExpired", func(t *testing.T) { testTransition(t, factory, gate.StateExpired) })
	t.Run("Sessions_TransitionFromTerminalFails", func(t *testing.T) { testTransitionFromTerminal(t, factory) })
	t.Run("Sessions_TransitionRejectsInvalidPair", func(t *testing.T) { testTransitionInvalidPair(t, factory) })
	t.Run("Sessions_TransitionMissingSession", func(t *testing.T) { testTransitionMissing(t, factory) })
	t.Run("Sessions_ConcurrentTransitionSingleWinner", func(t *testing.T) { testConcurrentTransition(t, factory) })

	t.Run("Ledger_RecordAndHasCalled", func(t *testing.T) { testRecordAndHasCalled(t, factory) })
	t.Run("Ledger_DuplicateRecordFails", func(t *testing.T) { testDuplicateRecord(t, factory) })
	t.Run("Ledger_DistinctPairsIndependent", func(t *testing.T) { testDistinctPairs(t, factory) })
	t.Run("Ledger_ConcurrentRecordSingleWinner", func(t *testing.T) { testConcurrentRecord(t, factory) })
}

func testParams(id string) gate.CreateParams {
	return gate.CreateParams{
		SessionID:    id,
		Operation:    gate.OpSignUp,
		ClientPubKey: []byte("ephemeral-pub-" + id),
		IDTokenHash:  []byte("token-hash-" + id),
		ExpiresAt:    time.Now().Add(5 * time.Minute),
	}
}

// --- Session tests ---

func testCreateAndGet(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()

	created, err := s.Create(ctx, testParams(sid("sess-create")))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if created.State != gate.StateCommitted {
		t.Fatalf("Create() state = %q, want %q", created.State, gate.StateCommitted)
	}

	got, err := s.Get(ctx, sid("sess-create"))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.ID != created.ID || got.Operation != gate.OpSignUp {
		t.Fatalf("Get() returned wrong session: %+v", got)
	}
	if string(got.IDTokenHash) != "token-hash-"+sid("sess-create") {
		t.Fatalf("Get() returned wrong token hash: %q", got.IDTokenHash)
	}
	if got.State != gate.StateCommitted {
		t.Fatalf("Get() state = %q, want %q", got.State, gate.StateCommitted)
	}
}

func testDuplicateCreate(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Create(ctx, testParams(sid("sess-dup"))); err != nil {
		t.Fatalf("first Create() failed: %v", err)
	}

	// A second commitment under the same ID must fail, not overwrite.
	other := testParams(sid("sess-dup"))
	other.IDTokenHash = []byte("a-different-hash")
	if _, err := s.Create(ctx, other); !errors.Is(err, gate.ErrDuplicateSession) {
		t.Fatalf("second Create() error = %v, want ErrDuplicateSession", err)
	}

	got, err := s.Get(ctx, sid("sess-dup"))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(got.IDTokenHash) != "token-hash-"+sid("sess-dup") {
		t.Fatalf("duplicate Create() overwrote the original commitment")
	}
}

func testGetMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()

	if _, err := s.Get(context.Background(), "no-such-session"); !errors.Is(err, gate.ErrSessionNotFound) {
		t.Fatalf("Get() error = %v, want ErrSessionNotFound", err)
	}
}

func testTransition(t *testing.T, factory StoreFactory, to gate.SessionState) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()

	id := sid("sess-trans-" + string(to))
	if _, err := s.Create(ctx, testParams(id)); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if err := s.Transition(ctx, id, gate.StateCommitted, to); err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.State != to {
		t.Fatalf("state after transition = %q, want %q", got.State, to)
	}
}

func testTransitionFromTerminal(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Create(ctx, testParams(sid("sess-term"))); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := s.Transition(ctx, sid("sess-term"), gate.StateCommitted, gate.StateCompleted); err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}

	// Terminal states are sticky: no transition may leave them.
	err := s.Transition(ctx, sid("sess-term"), gate.StateCommitted, gate.StateExpired)
	if !errors.Is(err, gate.ErrInvalidTransition) {
		t.Fatalf("Transition() from terminal error = %v, want ErrInvalidTransition", err)
	}

	got, err := s.Get(ctx, sid("sess-term"))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.State != gate.StateCompleted {
		t.Fatalf("terminal state changed to %q", got.State)
	}
}

func testTransitionInvalidPair(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Create(ctx, testParams(sid("sess-pair"))); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	for _, tc := range []struct{ from, to gate.SessionState }{
		{gate.StateCompleted, gate.StateExpired},
		{gate.StateExpired, gate.StateCommitted},
		{gate.StateCommitted, gate.StateCommitted},
	} {
		err := s.Transition(ctx, sid("sess-pair"), tc.from, tc.to)
		if !errors.Is(err, gate.ErrInvalidTransition) {
			t.Fatalf("Transition(%s -> %s) error = %v, want ErrInvalidTransition", tc.from, tc.to, err)
		}
	}
}

func testTransitionMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()

	err := s.Transition(context.Background(), "no-such-session", gate.StateCommitted, gate.StateCompleted)
	if !errors.Is(err, gate.ErrSessionNotFound) {
		t.Fatalf("Transition() error = %v, want ErrSessionNotFound", err)
	}
}

func testConcurrentTransition(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Create(ctx, testParams(sid("sess-race"))); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	// Completion and expiry race for the single terminal slot.
	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		to := gate.StateCompleted
		if i%2 == 1 {
			to = gate.StateExpired
		}
		wg.Add(1)
		go func(to gate.SessionState) {
			defer wg.Done()
			results <- s.Transition(ctx, sid("sess-race"), gate.StateCommitted, to)
		}(to)
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, gate.ErrInvalidTransition):
			losses++
		default:
			t.Fatalf("Transition() unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != n-1 {
		t.Fatalf("concurrent transitions: %d wins, %d losses; want exactly 1 win", wins, losses)
	}

	got, err := s.Get(ctx, sid("sess-race"))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !got.State.Terminal() {
		t.Fatalf("state after race = %q, want a terminal state", got.State)
	}
}

// --- Ledger tests ---

func callRecord(sessionID, apiName string, i int) gate.CallRecord {
	return gate.CallRecord{
		ID:        fmt.Sprintf("rec-%s-%s-%d", sessionID, apiName, i),
		SessionID: sessionID,
		APIName:   apiName,
		CalledAt:  time.Now(),
		Signature: []byte("sig"),
	}
}

// ledgerSession creates the owning session so backends with referential
// integrity (pgstore) accept the records.
func ledgerSession(t *testing.T, s gate.Store, id string) {
	t.Helper()
	if _, err := s.Create(context.Background(), testParams(id)); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
}

func testRecordAndHasCalled(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()
	ledgerSession(t, s, sid("sess-led"))

	called, err := s.HasCalled(ctx, sid("sess-led"), gate.APIRegister)
	if err != nil {
		t.Fatalf("HasCalled() failed: %v", err)
	}
	if called {
		t.Fatal("HasCalled() = true before any record")
	}

	if err := s.Record(ctx, callRecord(sid("sess-led"), gate.APIRegister, 0)); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}

	called, err = s.HasCalled(ctx, sid("sess-led"), gate.APIRegister)
	if err != nil {
		t.Fatalf("HasCalled() failed: %v", err)
	}
	if !called {
		t.Fatal("HasCalled() = false after Record()")
	}
}

func testDuplicateRecord(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()
	ledgerSession(t, s, sid("sess-led-dup"))

	if err := s.Record(ctx, callRecord(sid("sess-led-dup"), gate.APIRegister, 0)); err != nil {
		t.Fatalf("first Record() failed: %v", err)
	}
	err := s.Record(ctx, callRecord(sid("sess-led-dup"), gate.APIRegister, 1))
	if !errors.Is(err, gate.ErrAlreadyRecorded) {
		t.Fatalf("second Record() error = %v, want ErrAlreadyRecorded", err)
	}
}

func testDistinctPairs(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()
	ledgerSession(t, s, sid("sess-a"))
	ledgerSession(t, s, sid("sess-b"))

	// Same API under different sessions, and different APIs under one
	// session, are independent rows.
	for i, rec := range []gate.CallRecord{
		callRecord(sid("sess-a"), gate.APIRegister, 0),
		callRecord(sid("sess-b"), gate.APIRegister, 0),
		callRecord(sid("sess-a"), gate.APIRegisterEd25519, 0),
	} {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record() #%d failed: %v", i, err)
		}
	}
}

func testConcurrentRecord(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()
	ledgerSession(t, s, sid("sess-led-race"))

	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- s.Record(ctx, callRecord(sid("sess-led-race"), gate.APIRegister, i))
		}(i)
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, gate.ErrAlreadyRecorded):
			losses++
		default:
			t.Fatalf("Record() unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != n-1 {
		t.Fatalf("concurrent records: %d wins, %d losses; want exactly 1 win", wins, losses)
	}
}
