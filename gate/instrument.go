package gate

import (
	"context"
	"time"

	"github.com/chainapsis/oko-sub010/metrics"
)

// InstrumentStore wraps a Store so every storage round-trip is observed in
// the store-op duration histogram under the given backend label.
func InstrumentStore(s Store, backend string) Store {
	return &instrumentedStore{next: s, backend: backend}
}

type instrumentedStore struct {
	next    Store
	backend string
}

var _ Store = (*instrumentedStore)(nil)

func (s *instrumentedStore) observe(op string, start time.Time) {
	metrics.ObserveStoreOp(op, s.backend, time.Since(start))
}

func (s *instrumentedStore) Create(ctx context.Context, params CreateParams) (Session, error) {
	defer s.observe("create", time.Now())
	return s.next.Create(ctx, params)
}

func (s *instrumentedStore) Get(ctx context.Context, sessionID string) (Session, error) {
	defer s.observe("get", time.Now())
	return s.next.Get(ctx, sessionID)
}

func (s *instrumentedStore) Transition(ctx context.Context, sessionID string, from, to SessionState) error {
	defer s.observe("transition", time.Now())
	return s.next.Transition(ctx, sessionID, from, to)
}

func (s *instrumentedStore) HasCalled(ctx context.Context, sessionID, apiName string) (bool, error) {
	defer s.observe("has_called", time.Now())
	return s.next.HasCalled(ctx, sessionID, apiName)
}

func (s *instrumentedStore) Record(ctx context.Context, rec CallRecord) error {
	defer s.observe("record", time.Now())
	return s.next.Record(ctx, rec)
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
