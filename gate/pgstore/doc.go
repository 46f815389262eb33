// Package pgstore provides the PostgreSQL-backed implementation of
// gate.Store on pgx/v5. Unique session creation and at-most-once call
// recording rely on primary-key conflict targets (INSERT ... ON CONFLICT DO
// NOTHING), and state transitions on conditional updates (UPDATE ... WHERE
// state = $from), so every mutual-exclusion guarantee is enforced by the
// database rather than by error-text inspection or in-process locks.
package pgstore
