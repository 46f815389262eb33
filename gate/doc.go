// Package gate implements the commit-reveal session gate that stands between
// concurrent client requests and a key-share node's privileged operations
// (registration, reshare, share retrieval).
//
// A client commits to an ephemeral public key and a digest of a not-yet
// revealed identity token, producing a Session with a fixed expiry. Only a
// caller that can later reveal the matching identity digest may be authorized
// to invoke a privileged API, and each privileged API runs at most once per
// session.
//
// Layers & Roles
//
//	Gate          -> authorize/deny decisions, session lifecycle transitions
//	SessionStore  -> durable session records, unique creation, CAS transitions
//	CallLedger    -> append-only record of executed calls, at-most-once insert
//
// Implementations
//
//	memorystore : in-memory reference used for tests / single-process embedding
//	redisstore  : Redis backed implementation for horizontally scaled deployments
//	pgstore     : PostgreSQL backed implementation
//
// All mutual-exclusion guarantees (unique session creation, single terminal
// transition, at-most-once call recording) are pushed down to the storage
// layer so that the gate behaves correctly when independent server processes
// handle requests for the same session concurrently. The gate itself holds no
// locks and keeps no in-process state beyond its configuration.
package gate
