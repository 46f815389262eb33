// Package memorystore provides the in-memory reference implementation of
// gate.Store. It is intended for tests and single-process embedding; nothing
// survives a restart and the atomicity guarantees hold only within one
// process. A background janitor moves sessions past their deadline to
// EXPIRED, which never changes an authorization outcome because the gate
// checks the deadline itself.
package memorystore
