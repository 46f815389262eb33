// Package redisstore provides the Redis-backed implementation of gate.Store
// for horizontally scaled deployments. Unique session creation and
// at-most-once call recording use SET NX; state transitions use a Lua script
// so the compare-and-swap is atomic on the Redis server. Keys carry a TTL of
// the session's validity window plus a retention period, so expired and
// completed sessions keep answering with their terminal outcome for the
// retention period before Redis reclaims them.
package redisstore
