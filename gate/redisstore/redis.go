package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/chainapsis/oko-sub010/gate"
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: GATE_KEY_PREFIX
	KeyPrefix string `env:"GATE_KEY_PREFIX,default=oko:gate:"`
	// Retention is how long terminal sessions and call records remain
	// readable after the session's deadline. ENV: GATE_RETENTION
	Retention time.Duration `env:"GATE_RETENTION,default=24h"`
}

// Store is a Redis-backed gate.Store.
type Store struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
}

var _ gate.Store = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "oko:gate:"
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Store{client: cl, keyPrefix: prefix, retention: retention}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

// --- Key helpers ---

func (s *Store) sessionKey(sessionID string) string { return s.keyPrefix + "session:" + sessionID }
func (s *Store) callKey(sessionID, apiName string) string {
	return s.keyPrefix + "call:" + sessionID + ":" + apiName
}

// --- Sessions ---

// Create persists a new session with SET NX so concurrent creations of the
// same ID yield exactly one winner.
func (s *Store) Create(ctx context.Context, params gate.CreateParams) (gate.Session, error) {
	if err := gate.ValidateCreate(params); err != nil {
		return gate.Session{}, err
	}

	sess := gate.Session{
		ID:           params.SessionID,
		Operation:    params.Operation,
		ClientPubKey: params.ClientPubKey,
		IDTokenHash:  params.IDTokenHash,
		State:        gate.StateCommitted,
		CreatedAt:    time.Now(),
		ExpiresAt:    params.ExpiresAt,
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		return gate.Session{}, fmt.Errorf("marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.sessionKey(sess.ID), raw, s.keyTTL(sess.ExpiresAt)).Result()
	if err != nil {
		return gate.Session{}, fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return gate.Session{}, gate.ErrDuplicateSession
	}
	return sess, nil
}

// Get loads a session by ID.
func (s *Store) Get(ctx context.Context, sessionID string) (gate.Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return gate.Session{}, gate.ErrSessionNotFound
		}
		return gate.Session{}, fmt.Errorf("get session: %w", err)
	}
	var sess gate.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return gate.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return sess, nil
}

// transitionScript performs the compare-and-swap on the Redis server: the
// state field is checked and rewritten in one atomic step, preserving the
// key's TTL. Returns -1 for a missing session, 0 for a state mismatch, and 1
// on success.
var transitionScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return -1 end
local sess = cjson.decode(raw)
if sess.state ~= ARGV[1] then return 0 end
sess.state = ARGV[2]
redis.call('SET', KEYS[1], cjson.encode(sess), 'KEEPTTL')
return 1
`)

// Transition atomically moves a session from `from` to `to`.
func (s *Store) Transition(ctx context.Context, sessionID string, from, to gate.SessionState) error {
	if err := gate.CheckTransition(from, to); err != nil {
		return err
	}

	res, err := transitionScript.Run(ctx, s.client, []string{s.sessionKey(sessionID)}, string(from), string(to)).Int()
	if err != nil {
		return fmt.Errorf("transition session: %w", err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return gate.ErrInvalidTransition
	default:
		return gate.ErrSessionNotFound
	}
}

// --- Call ledger ---

// HasCalled reports whether a call record exists for the pair.
func (s *Store) HasCalled(ctx context.Context, sessionID, apiName string) (bool, error) {
	n, err := s.client.Exists(ctx, s.callKey(sessionID, apiName)).Result()
	if err != nil {
		return false, fmt.Errorf("has called: %w", err)
	}
	return n == 1, nil
}

// Record appends a call record with SET NX; exactly one of any set of
// concurrent attempts for the same (session, api) pair succeeds.
func (s *Store) Record(ctx context.Context, rec gate.CallRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.callKey(rec.SessionID, rec.APIName), raw, s.retention).Result()
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	if !ok {
		return gate.ErrAlreadyRecorded
	}
	return nil
}

// keyTTL covers the session's remaining validity plus the retention period,
// and never drops below the retention period even for commitments that are
// already past their deadline.
func (s *Store) keyTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt) + s.retention
	if ttl < s.retention {
		return s.retention
	}
	return ttl
}
