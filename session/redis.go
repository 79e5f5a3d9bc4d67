package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopmesh/shopmesh/core"
)

// RedisStoreOptions configure a RedisStore.
type RedisStoreOptions struct {
	// KeyPrefix namespaces session keys, e.g. "shopmesh:session:".
	KeyPrefix string
	// TTL expires idle sessions; zero keeps them forever.
	TTL time.Duration
}

// RedisStore persists each session as a single JSON document, refreshed as a
// whole on every mutation. That keeps SaveCheckpoint trivially atomic: the
// checkpoint and its interruption event land in one SET or not at all.
//
// Mutations serialize through a process-local lock; the store assumes one
// writer process per session, which the runner's per-session latch already
// guarantees.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	mu     sync.Mutex
}

// NewRedisStore creates a session store backed by the given Redis client.
func NewRedisStore(client redis.UniversalClient, optFns ...func(o *RedisStoreOptions)) *RedisStore {
	opts := RedisStoreOptions{KeyPrefix: "shopmesh:session:"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RedisStore{client: client, prefix: opts.KeyPrefix, ttl: opts.TTL}
}

func (s *RedisStore) key(sessionID string) string { return s.prefix + sessionID }

// load fetches and decodes a session; missing keys return (nil, nil).
func (s *RedisStore) load(ctx context.Context, sessionID string) (*core.Session, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, &core.UpstreamError{Op: "redis.get", Retryable: true, Err: err}
	}

	var sess core.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &sess, nil
}

func (s *RedisStore) save(ctx context.Context, sess *core.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := s.client.Set(ctx, s.key(sess.ID), raw, s.ttl).Err(); err != nil {
		return &core.UpstreamError{Op: "redis.set", Retryable: true, Err: err}
	}
	return nil
}

// mutate runs fn against the loaded (or new) session and writes it back.
func (s *RedisStore) mutate(sessionID string, fn func(sess *core.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		sess = core.NewSession(sessionID)
	}

	if err := fn(sess); err != nil {
		return err
	}

	return s.save(ctx, sess)
}

// Get returns an existing session or creates a new one lazily.
func (s *RedisStore) Get(sessionID string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	sess = core.NewSession(sessionID)
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Create forces the creation (or overwriting) of a session with the given id.
func (s *RedisStore) Create(sessionID string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := core.NewSession(sessionID)
	if err := s.save(context.Background(), sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// AppendEvent adds an event to an existing or newly created session.
func (s *RedisStore) AppendEvent(sessionID string, ev core.Event) error {
	return s.mutate(sessionID, func(sess *core.Session) error {
		sess.AddEvent(ev)
		return nil
	})
}

// ApplyDelta merges a key/value delta into the session state.
func (s *RedisStore) ApplyDelta(sessionID string, delta map[string]any) error {
	return s.mutate(sessionID, func(sess *core.Session) error {
		sess.ApplyStateDelta(delta)
		return nil
	})
}

// SaveCheckpoint installs cp and appends its interruption event in one write.
func (s *RedisStore) SaveCheckpoint(sessionID string, cp *core.Checkpoint, ev core.Event) error {
	return s.mutate(sessionID, func(sess *core.Session) error {
		if err := sess.SetCheckpoint(cp); err != nil {
			return err
		}
		sess.AddEvent(ev)
		return nil
	})
}

// ClearCheckpoint removes the live checkpoint, if any.
func (s *RedisStore) ClearCheckpoint(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return core.ErrSessionNotFound
	}

	sess.ClearCheckpoint()
	return s.save(ctx, sess)
}

// Delete discards the session record entirely.
func (s *RedisStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.client.Del(context.Background(), s.key(sessionID)).Err(); err != nil {
		return &core.UpstreamError{Op: "redis.del", Retryable: true, Err: err}
	}
	return nil
}

var _ core.SessionStore = (*RedisStore)(nil)
