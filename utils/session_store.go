package utils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

type memSession struct {
	values    map[string]string
	expiresAt time.Time
}

// SessionStore keeps per-visitor key/value state. Redis hashes are preferred
// so every instance sees the same session; without Redis the state lives in
// process memory (single-instance only).
type SessionStore struct {
	rc  *redis.Client
	ttl time.Duration
	now func() time.Time

	mu  sync.Mutex
	mem map[string]*memSession
}

// NewSessionStore creates a store whose sessions expire ttl after their last write.
func NewSessionStore(rc *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionStore{
		rc:  rc,
		ttl: ttl,
		now: time.Now,
		mem: map[string]*memSession{},
	}
}

// Open returns a handle scoped to one visitor session id.
func (s *SessionStore) Open(id string) *Session {
	return &Session{store: s, id: id}
}

// Session is a handle on a single visitor's session state.
type Session struct {
	store *SessionStore
	id    string
}

// ID returns the session id the handle is scoped to.
func (h *Session) ID() string {
	return h.id
}

// Get returns the value stored under key. A missing session or key is not an error.
func (h *Session) Get(ctx context.Context, key string) (string, bool, error) {
	s := h.store
	if s.rc != nil {
		v, err := s.rc.HGet(ctx, sessionKeyPrefix+h.id, key).Result()
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return v, true, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.mem[h.id]
	if !ok {
		return "", false, nil
	}
	if s.now().After(sess.expiresAt) {
		delete(s.mem, h.id)
		return "", false, nil
	}
	v, ok := sess.values[key]
	return v, ok, nil
}

// Set stores value under key and refreshes the session TTL.
func (h *Session) Set(ctx context.Context, key, value string) error {
	s := h.store
	if s.rc != nil {
		redisKey := sessionKeyPrefix + h.id
		_, err := s.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisKey, key, value)
			pipe.Expire(ctx, redisKey, s.ttl)
			return nil
		})
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupExpiredLocked()
	sess, ok := s.mem[h.id]
	if !ok {
		sess = &memSession{values: map[string]string{}}
		s.mem[h.id] = sess
	}
	sess.values[key] = value
	sess.expiresAt = s.now().Add(s.ttl)
	return nil
}

func (s *SessionStore) cleanupExpiredLocked() {
	now := s.now()
	for id, sess := range s.mem {
		if now.After(sess.expiresAt) {
			delete(s.mem, id)
		}
	}
}
