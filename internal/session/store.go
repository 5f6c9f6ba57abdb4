package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/access-gate/internal/domain"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Store persists sessions. It is the revocation source of truth: a token
// whose session is missing from the store is not a session.
type Store interface {
	Save(ctx context.Context, sess *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
}

type record struct {
	Subject   string              `json:"sub"`
	Claims    map[string]any      `json:"claims,omitempty"`
	Provider  domain.AuthProvider `json:"provider"`
	CreatedAt time.Time           `json:"created_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

func toRecord(s *domain.Session) record {
	return record{
		Subject:   s.Subject,
		Claims:    s.Claims,
		Provider:  s.Provider,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}

func (r record) session(id string) *domain.Session {
	return &domain.Session{
		ID:        id,
		Subject:   r.Subject,
		Claims:    r.Claims,
		Provider:  r.Provider,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
}

// RedisStore keeps sessions under "session:<id>" with a TTL matching expiry.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps a go-redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "session:"}
}

func (s *RedisStore) Save(ctx context.Context, sess *domain.Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("save session %s: already expired", sess.ID)
	}
	data, err := json.Marshal(toRecord(sess))
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.client.Set(ctx, s.prefix+sess.ID, data, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return r.session(id), nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.prefix+id).Err()
}

// MemoryStore is a process-local Store used when Redis is not configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]record
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]record), now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = toRecord(sess)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	r, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || !s.now().Before(r.ExpiresAt) {
		return nil, ErrNotFound
	}
	return r.session(id), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Purge drops expired sessions and reports how many were removed.
func (s *MemoryStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, r := range s.sessions {
		if !now.Before(r.ExpiresAt) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}
