package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTicketNotFound is returned when a ticket was never issued, has expired
// or was already redeemed.
var ErrTicketNotFound = errors.New("oauth: ticket not found or already used")

// TicketStore holds single-use values such as OAuth states and auth codes.
// Take removes the ticket, so each one can be redeemed once.
type TicketStore interface {
	Put(ctx context.Context, key string, value any, ttl time.Duration) error
	Take(ctx context.Context, key string, dst any) error
}

// NewTicket returns a random URL-safe ticket key.
func NewTicket() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewVerifier returns a secret for the browser that starts a flow and the
// hash kept server side with the tickets that flow issues.
func NewVerifier() (verifier, hash string, err error) {
	verifier, err = NewTicket()
	if err != nil {
		return "", "", err
	}
	return verifier, HashVerifier(verifier), nil
}

// HashVerifier is the S256 transform of verifier.
func HashVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifierMatches reports whether verifier hashes to hash. An empty verifier
// or hash never matches.
func VerifierMatches(verifier, hash string) bool {
	if verifier == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashVerifier(verifier)), []byte(hash)) == 1
}

// RedisTicketStore stores JSON tickets under prefix with a TTL and redeems
// them atomically with GETDEL.
type RedisTicketStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisTicketStore wraps a go-redis client.
func NewRedisTicketStore(client redis.UniversalClient, prefix string) *RedisTicketStore {
	return &RedisTicketStore{client: client, prefix: prefix}
}

func (s *RedisTicketStore) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode ticket: %w", err)
	}
	return s.client.Set(ctx, s.prefix+key, data, ttl).Err()
}

func (s *RedisTicketStore) Take(ctx context.Context, key string, dst any) error {
	data, err := s.client.GetDel(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrTicketNotFound
	}
	if err != nil {
		return fmt.Errorf("redeem ticket: %w", err)
	}
	return json.Unmarshal(data, dst)
}

type memoryTicket struct {
	data      []byte
	expiresAt time.Time
}

// MemoryTicketStore is a process-local TicketStore.
type MemoryTicketStore struct {
	mu      sync.Mutex
	tickets map[string]memoryTicket
	now     func() time.Time
}

// NewMemoryTicketStore creates an empty store.
func NewMemoryTicketStore() *MemoryTicketStore {
	return &MemoryTicketStore{tickets: make(map[string]memoryTicket), now: time.Now}
}

func (s *MemoryTicketStore) Put(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode ticket: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[key] = memoryTicket{data: data, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryTicketStore) Take(_ context.Context, key string, dst any) error {
	s.mu.Lock()
	t, ok := s.tickets[key]
	delete(s.tickets, key)
	s.mu.Unlock()

	if !ok || !s.now().Before(t.expiresAt) {
		return ErrTicketNotFound
	}
	return json.Unmarshal(t.data, dst)
}

// Purge drops expired tickets and reports how many were removed.
func (s *MemoryTicketStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for key, t := range s.tickets {
		if !now.Before(t.expiresAt) {
			delete(s.tickets, key)
			n++
		}
	}
	return n
}
