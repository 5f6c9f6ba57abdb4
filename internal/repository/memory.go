package repository

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/access-gate/internal/domain"
)

// MemoryUsers is a process-local UserRepository used when Postgres is not
// configured and in tests.
type MemoryUsers struct {
	mu      sync.RWMutex
	byID    map[string]domain.User
	byEmail map[string]string
}

// NewMemoryUsers creates an empty repository.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byID: map[string]domain.User{}, byEmail: map[string]string{}}
}

func (m *MemoryUsers) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := normalizeEmail(user.Email)
	if _, ok := m.byEmail[email]; ok {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.Email = email
	user.CreatedAt, user.UpdatedAt = now, now
	if user.Metadata == nil {
		user.Metadata = map[string]any{}
	}

	stored := *user
	stored.Metadata = maps.Clone(user.Metadata)
	m.byID[user.ID] = stored
	m.byEmail[email] = user.ID
	return nil
}

func (m *MemoryUsers) UpdateMetadata(_ context.Context, id string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	user.Metadata = maps.Clone(metadata)
	user.UpdatedAt = time.Now().UTC()
	m.byID[id] = user
	return nil
}

func (m *MemoryUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	user.Metadata = maps.Clone(user.Metadata)
	return &user, nil
}

func (m *MemoryUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	m.mu.RLock()
	id, ok := m.byEmail[normalizeEmail(email)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetByID(ctx, id)
}

type identityKey struct {
	provider domain.AuthProvider
	subject  string
}

// MemoryIdentities is a process-local IdentityRepository.
type MemoryIdentities struct {
	mu    sync.RWMutex
	items map[identityKey]domain.Identity
}

// NewMemoryIdentities creates an empty repository.
func NewMemoryIdentities() *MemoryIdentities {
	return &MemoryIdentities{items: map[identityKey]domain.Identity{}}
}

func (m *MemoryIdentities) Create(_ context.Context, identity *domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := identityKey{identity.Provider, identity.ProviderUserID}
	if _, ok := m.items[key]; ok {
		return ErrDuplicate
	}
	identity.CreatedAt = time.Now().UTC()
	m.items[key] = *identity
	return nil
}

func (m *MemoryIdentities) Get(_ context.Context, provider domain.AuthProvider, providerUserID string) (*domain.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	identity, ok := m.items[identityKey{provider, providerUserID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &identity, nil
}
