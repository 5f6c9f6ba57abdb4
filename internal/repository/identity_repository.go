package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/access-gate/internal/domain"
)

// IdentityRepository links users to OAuth accounts.
type IdentityRepository interface {
	Create(ctx context.Context, identity *domain.Identity) error
	Get(ctx context.Context, provider domain.AuthProvider, providerUserID string) (*domain.Identity, error)
}

type identityRepository struct {
	pool *pgxpool.Pool
}

// NewIdentityRepository constructs repository.
func NewIdentityRepository(pool *pgxpool.Pool) IdentityRepository {
	return &identityRepository{pool: pool}
}

func (r *identityRepository) Create(ctx context.Context, identity *domain.Identity) error {
	const query = `
        INSERT INTO identities (provider, provider_user_id, user_id, email)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at`
	err := r.pool.QueryRow(ctx, query,
		string(identity.Provider),
		identity.ProviderUserID,
		identity.UserID,
		identity.Email,
	).Scan(&identity.CreatedAt)
	return mapError(err)
}

func (r *identityRepository) Get(ctx context.Context, provider domain.AuthProvider, providerUserID string) (*domain.Identity, error) {
	const query = `
        SELECT provider, provider_user_id, user_id, email, created_at
        FROM identities WHERE provider=$1 AND provider_user_id=$2`

	var (
		identity domain.Identity
		name     string
	)
	if err := r.pool.QueryRow(ctx, query, string(provider), providerUserID).Scan(
		&name,
		&identity.ProviderUserID,
		&identity.UserID,
		&identity.Email,
		&identity.CreatedAt,
	); err != nil {
		return nil, mapError(err)
	}
	identity.Provider = domain.AuthProvider(name)
	return &identity, nil
}
