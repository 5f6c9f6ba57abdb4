package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/access-gate/internal/config"
)

func TestPostgresMemoryMode(t *testing.T) {
	t.Parallel()

	pg, err := NewPostgres(context.Background(), config.PostgresConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, pg.PoolHandle())
	assert.ErrorIs(t, pg.Ping(context.Background()), ErrPostgresDisabled)
	assert.NotPanics(t, pg.Close)

	var none *Postgres
	assert.Nil(t, none.PoolHandle())
	assert.ErrorIs(t, none.Ping(context.Background()), ErrPostgresDisabled)
	assert.NotPanics(t, none.Close)
}

func TestPostgresRejectsBadDSN(t *testing.T) {
	t.Parallel()

	_, err := NewPostgres(context.Background(), config.PostgresConfig{DSN: "postgres://%zz"}, zap.NewNop())
	assert.ErrorContains(t, err, "POSTGRES_DSN")
}

func TestApplyPoolLimits(t *testing.T) {
	t.Parallel()

	poolCfg, err := pgxpool.ParseConfig("postgres://gate@localhost:5432/gate")
	require.NoError(t, err)
	defaultMax := poolCfg.MaxConns

	applyPoolLimits(poolCfg, config.PostgresConfig{})
	assert.Equal(t, defaultMax, poolCfg.MaxConns)

	applyPoolLimits(poolCfg, config.PostgresConfig{MaxConns: 12, MinConns: 2, ConnMaxIdleSec: 30, ConnMaxLifeSec: 600})
	assert.Equal(t, int32(12), poolCfg.MaxConns)
	assert.Equal(t, int32(2), poolCfg.MinConns)
	assert.Equal(t, 30*time.Second, poolCfg.MaxConnIdleTime)
	assert.Equal(t, 10*time.Minute, poolCfg.MaxConnLifetime)
}
