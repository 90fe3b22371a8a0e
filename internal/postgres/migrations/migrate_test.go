package migrations_test

import (
	"context"
	"testing"

	"github.com/kirinyoku/reservo/internal/postgres/migrations"
	"github.com/kirinyoku/reservo/internal/postgres/pgtest"
	"github.com/stretchr/testify/require"
)

func TestNames_Ordered(t *testing.T) {
	names, err := migrations.Names()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	require.Equal(t, "0001_init.sql", names[0])
}

func TestApply_Idempotent(t *testing.T) {
	pool := pgtest.NewPool(t)
	ctx := context.Background()

	var before int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&before))

	require.NoError(t, migrations.Apply(ctx, pool))

	var after int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&after))
	require.Equal(t, before, after)
}
