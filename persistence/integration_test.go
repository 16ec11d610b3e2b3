//go:build integration

package persistence

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// startPostgres runs a throwaway postgres and returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("racebot"),
		postgres.WithUsername("racebot"),
		postgres.WithPassword("racebot"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

// resetSchema drops every table so each contract case starts empty.
func resetSchema(t *testing.T, dsn string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`DROP SCHEMA public CASCADE; CREATE SCHEMA public`)
	require.NoError(t, err)
}

func TestPostgreSQLStore(t *testing.T) {
	dsn := startPostgres(t)

	t.Run("sql", func(t *testing.T) {
		runStoreContract(t, func(t *testing.T) Store {
			resetSchema(t, dsn)
			store, err := NewPostgreSQL(dsn)
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			require.NoError(t, store.Migrate(context.Background()))
			return store
		})
	})

	t.Run("gorm", func(t *testing.T) {
		runStoreContract(t, func(t *testing.T) Store {
			resetSchema(t, dsn)
			store, err := NewGormPostgreSQL(dsn)
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			require.NoError(t, store.Migrate(context.Background()))
			return store
		})
	})
}
