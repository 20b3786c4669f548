package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/tuition-ledger/ledger"
	"github.com/warp/tuition-ledger/store/postgres"
	"github.com/warp/tuition-ledger/store/sqlstore"
	"github.com/warp/tuition-ledger/store/storetest"
)

// Runs only when TEST_DATABASE_URL points at a disposable database.
func TestPostgresContract(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		store, err := postgres.Open(context.Background(), url, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestClassify(t *testing.T) {
	d := postgres.Dialect{}

	unique := &pgconn.PgError{Code: "23505"}
	assert.ErrorIs(t, d.Classify(unique), sqlstore.ErrUniqueViolation)

	for _, code := range []string{"40001", "40P01", "55P03"} {
		err := d.Classify(&pgconn.PgError{Code: code})
		assert.ErrorIs(t, err, ledger.ErrConcurrencyConflict, code)
		assert.True(t, ledger.IsRetryable(err))
	}

	fk := &pgconn.PgError{Code: "23503"}
	assert.Equal(t, error(fk), d.Classify(fk))
}

func TestRebind(t *testing.T) {
	got := postgres.Dialect{}.Rebind(`SELECT a FROM t WHERE b = ? AND c = ?`)
	assert.Equal(t, `SELECT a FROM t WHERE b = $1 AND c = $2`, got)
}
