// Package pgtest provides Postgres helpers for integration tests. Tests using
// it are skipped unless TEST_DATABASE holds a connection string.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

const envVar = "TEST_DATABASE"

// ConnString returns TEST_DATABASE or skips the test.
func ConnString(t testing.TB) string {
	t.Helper()
	cs := os.Getenv(envVar)
	if cs == "" {
		t.Skipf("%s not set", envVar)
	}
	return cs
}

// Connect creates a new database connection for testing
func Connect(ctx context.Context, t testing.TB) *pgx.Conn {
	t.Helper()
	config, err := pgx.ParseConfig(ConnString(t))
	require.NoError(t, err)

	config.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		t.Logf("PostgreSQL %s: %s", n.Severity, n.Message)
	}

	conn, err := pgx.ConnectConfig(ctx, config)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, conn.Close(ctx))
	})
	return conn
}

// Pool creates a pool closed on cleanup.
func Pool(ctx context.Context, t testing.TB) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.New(ctx, ConnString(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

// Schema creates a throwaway schema, runs ddl inside it and drops it on
// cleanup. Occurrences of {{schema}} in ddl are replaced by the schema name.
func Schema(ctx context.Context, t testing.TB, conn *pgx.Conn, ddl string) string {
	t.Helper()
	name := "radmin_test_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	ident := pgx.Identifier{name}.Sanitize()

	_, err := conn.Exec(ctx, "CREATE SCHEMA "+ident)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := conn.Exec(ctx, fmt.Sprintf("DROP SCHEMA %s CASCADE", ident))
		require.NoError(t, err)
	})

	_, err = conn.Exec(ctx, strings.ReplaceAll(ddl, "{{schema}}", ident))
	require.NoError(t, err)
	return name
}
