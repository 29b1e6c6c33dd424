// Package pgx holds the Postgres plumbing shared by the schema loader and the
// pgstore data-access layer: connection interfaces, and pool setup with connect retries.
package pgx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgx.Conn, *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Conn is a Querier that can also open transactions.
type Conn interface {
	Querier
	// Begin starts a transaction. Unlike database/sql, the context only affects the begin command.
	Begin(ctx context.Context) (pgx.Tx, error)
	// BeginTx starts a transaction with txOptions determining the transaction mode.
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}
