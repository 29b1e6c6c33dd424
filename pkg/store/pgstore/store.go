// Package pgstore implements store.Store over Postgres with pgx. Entities map
// to "namespace"."table"; constraint violations come back as store sentinels.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	pg "github.com/edgeflare/radmin/pkg/pgx"
	"github.com/edgeflare/radmin/pkg/filter"
	"github.com/edgeflare/radmin/pkg/schema"
	"github.com/edgeflare/radmin/pkg/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

// Store runs statements on a pool or connection.
type Store struct {
	querier
	conn       pg.Conn
	maxRetries uint64
	logger     *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for transaction retries.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithTxRetries retries transactions failing with a serialization failure
// or deadlock up to n times.
func WithTxRetries(n uint64) Option {
	return func(s *Store) { s.maxRetries = n }
}

// New returns a Store on conn, typically a *pgxpool.Pool.
func New(conn pg.Conn, opts ...Option) *Store {
	s := &Store{querier: querier{db: conn}, conn: conn, maxRetries: 3, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InTx runs fn in a READ COMMITTED transaction. Rows read with
// Query.ForUpdate stay locked until it ends. fn may run more than once when
// Postgres reports a serialization failure or deadlock.
func (s *Store) InTx(ctx context.Context, fn func(q store.Querier) error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 20 * time.Millisecond
	exp.MaxInterval = time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(exp, s.maxRetries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := s.runTx(ctx, fn)
		if err != nil && retryable(err) {
			s.logger.Warn("retrying transaction", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, b)
}

func (s *Store) runTx(ctx context.Context, fn func(q store.Querier) error) (err error) {
	tx, err := s.conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Error("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(&querier{db: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return ConvertDBError(err)
	}
	return nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

type querier struct {
	db pg.Querier
}

func (q *querier) Find(ctx context.Context, d *schema.EntityDescriptor, query store.Query) ([]store.Row, error) {
	var out []store.Row
	err := q.Each(ctx, d, query, func(r store.Row) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

func (q *querier) Each(ctx context.Context, d *schema.EntityDescriptor, query store.Query, fn func(store.Row) error) error {
	sql, args, err := buildSelect(d, query)
	if err != nil {
		return err
	}
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return ConvertDBError(err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := pgx.RowToMap(rows)
		if err != nil {
			return err
		}
		if err := fn(normalize(m)); err != nil {
			return err
		}
	}
	return ConvertDBError(rows.Err())
}

func (q *querier) Count(ctx context.Context, d *schema.EntityDescriptor, where filter.Predicate) (int, error) {
	sql, args, err := buildCount(d, where)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.db.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, ConvertDBError(err)
	}
	return int(n), nil
}

func (q *querier) Insert(ctx context.Context, d *schema.EntityDescriptor, data store.Row) (store.Row, error) {
	sql, args, err := buildInsert(d, data)
	if err != nil {
		return nil, err
	}
	return q.one(ctx, sql, args)
}

// InsertMany sends one INSERT per row in a single batch.
func (q *querier) InsertMany(ctx context.Context, d *schema.EntityDescriptor, rows []store.Row) ([]store.Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		sql, args, err := buildInsert(d, r)
		if err != nil {
			return nil, err
		}
		batch.Queue(sql, args...)
	}

	br := q.db.SendBatch(ctx, batch)
	defer br.Close()

	out := make([]store.Row, 0, len(rows))
	for range rows {
		r, err := br.Query()
		if err != nil {
			return nil, ConvertDBError(err)
		}
		m, err := pgx.CollectExactlyOneRow(r, pgx.RowToMap)
		if err != nil {
			return nil, ConvertDBError(err)
		}
		out = append(out, normalize(m))
	}
	return out, nil
}

func (q *querier) Update(ctx context.Context, d *schema.EntityDescriptor, id any, data store.Row) (store.Row, error) {
	if len(data) == 0 {
		return store.Get(ctx, q, d, id, nil)
	}
	sql, args, err := buildUpdate(d, filter.Eq(d.PrimaryKey, id), data, true)
	if err != nil {
		return nil, err
	}
	row, err := q.one(ctx, sql, args)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%s %v: %w", d.Key(), id, store.ErrNotFound)
	}
	return row, err
}

func (q *querier) UpdateWhere(ctx context.Context, d *schema.EntityDescriptor, where filter.Predicate, data store.Row) (int64, error) {
	if len(data) == 0 {
		return 0, nil
	}
	sql, args, err := buildUpdate(d, where, data, false)
	if err != nil {
		return 0, err
	}
	tag, err := q.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, ConvertDBError(err)
	}
	return tag.RowsAffected(), nil
}

func (q *querier) DeleteWhere(ctx context.Context, d *schema.EntityDescriptor, where filter.Predicate) (int64, error) {
	sql, args, err := buildDelete(d, where)
	if err != nil {
		return 0, err
	}
	tag, err := q.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, ConvertDBError(err)
	}
	return tag.RowsAffected(), nil
}

func (q *querier) one(ctx context.Context, sql string, args []any) (store.Row, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	return normalize(m), nil
}

// normalize converts pgx scan results to the canonical row values.
func normalize(m map[string]any) store.Row {
	row := make(store.Row, len(m))
	for k, v := range m {
		row[k] = canonical(v)
	}
	return row
}

func canonical(v any) any {
	switch t := v.(type) {
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float32:
		return float64(t)
	case [16]byte:
		return uuid.UUID(t).String()
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case time.Time:
		return t.UTC()
	}
	return v
}
