// Package store defines the data-access contract the CRUD engine runs on.
// pgstore implements it over Postgres, memstore in memory.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgeflare/radmin/pkg/filter"
	"github.com/edgeflare/radmin/pkg/schema"
)

// Row is one stored entity instance: field name to canonical value (int64,
// float64, string, bool, time.Time, []any, map[string]any or nil). UUIDs are
// canonical strings.
type Row map[string]any

// Clone returns a shallow copy.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Query selects rows. A zero Limit means no limit.
type Query struct {
	Where  filter.Predicate
	Sort   []filter.Sort
	Offset int
	Limit  int
	// ForUpdate locks the selected rows until the transaction ends.
	ForUpdate bool
}

// Querier runs statements against one entity's storage. Inside InTx it is
// bound to the transaction.
type Querier interface {
	Find(ctx context.Context, d *schema.EntityDescriptor, q Query) ([]Row, error)
	// Each streams the rows selected by q to fn in order.
	Each(ctx context.Context, d *schema.EntityDescriptor, q Query, fn func(Row) error) error
	Count(ctx context.Context, d *schema.EntityDescriptor, where filter.Predicate) (int, error)
	Insert(ctx context.Context, d *schema.EntityDescriptor, data Row) (Row, error)
	InsertMany(ctx context.Context, d *schema.EntityDescriptor, rows []Row) ([]Row, error)
	// Update changes the row with the given primary key; ErrNotFound if absent.
	Update(ctx context.Context, d *schema.EntityDescriptor, id any, data Row) (Row, error)
	UpdateWhere(ctx context.Context, d *schema.EntityDescriptor, where filter.Predicate, data Row) (int64, error)
	DeleteWhere(ctx context.Context, d *schema.EntityDescriptor, where filter.Predicate) (int64, error)
}

// Store is a Querier that can open transactions. fn's effects commit when it
// returns nil and roll back otherwise.
type Store interface {
	Querier
	InTx(ctx context.Context, fn func(q Querier) error) error
}

// Get returns the row whose primary key is id, further narrowed by scope. An
// id that does not fit the primary key type is reported as ErrNotFound.
func Get(ctx context.Context, q Querier, d *schema.EntityDescriptor, id any, scope filter.Predicate) (Row, error) {
	pk, err := schema.Coerce(d.PrimaryKeyField(), id)
	if err != nil || pk == nil {
		return nil, fmt.Errorf("%s %v: %w", d.Key(), id, ErrNotFound)
	}
	rows, err := q.Find(ctx, d, Query{Where: filter.All(filter.Eq(d.PrimaryKey, pk), scope), Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %v: %w", d.Key(), id, ErrNotFound)
	}
	return rows[0], nil
}

// Sentinel errors shared by every implementation.
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")
	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")
	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")
	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")
	// ErrCheckViolation is returned when a check constraint is violated
	ErrCheckViolation = errors.New("check constraint violation")
)

// ConstraintError carries the column and detail of a constraint violation.
// It unwraps to one of the sentinel errors above.
type ConstraintError struct {
	Kind       error
	Column     string
	Constraint string
	Detail     string
}

func (e *ConstraintError) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
	case e.Column != "":
		return fmt.Sprintf("%v: column %s", e.Kind, e.Column)
	}
	return e.Kind.Error()
}

func (e *ConstraintError) Unwrap() error { return e.Kind }
