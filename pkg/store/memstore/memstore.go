// Package memstore is an in-memory store.Store. Transactions are serialized
// and work on a copy of every table, so a failed transaction leaves nothing
// behind. Constraints follow Postgres defaults: NOT NULL, UNIQUE and
// restricting foreign keys.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/edgeflare/radmin/pkg/filter"
	"github.com/edgeflare/radmin/pkg/schema"
	"github.com/edgeflare/radmin/pkg/store"
	"github.com/google/uuid"
)

// Store keeps rows per entity.
type Store struct {
	mu     sync.Mutex
	tables map[string]*table
}

type table struct {
	desc *schema.EntityDescriptor
	rows []store.Row
	seq  int64
}

// New returns an empty store. Entities registered up front take part in
// foreign key checks before their first row is written.
func New(entities ...*schema.EntityDescriptor) *Store {
	s := &Store{tables: make(map[string]*table)}
	for _, d := range entities {
		s.tables[d.Key()] = &table{desc: d}
	}
	return s
}

// InTx implements store.Store. fn must only use the Querier it is given.
func (s *Store) InTx(ctx context.Context, fn func(q store.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{tables: cloneTables(s.tables)}
	if err := fn(t); err != nil {
		return err
	}
	s.tables = t.tables
	return nil
}

func (s *Store) Find(ctx context.Context, d *schema.EntityDescriptor, q store.Query) (rows []store.Row, err error) {
	err = s.InTx(ctx, func(tx store.Querier) error {
		rows, err = tx.Find(ctx, d, q)
		return err
	})
	return rows, err
}

func (s *Store) Each(ctx context.Context, d *schema.EntityDescriptor, q store.Query, fn func(store.Row) error) error {
	return s.InTx(ctx, func(tx store.Querier) error {
		return tx.Each(ctx, d, q, fn)
	})
}

func (s *Store) Count(ctx context.Context, d *schema.EntityDescriptor, where filter.Predicate) (n int, err error) {
	err = s.InTx(ctx, func(tx store.Querier) error {
		n, err = tx.Count(ctx, d, where)
		return err
	})
	return n, err
}

func (s *Store) Insert(ctx context.Context, d *schema.EntityDescriptor, data store.Row) (row store.Row, err error) {
	err = s.InTx(ctx, func(tx store.Querier) error {
		row, err = tx.Insert(ctx, d, data)
		return err
	})
	return row, err
}

func (s *Store) InsertMany(ctx context.Context, d *schema.EntityDescriptor, data []store.Row) (rows []store.Row, err error) {
	err = s.InTx(ctx, func(tx store.Querier) error {
		rows, err = tx.InsertMany(ctx, d, data)
		return err
	})
	return rows, err
}

func (s *Store) Update(ctx context.Context, d *schema.EntityDescriptor, id any, data store.Row) (row store.Row, err error) {
	err = s.InTx(ctx, func(tx store.Querier) error {
		row, err = tx.Update(ctx, d, id, data)
		return err
	})
	return row, err
}

func (s *Store) UpdateWhere(ctx context.Context, d *schema.EntityDescriptor, where filter.Predicate, data store.Row) (n int64, err error) {
	err = s.InTx(ctx, func(tx store.Querier) error {
		n, err = tx.UpdateWhere(ctx, d, where, data)
		return err
	})
	return n, err
}

func (s *Store) DeleteWhere(ctx context.Context, d *schema.EntityDescriptor, where filter.Predicate) (n int64, err error) {
	err = s.InTx(ctx, func(tx store.Querier) error {
		n, err = tx.DeleteWhere(ctx, d, where)
		return err
	})
	return n, err
}

func cloneTables(in map[string]*table) map[string]*table {
	out := make(map[string]*table, len(in))
	for k, t := range in {
		rows := make([]store.Row, len(t.rows))
		for i, r := range t.rows {
			rows[i] = r.Clone()
		}
		out[k] = &table{desc: t.desc, rows: rows, seq: t.seq}
	}
	return out
}

// tx is a snapshot of every table, private to one transaction.
type tx struct {
	tables map[string]*table
}

func (t *tx) table(d *schema.EntityDescriptor) *table {
	tb, ok := t.tables[d.Key()]
	if !ok {
		tb = &table{desc: d}
		t.tables[d.Key()] = tb
	}
	return tb
}

func (t *tx) Find(_ context.Context, d *schema.EntityDescriptor, q store.Query) ([]store.Row, error) {
	tb := t.table(d)
	var out []store.Row
	for _, r := range tb.rows {
		if filter.Match(q.Where, r) {
			out = append(out, r)
		}
	}

	if len(q.Sort) > 0 {
		slices.SortStableFunc(out, func(a, b store.Row) int {
			return compareRows(a, b, q.Sort)
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}

	res := make([]store.Row, len(out))
	for i, r := range out {
		res[i] = r.Clone()
	}
	return res, nil
}

func (t *tx) Each(ctx context.Context, d *schema.EntityDescriptor, q store.Query, fn func(store.Row) error) error {
	rows, err := t.Find(ctx, d, q)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) Count(_ context.Context, d *schema.EntityDescriptor, where filter.Predicate) (int, error) {
	n := 0
	for _, r := range t.table(d).rows {
		if filter.Match(where, r) {
			n++
		}
	}
	return n, nil
}

func (t *tx) Insert(_ context.Context, d *schema.EntityDescriptor, data store.Row) (store.Row, error) {
	tb := t.table(d)
	row, err := tb.newRow(data)
	if err != nil {
		return nil, err
	}
	if err := t.check(tb, row, -1); err != nil {
		return nil, err
	}
	tb.rows = append(tb.rows, row)
	return row.Clone(), nil
}

func (t *tx) InsertMany(ctx context.Context, d *schema.EntityDescriptor, data []store.Row) ([]store.Row, error) {
	out := make([]store.Row, 0, len(data))
	for _, r := range data {
		row, err := t.Insert(ctx, d, r)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func (t *tx) Update(_ context.Context, d *schema.EntityDescriptor, id any, data store.Row) (store.Row, error) {
	tb := t.table(d)
	pk, err := schema.Coerce(d.PrimaryKeyField(), id)
	if err != nil {
		return nil, err
	}
	for i, r := range tb.rows {
		if n, ok := filter.Compare(r[d.PrimaryKey], pk); ok && n == 0 {
			if err := t.apply(tb, i, data); err != nil {
				return nil, err
			}
			return tb.rows[i].Clone(), nil
		}
	}
	return nil, fmt.Errorf("%s %v: %w", d.Key(), id, store.ErrNotFound)
}

func (t *tx) UpdateWhere(_ context.Context, d *schema.EntityDescriptor, where filter.Predicate, data store.Row) (int64, error) {
	tb := t.table(d)
	var n int64
	for i, r := range tb.rows {
		if !filter.Match(where, r) {
			continue
		}
		if err := t.apply(tb, i, data); err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

func (t *tx) DeleteWhere(_ context.Context, d *schema.EntityDescriptor, where filter.Predicate) (int64, error) {
	tb := t.table(d)
	var keep, gone []store.Row
	for _, r := range tb.rows {
		if filter.Match(where, r) {
			gone = append(gone, r)
		} else {
			keep = append(keep, r)
		}
	}
	if len(gone) == 0 {
		return 0, nil
	}
	all := tb.rows
	tb.rows = keep
	if err := t.checkReferences(d, gone); err != nil {
		tb.rows = all
		return 0, err
	}
	return int64(len(gone)), nil
}

// newRow coerces data and fills primary key and defaults.
func (tb *table) newRow(data store.Row) (store.Row, error) {
	d := tb.desc
	row := make(store.Row, len(d.FieldNames()))
	for k, v := range data {
		f, ok := d.Field(k)
		if !ok {
			return nil, fmt.Errorf("column %q of %s does not exist", k, d.Key())
		}
		cv, err := schema.Coerce(f, v)
		if err != nil {
			return nil, err
		}
		row[k] = cv
	}

	pkf := d.PrimaryKeyField()
	if row[d.PrimaryKey] == nil {
		switch pkf.Type {
		case schema.TypeInteger:
			tb.seq++
			row[d.PrimaryKey] = tb.seq
		case schema.TypeUUID, schema.TypeText:
			row[d.PrimaryKey] = uuid.NewString()
		default:
			return nil, &store.ConstraintError{Kind: store.ErrNotNullViolation, Column: d.PrimaryKey}
		}
	} else if n, ok := row[d.PrimaryKey].(int64); ok && n > tb.seq {
		tb.seq = n
	}

	for _, f := range d.Fields() {
		v, present := row[f.Name]
		switch {
		case present && v != nil:
		case present && !f.Nullable:
			return nil, notNull(f)
		case present:
		case f.Blank:
			row[f.Name] = zero(f)
		case f.Nullable:
			row[f.Name] = nil
		default:
			return nil, notNull(f)
		}
	}
	return row, nil
}

// apply assigns data to the i-th row of tb, reverting on a constraint error.
func (t *tx) apply(tb *table, i int, data store.Row) error {
	d := tb.desc
	updated := tb.rows[i].Clone()
	for k, v := range data {
		f, ok := d.Field(k)
		if !ok {
			return fmt.Errorf("column %q of %s does not exist", k, d.Key())
		}
		cv, err := schema.Coerce(f, v)
		if err != nil {
			return err
		}
		if cv == nil && !f.Nullable {
			return notNull(f)
		}
		updated[k] = cv
	}
	if err := t.check(tb, updated, i); err != nil {
		return err
	}
	tb.rows[i] = updated
	return nil
}

// check enforces unique and foreign key constraints for row, ignoring the
// row at index self.
func (t *tx) check(tb *table, row store.Row, self int) error {
	d := tb.desc
	for _, f := range d.Fields() {
		v := row[f.Name]
		if v == nil {
			continue
		}
		if f.Unique || f.PrimaryKey {
			for i, other := range tb.rows {
				if i == self {
					continue
				}
				if n, ok := filter.Compare(other[f.Name], v); ok && n == 0 {
					return &store.ConstraintError{
						Kind:   store.ErrUniqueViolation,
						Column: f.Name,
						Detail: fmt.Sprintf("Key (%s)=(%v) already exists.", f.Name, v),
					}
				}
			}
		}
		if f.IsRelation {
			target, ok := t.tables[f.Related.Key()]
			if !ok {
				continue
			}
			if target == tb && matches(row, f.RelatedField, v) {
				continue
			}
			if !target.has(f.RelatedField, v) {
				return &store.ConstraintError{
					Kind:   store.ErrForeignKeyViolation,
					Column: f.Name,
					Detail: fmt.Sprintf("Key (%s)=(%v) is not present in table %q.", f.Name, v, target.desc.Table),
				}
			}
		}
	}
	return nil
}

// checkReferences fails when a remaining row still points at a deleted one.
func (t *tx) checkReferences(d *schema.EntityDescriptor, gone []store.Row) error {
	for _, tb := range t.tables {
		for _, f := range tb.desc.Relations() {
			if f.Related.Key() != d.Key() {
				continue
			}
			for _, r := range tb.rows {
				v := r[f.Name]
				if v == nil {
					continue
				}
				for _, g := range gone {
					if matches(g, f.RelatedField, v) {
						return &store.ConstraintError{
							Kind:   store.ErrForeignKeyViolation,
							Column: f.Name,
							Detail: fmt.Sprintf("Key (%s)=(%v) is still referenced from table %q.", f.RelatedField, v, tb.desc.Table),
						}
					}
				}
			}
		}
	}
	return nil
}

func (tb *table) has(field string, v any) bool {
	for _, r := range tb.rows {
		if matches(r, field, v) {
			return true
		}
	}
	return false
}

func matches(r store.Row, field string, v any) bool {
	n, ok := filter.Compare(r[field], v)
	return ok && n == 0
}

func notNull(f schema.FieldDescriptor) error {
	return &store.ConstraintError{
		Kind:   store.ErrNotNullViolation,
		Column: f.Name,
		Detail: fmt.Sprintf("null value in column %q violates not-null constraint", f.Name),
	}
}

func zero(f schema.FieldDescriptor) any {
	switch f.Type {
	case schema.TypeInteger:
		return int64(0)
	case schema.TypeFloat:
		return float64(0)
	case schema.TypeBoolean:
		return false
	case schema.TypeUUID:
		return uuid.NewString()
	case schema.TypeDate, schema.TypeDateTime:
		return time.Now().UTC()
	case schema.TypeText:
		return ""
	case schema.TypeArray:
		return []any{}
	}
	return nil
}

func compareRows(a, b store.Row, sorts []filter.Sort) int {
	for _, s := range sorts {
		av, bv := a[s.Field], b[s.Field]
		var n int
		switch {
		case av == nil && bv == nil:
			continue
		case av == nil:
			n = 1 // nulls sort last ascending and first descending
		case bv == nil:
			n = -1
		default:
			var ok bool
			if n, ok = filter.Compare(av, bv); !ok {
				n = strings.Compare(fmt.Sprint(av), fmt.Sprint(bv))
			}
		}
		if s.Desc {
			n = -n
		}
		if n != 0 {
			return n
		}
	}
	return 0
}
