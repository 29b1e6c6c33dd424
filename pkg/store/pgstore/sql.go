package pgstore

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/edgeflare/radmin/pkg/filter"
	"github.com/edgeflare/radmin/pkg/schema"
	"github.com/edgeflare/radmin/pkg/store"
	"github.com/jackc/pgx/v5"
)

// builder accumulates SQL text and its positional arguments.
type builder struct {
	d    *schema.EntityDescriptor
	sb   strings.Builder
	args []any
}

func newBuilder(d *schema.EntityDescriptor) *builder {
	return &builder{d: d}
}

func (b *builder) String() string { return b.sb.String() }

func (b *builder) write(parts ...string) {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
}

// arg binds v and returns its placeholder.
func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *builder) table() string {
	return pgx.Identifier{b.d.Namespace, b.d.Table}.Sanitize()
}

func (b *builder) column(name string) (string, error) {
	if !b.d.HasField(name) {
		return "", fmt.Errorf("column %q of %s does not exist", name, b.d.Key())
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

func (b *builder) columns() string {
	names := b.d.FieldNames()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = pgx.Identifier{n}.Sanitize()
	}
	return strings.Join(out, ", ")
}

func (b *builder) where(p filter.Predicate) error {
	if p == nil {
		return nil
	}
	b.write(" WHERE ")
	return b.predicate(p)
}

func (b *builder) predicate(p filter.Predicate) error {
	switch t := p.(type) {
	case filter.And:
		return b.group(t, " AND ", "TRUE")
	case filter.Or:
		return b.group(t, " OR ", "FALSE")
	case filter.Cmp:
		return b.cmp(t)
	}
	return fmt.Errorf("unsupported predicate %T", p)
}

func (b *builder) group(ps []filter.Predicate, sep, empty string) error {
	if len(ps) == 0 {
		b.write(empty)
		return nil
	}
	b.write("(")
	for i, p := range ps {
		if i > 0 {
			b.write(sep)
		}
		if err := b.predicate(p); err != nil {
			return err
		}
	}
	b.write(")")
	return nil
}

func (b *builder) cmp(c filter.Cmp) error {
	col, err := b.column(c.Field)
	if err != nil {
		return err
	}

	switch c.Op {
	case filter.OpEq:
		if c.Value == nil {
			b.write(col, " IS NULL")
			return nil
		}
		b.write(col, " = ", b.arg(c.Value))
	case filter.OpGt:
		b.write(col, " > ", b.arg(c.Value))
	case filter.OpLt:
		b.write(col, " < ", b.arg(c.Value))
	case filter.OpILike:
		b.write(col, "::text ILIKE ", b.arg("%"+escapeLike(fmt.Sprint(c.Value))+"%"))
	case filter.OpIn, filter.OpNotIn:
		list, _ := c.Value.([]any)
		if len(list) == 0 {
			if c.Op == filter.OpIn {
				b.write("FALSE")
			} else {
				b.write(col, " IS NOT NULL")
			}
			return nil
		}
		placeholders := make([]string, len(list))
		for i, v := range list {
			placeholders[i] = b.arg(v)
		}
		op := " IN ("
		if c.Op == filter.OpNotIn {
			op = " NOT IN ("
		}
		b.write(col, op, strings.Join(placeholders, ", "), ")")
	default:
		return fmt.Errorf("unsupported operator %q", c.Op)
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Build SELECT query from the descriptor and query
func buildSelect(d *schema.EntityDescriptor, q store.Query) (string, []any, error) {
	b := newBuilder(d)
	b.write("SELECT ", b.columns(), " FROM ", b.table())
	if err := b.where(q.Where); err != nil {
		return "", nil, err
	}

	if len(q.Sort) > 0 {
		clauses := make([]string, 0, len(q.Sort))
		for _, s := range q.Sort {
			col, err := b.column(s.Field)
			if err != nil {
				return "", nil, err
			}
			dir := " ASC"
			if s.Desc {
				dir = " DESC"
			}
			clauses = append(clauses, col+dir)
		}
		b.write(" ORDER BY ", strings.Join(clauses, ", "))
	}
	if q.Limit > 0 {
		b.write(" LIMIT ", b.arg(q.Limit))
	}
	if q.Offset > 0 {
		b.write(" OFFSET ", b.arg(q.Offset))
	}
	if q.ForUpdate {
		b.write(" FOR UPDATE")
	}
	return b.String(), b.args, nil
}

func buildCount(d *schema.EntityDescriptor, where filter.Predicate) (string, []any, error) {
	b := newBuilder(d)
	b.write("SELECT count(*) FROM ", b.table())
	if err := b.where(where); err != nil {
		return "", nil, err
	}
	return b.String(), b.args, nil
}

// Build INSERT query; columns are emitted in sorted order
func buildInsert(d *schema.EntityDescriptor, data store.Row) (string, []any, error) {
	b := newBuilder(d)
	b.write("INSERT INTO ", b.table())

	keys := sortedKeys(data)
	if len(keys) == 0 {
		b.write(" DEFAULT VALUES RETURNING ", b.columns())
		return b.String(), nil, nil
	}

	cols := make([]string, len(keys))
	placeholders := make([]string, len(keys))
	for i, k := range keys {
		col, err := b.column(k)
		if err != nil {
			return "", nil, err
		}
		cols[i] = col
		placeholders[i] = b.arg(data[k])
	}
	b.write(" (", strings.Join(cols, ", "), ") VALUES (", strings.Join(placeholders, ", "), ") RETURNING ", b.columns())
	return b.String(), b.args, nil
}

func buildUpdate(d *schema.EntityDescriptor, where filter.Predicate, data store.Row, returning bool) (string, []any, error) {
	b := newBuilder(d)
	b.write("UPDATE ", b.table(), " SET ")

	keys := sortedKeys(data)
	for i, k := range keys {
		col, err := b.column(k)
		if err != nil {
			return "", nil, err
		}
		if i > 0 {
			b.write(", ")
		}
		b.write(col, " = ", b.arg(data[k]))
	}
	if err := b.where(where); err != nil {
		return "", nil, err
	}
	if returning {
		b.write(" RETURNING ", b.columns())
	}
	return b.String(), b.args, nil
}

func buildDelete(d *schema.EntityDescriptor, where filter.Predicate) (string, []any, error) {
	b := newBuilder(d)
	b.write("DELETE FROM ", b.table())
	if err := b.where(where); err != nil {
		return "", nil, err
	}
	return b.String(), b.args, nil
}

func sortedKeys(r store.Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
