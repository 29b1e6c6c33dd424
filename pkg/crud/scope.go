package crud

import (
	"context"
	"fmt"

	"github.com/edgeflare/radmin/pkg/filter"
	"github.com/edgeflare/radmin/pkg/schema"
	"github.com/edgeflare/radmin/pkg/store"
)

// scope returns the predicate every read of d is narrowed by: soft-deleted
// rows are hidden and, with a tenant on the request, other tenants' rows too.
func scope(d *schema.EntityDescriptor, req Request) filter.Predicate {
	var ps []filter.Predicate
	if d.SoftDelete() {
		ps = append(ps, filter.Eq(schema.SoftDeleteField, false))
	}
	if d.TenantScoped() && req.Tenant != "" {
		f, _ := d.Field(schema.TenantField)
		v, err := schema.Coerce(f, req.Tenant)
		if err != nil {
			// a tenant that cannot be stored owns no rows
			return filter.In(d.PrimaryKey, nil)
		}
		ps = append(ps, filter.Eq(schema.TenantField, v))
	}
	return filter.All(ps...)
}

// lookup loads one in-scope row by primary key.
func lookup(ctx context.Context, q store.Querier, d *schema.EntityDescriptor, req Request, id any, forUpdate bool) (store.Row, error) {
	pk, err := schema.Coerce(d.PrimaryKeyField(), id)
	if err != nil || pk == nil {
		return nil, fmt.Errorf("%s %v: %w", d.Key(), id, ErrNotFound)
	}
	rows, err := q.Find(ctx, d, store.Query{
		Where:     filter.All(filter.Eq(d.PrimaryKey, pk), scope(d, req)),
		Limit:     1,
		ForUpdate: forUpdate,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %v: %w", d.Key(), id, ErrNotFound)
	}
	return rows[0], nil
}

// coerceIDs converts client ids to the primary key type.
func coerceIDs(d *schema.EntityDescriptor, ids []any) ([]any, error) {
	pkf := d.PrimaryKeyField()
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		v, err := schema.Coerce(pkf, id)
		if err != nil || v == nil {
			return nil, fmt.Errorf("%w: id %v", ErrInvalidFilterValue, id)
		}
		out = append(out, v)
	}
	return out, nil
}
