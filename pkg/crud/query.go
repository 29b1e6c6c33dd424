package crud

import (
	"context"

	"github.com/edgeflare/radmin/pkg/changefeed"
	"github.com/edgeflare/radmin/pkg/filter"
	"github.com/edgeflare/radmin/pkg/schema"
	"github.com/edgeflare/radmin/pkg/store"
)

// Page is one slice of a filtered collection.
type Page struct {
	Items []AttributeMap
	// Total counts every matching row, before pagination.
	Total int
	// Start and End are the inclusive indexes of Items within the
	// collection. End is Start-1 for an empty page.
	Start int
	End   int
}

// List filters, sorts and paginates the rows of d.
func (e *Engine) List(ctx context.Context, req Request, d *schema.EntityDescriptor, p filter.Params) (Page, error) {
	pred, err := filter.Compile(p.Filter, d)
	if err != nil {
		return Page{}, err
	}
	where := filter.All(pred, scope(d, req))

	total, err := e.store.Count(ctx, d, where)
	if err != nil {
		return Page{}, err
	}

	page := Page{Total: total, Start: p.Range.Start, End: p.Range.Start - 1, Items: []AttributeMap{}}
	limit := p.Range.Limit()
	if limit <= 0 || p.Range.Start >= total {
		return page, nil
	}

	rows, err := e.store.Find(ctx, d, store.Query{
		Where:  where,
		Sort:   orderBy(d, p.Sort),
		Offset: p.Range.Start,
		Limit:  limit,
	})
	if err != nil {
		return Page{}, err
	}
	page.Items = project(d, rows)
	page.End = page.Start + len(rows) - 1
	if err := e.embed(ctx, e.store, d, page.Items, p.Meta.Embed); err != nil {
		return Page{}, err
	}
	return page, nil
}

// orderBy sorts by s with the primary key as tiebreaker, so pages are stable.
func orderBy(d *schema.EntityDescriptor, s filter.Sort) []filter.Sort {
	if s.Field == "" {
		s.Field = d.PrimaryKey
	}
	sorts := []filter.Sort{s}
	if s.Field != d.PrimaryKey {
		sorts = append(sorts, filter.Sort{Field: d.PrimaryKey})
	}
	return sorts
}

func project(d *schema.EntityDescriptor, rows []store.Row) []AttributeMap {
	items := make([]AttributeMap, len(rows))
	for i, r := range rows {
		items[i] = ToAttributeMap(d, r, true)
	}
	return items
}

// Retrieve returns one row of d.
func (e *Engine) Retrieve(ctx context.Context, req Request, d *schema.EntityDescriptor, id any, embed []string) (AttributeMap, error) {
	row, err := lookup(ctx, e.store, d, req, id, false)
	if err != nil {
		return nil, err
	}
	items := []AttributeMap{ToAttributeMap(d, row, true)}
	if err := e.embed(ctx, e.store, d, items, embed); err != nil {
		return nil, err
	}
	return items[0], nil
}

// Destroy removes one row of d, or flags it when d supports soft deletes. It
// returns the row as it was before removal.
func (e *Engine) Destroy(ctx context.Context, req Request, d *schema.EntityDescriptor, id any) (AttributeMap, error) {
	var gone store.Row
	err := e.tx(ctx, req, func(w *writer) error {
		row, err := lookup(ctx, w.q, d, req, id, true)
		if err != nil {
			return err
		}
		gone = row
		pk := row[d.PrimaryKey]

		if d.SoftDelete() {
			patch := store.Row{schema.SoftDeleteField: true}
			w.stampUpdate(d, patch)
			after, err := w.q.Update(ctx, d, pk, patch)
			if err != nil {
				return storeError(err)
			}
			w.emit(changefeed.OperationDelete, d, row, after)
			return nil
		}

		if _, err := w.q.DeleteWhere(ctx, d, filter.Eq(d.PrimaryKey, pk)); err != nil {
			return storeError(err)
		}
		w.emit(changefeed.OperationDelete, d, row, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ToAttributeMap(d, gone, true), nil
}

// GetMany returns the in-scope rows of d whose primary key is in ids,
// ordered by primary key. Unknown ids are omitted.
func (e *Engine) GetMany(ctx context.Context, req Request, d *schema.EntityDescriptor, ids []any, embed []string) ([]AttributeMap, error) {
	keys, err := coerceIDs(d, ids)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []AttributeMap{}, nil
	}
	rows, err := e.store.Find(ctx, d, store.Query{
		Where: filter.All(filter.In(d.PrimaryKey, keys), scope(d, req)),
		Sort:  []filter.Sort{{Field: d.PrimaryKey}},
	})
	if err != nil {
		return nil, err
	}
	items := project(d, rows)
	if err := e.embed(ctx, e.store, d, items, embed); err != nil {
		return nil, err
	}
	return items, nil
}
