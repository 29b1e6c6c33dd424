package crud

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgeflare/radmin/pkg/changefeed"
	"github.com/edgeflare/radmin/pkg/filter"
	"github.com/edgeflare/radmin/pkg/schema"
	"github.com/edgeflare/radmin/pkg/store"
)

// UpdateMany applies the same flat patch to every in-scope row of d whose
// primary key is in ids. Relations are not resolved and list values are not
// treated as child collections. It returns ids unchanged.
func (e *Engine) UpdateMany(ctx context.Context, req Request, d *schema.EntityDescriptor, ids []any, patch AttributeMap) ([]any, error) {
	keys, err := coerceIDs(d, ids)
	if err != nil {
		return nil, err
	}
	err = e.tx(ctx, req, func(w *writer) error {
		data, err := w.flat(d, patch, false)
		if err != nil {
			return err
		}
		if len(keys) == 0 || len(data) == 0 {
			return nil
		}
		where := filter.All(filter.In(d.PrimaryKey, keys), scope(d, req))
		before, err := w.q.Find(ctx, d, store.Query{Where: where})
		if err != nil || len(before) == 0 {
			return err
		}
		if _, err := w.q.UpdateWhere(ctx, d, where, data); err != nil {
			return storeError(err)
		}
		return w.emitChanged(ctx, d, before)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteMany flags or removes every in-scope row of d whose primary key is
// in ids, in one statement. It returns ids unchanged.
func (e *Engine) DeleteMany(ctx context.Context, req Request, d *schema.EntityDescriptor, ids []any) ([]any, error) {
	keys, err := coerceIDs(d, ids)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return ids, nil
	}
	err = e.tx(ctx, req, func(w *writer) error {
		where := filter.All(filter.In(d.PrimaryKey, keys), scope(d, req))
		before, err := w.q.Find(ctx, d, store.Query{Where: where})
		if err != nil || len(before) == 0 {
			return err
		}

		if d.SoftDelete() {
			patch := store.Row{schema.SoftDeleteField: true}
			w.stampUpdate(d, patch)
			if _, err := w.q.UpdateWhere(ctx, d, where, patch); err != nil {
				return storeError(err)
			}
		} else if _, err := w.q.DeleteWhere(ctx, d, where); err != nil {
			return storeError(err)
		}
		for _, r := range before {
			w.emit(changefeed.OperationDelete, d, r, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// CreateMany inserts flat records in one batch. Keys that are not declared
// fields are dropped. Validation errors are keyed "<index>.<field>".
func (e *Engine) CreateMany(ctx context.Context, req Request, d *schema.EntityDescriptor, items []AttributeMap) ([]AttributeMap, error) {
	var rows []store.Row
	err := e.tx(ctx, req, func(w *writer) error {
		verr := &ValidationError{}
		batch := make([]store.Row, 0, len(items))
		for i, item := range items {
			data, err := w.flat(d, item, true)
			if err != nil {
				if !verr.mergeFrom(err, fmt.Sprintf("%d.", i)) {
					return err
				}
				continue
			}
			batch = append(batch, data)
		}
		if !verr.empty() {
			return verr
		}
		if len(batch) == 0 {
			return nil
		}

		var err error
		rows, err = w.q.InsertMany(ctx, d, batch)
		if err != nil {
			return storeError(err)
		}
		for _, r := range rows {
			w.emit(changefeed.OperationCreate, d, nil, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return project(d, rows), nil
}

// flat prepares a record without relation lookups or child collections.
func (w *writer) flat(d *schema.EntityDescriptor, in AttributeMap, creating bool) (store.Row, error) {
	fields := make(AttributeMap, len(in))
	supplied := make(map[string]bool, len(in))
	for k, v := range in {
		if d.HasField(k) {
			fields[k] = v
			supplied[k] = true
		}
	}
	w.stamp(d, fields, creating)
	return w.prepare(d, fields, supplied, creating)
}

// emitChanged reloads rows after a batch update and emits one update event
// per row.
func (w *writer) emitChanged(ctx context.Context, d *schema.EntityDescriptor, before []store.Row) error {
	keys := make([]any, len(before))
	for i, r := range before {
		keys[i] = r[d.PrimaryKey]
	}
	after, err := w.q.Find(ctx, d, store.Query{Where: filter.In(d.PrimaryKey, keys)})
	if err != nil {
		return err
	}
	for _, b := range before {
		for _, a := range after {
			if n, ok := filter.Compare(a[d.PrimaryKey], b[d.PrimaryKey]); ok && n == 0 {
				w.emit(changefeed.OperationUpdate, d, b, a)
				break
			}
		}
	}
	return nil
}

// mergeFrom adds the fields of a *ValidationError in err under prefix. It
// reports false when err is some other error.
func (e *ValidationError) mergeFrom(err error, prefix string) bool {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	for k, msgs := range ve.Errors {
		for _, m := range msgs {
			e.add(prefix+k, m)
		}
	}
	return true
}
