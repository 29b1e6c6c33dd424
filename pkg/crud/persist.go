package crud

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/edgeflare/radmin/pkg/changefeed"
	"github.com/edgeflare/radmin/pkg/filter"
	"github.com/edgeflare/radmin/pkg/metrics"
	"github.com/edgeflare/radmin/pkg/relation"
	"github.com/edgeflare/radmin/pkg/schema"
	"github.com/edgeflare/radmin/pkg/store"
)

// Audit fields are stamped by the engine and never taken from the client.
var (
	createStamps = []string{"created_at", "created_by"}
	updateStamps = []string{"updated_at", "modified_at", "updated_by", "modified_by"}
)

// Create inserts a new row of d from data, creating nested children for
// every list-valued key that names a child collection.
func (e *Engine) Create(ctx context.Context, req Request, d *schema.EntityDescriptor, data AttributeMap) (AttributeMap, error) {
	var row store.Row
	err := e.tx(ctx, req, func(w *writer) error {
		var err error
		row, err = w.save(ctx, d, data, nil, nil, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ToAttributeMap(d, row, true), nil
}

// Update changes the row of d identified by id and reconciles its child
// collections: submitted children are created or updated, children the
// payload no longer lists are deleted.
func (e *Engine) Update(ctx context.Context, req Request, d *schema.EntityDescriptor, id any, data AttributeMap) (AttributeMap, error) {
	var row store.Row
	err := e.tx(ctx, req, func(w *writer) error {
		existing, err := lookup(ctx, w.q, d, req, id, true)
		if err != nil {
			return err
		}
		row, err = w.save(ctx, d, data, existing, nil, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ToAttributeMap(d, row, true), nil
}

// parentRef is the already persisted parent of a nested record.
type parentRef struct {
	entity *schema.EntityDescriptor
	row    store.Row
	fk     schema.FieldDescriptor // on the child, pointing at entity
}

type childPayload struct {
	relation.Child
	records []AttributeMap
}

// save persists one record and then its children, depth first. existing is
// nil for a create.
func (w *writer) save(ctx context.Context, d *schema.EntityDescriptor, in AttributeMap, existing store.Row, parent *parentRef, depth int) (store.Row, error) {
	if depth > w.e.maxDepth {
		return nil, fmt.Errorf("%w: %s at depth %d", ErrMaxDepthExceeded, d.Key(), depth)
	}
	creating := existing == nil

	fields, children, err := w.partition(ctx, d, in)
	if err != nil {
		return nil, err
	}
	supplied := make(map[string]bool, len(fields))
	for k := range fields {
		supplied[k] = true
	}

	w.stamp(d, fields, creating)

	skip := func(name string) bool {
		return name == d.PrimaryKey || schema.IsBookkeeping(name) ||
			(parent != nil && name == parent.fk.Name)
	}
	fields, err = ResolveRelations(ctx, w.e.resolver, w.q, d, fields, skip)
	if err != nil {
		return nil, err
	}

	if depth == 0 {
		if err := w.storeFiles(ctx, d, fields); err != nil {
			return nil, err
		}
	}

	if parent != nil {
		fields[parent.fk.Name] = parent.row[parent.fk.RelatedField]
		supplied[parent.fk.Name] = true
	}

	data, err := w.prepare(d, fields, supplied, creating)
	if err != nil {
		return nil, err
	}

	var row store.Row
	if creating {
		row, err = w.q.Insert(ctx, d, data)
		if err != nil {
			return nil, storeError(err)
		}
		w.emit(changefeed.OperationCreate, d, nil, row)
	} else {
		row, err = w.q.Update(ctx, d, existing[d.PrimaryKey], data)
		if err != nil {
			return nil, storeError(err)
		}
		w.emit(changefeed.OperationUpdate, d, existing, row)
	}

	for _, c := range children {
		if err := w.saveChildren(ctx, d, row, c, depth); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// partition splits a payload into declared scalar fields and child
// collections. Lists that do not name a child collection stay attributes;
// undeclared keys are dropped.
func (w *writer) partition(ctx context.Context, d *schema.EntityDescriptor, in AttributeMap) (AttributeMap, []childPayload, error) {
	fields := make(AttributeMap, len(in))
	var children []childPayload
	verr := &ValidationError{}

	for _, k := range slices.Sorted(maps.Keys(in)) {
		v := in[k]
		if list, ok := v.([]any); ok {
			c, isChild, err := relation.Classify(ctx, w.e.resolver, d, k)
			if err != nil {
				return nil, nil, err
			}
			if isChild {
				records := make([]AttributeMap, 0, len(list))
				for _, item := range list {
					rec, ok := item.(map[string]any)
					if !ok {
						verr.add(k, "Expected a list of objects.")
						break
					}
					records = append(records, rec)
				}
				children = append(children, childPayload{Child: c, records: records})
				continue
			}
		}
		if d.HasField(k) {
			fields[k] = v
		}
	}
	if !verr.empty() {
		return nil, nil, verr
	}
	return fields, children, nil
}

// stamp overwrites audit and tenant fields.
func (w *writer) stamp(d *schema.EntityDescriptor, fields map[string]any, creating bool) {
	for _, name := range createStamps {
		delete(fields, name)
	}
	for _, name := range updateStamps {
		delete(fields, name)
	}

	if creating {
		w.stampAudit(d, fields, createStamps)
	}
	w.stampAudit(d, fields, updateStamps)

	if d.TenantScoped() && w.req.Tenant != "" {
		fields[schema.TenantField] = w.req.Tenant
	}
}

// stampUpdate sets the update audit fields of a flat patch.
func (w *writer) stampUpdate(d *schema.EntityDescriptor, fields map[string]any) {
	w.stampAudit(d, fields, updateStamps)
}

func (w *writer) stampAudit(d *schema.EntityDescriptor, fields map[string]any, names []string) {
	for _, name := range names {
		f, ok := d.Field(name)
		if !ok {
			continue
		}
		switch f.Type {
		case schema.TypeDate, schema.TypeDateTime:
			fields[name] = w.now
		default:
			if w.req.Actor == "" {
				continue
			}
			// actor ids that do not fit the column are not stamped
			if v, err := schema.Coerce(f, w.req.Actor); err == nil {
				fields[name] = v
			}
		}
	}
}

// storeFiles writes uploaded files for text fields and substitutes their URL.
func (w *writer) storeFiles(ctx context.Context, d *schema.EntityDescriptor, fields AttributeMap) error {
	if len(w.req.Files) == 0 {
		return nil
	}
	for _, f := range d.TextFields() {
		file, ok := w.req.Files[f.Name]
		if !ok {
			continue
		}
		if w.e.blobs == nil {
			return fmt.Errorf("file uploaded for %s.%s but no blob store is configured", d.Key(), f.Name)
		}
		url, err := w.e.blobs.Store(ctx, file, d.Ref().Path())
		if err != nil {
			return fmt.Errorf("store file %s: %w", f.Name, err)
		}
		fields[f.Name] = url
	}
	return nil
}

// prepare flattens related rows, coerces values and checks required fields.
func (w *writer) prepare(d *schema.EntityDescriptor, fields AttributeMap, supplied map[string]bool, creating bool) (store.Row, error) {
	data := make(store.Row, len(fields))
	verr := &ValidationError{}

	for name, v := range fields {
		f, _ := d.Field(name)
		if f.IsRelation {
			v = relatedID(f, v)
		}
		cv, err := schema.Coerce(f, v)
		if err != nil {
			var ce *schema.CoerceError
			if errors.As(err, &ce) {
				verr.add(name, ce.Message)
				continue
			}
			return nil, err
		}
		data[name] = cv
	}

	for _, f := range d.Fields() {
		if f.PrimaryKey {
			continue
		}
		v, present := data[f.Name]
		switch {
		case present && v == nil && !f.Nullable:
			if supplied[f.Name] {
				verr.add(f.Name, "This field may not be null.")
			} else {
				verr.add(f.Name, "This field is required.")
			}
		case !present && creating && f.Required():
			verr.add(f.Name, "This field is required.")
		}
	}
	if !verr.empty() {
		return nil, verr
	}

	if creating {
		if d.PrimaryKeyField().Blank || data[d.PrimaryKey] == nil {
			delete(data, d.PrimaryKey)
		}
	} else {
		delete(data, d.PrimaryKey)
	}
	return data, nil
}

// saveChildren upserts the records of one child collection under parent and
// deletes the parent's children that were not submitted.
func (w *writer) saveChildren(ctx context.Context, d *schema.EntityDescriptor, parent store.Row, c childPayload, depth int) error {
	child := c.Entity
	ref := &parentRef{entity: d, row: parent, fk: c.ForeignKey}
	touched := make([]any, 0, len(c.records))

	for i, rec := range c.records {
		var existing store.Row
		if id := rec[child.PrimaryKey]; id != nil && id != "" {
			row, err := lookup(ctx, w.q, child, w.req, id, true)
			switch {
			case err == nil:
				existing = row
			case !errors.Is(err, ErrNotFound):
				return err
			}
		}

		row, err := w.save(ctx, child, rec, existing, ref, depth+1)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				return verr.prefixed(fmt.Sprintf("%s.%d.", c.Key, i))
			}
			return err
		}
		touched = append(touched, row[child.PrimaryKey])
	}

	return w.sweep(ctx, child, c.ForeignKey, parent[c.ForeignKey.RelatedField], touched)
}

// sweep deletes the children of parentID that are not in keep. Children with
// the soft-delete flag are flagged instead, and rows already flagged are left
// alone.
func (w *writer) sweep(ctx context.Context, child *schema.EntityDescriptor, fk schema.FieldDescriptor, parentID any, keep []any) error {
	where := filter.All(filter.Eq(fk.Name, parentID), filter.NotIn(child.PrimaryKey, keep))
	if child.SoftDelete() {
		where = filter.All(where, filter.Eq(schema.SoftDeleteField, false))
	}
	orphans, err := w.q.Find(ctx, child, store.Query{Where: where})
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		return nil
	}

	var n int64
	if child.SoftDelete() {
		patch := store.Row{schema.SoftDeleteField: true}
		w.stampUpdate(child, patch)
		n, err = w.q.UpdateWhere(ctx, child, where, patch)
	} else {
		n, err = w.q.DeleteWhere(ctx, child, where)
	}
	if err != nil {
		return storeError(err)
	}
	for _, r := range orphans {
		w.emit(changefeed.OperationDelete, child, r, nil)
	}
	metrics.OrphansDeleted.WithLabelValues(child.Namespace, child.Name).Add(float64(n))
	w.e.logger.Debug("deleted orphaned children",
		zap.String("entity", child.Key()),
		zap.Any("parent", parentID),
		zap.Int64("count", n),
	)
	return nil
}
