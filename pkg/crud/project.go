package crud

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/edgeflare/radmin/pkg/filter"
	"github.com/edgeflare/radmin/pkg/relation"
	"github.com/edgeflare/radmin/pkg/schema"
	"github.com/edgeflare/radmin/pkg/store"
)

// ToAttributeMap projects a stored row onto the declared fields of d.
// Relation fields hold the related identifier; a resolved related row is
// flattened to its key. The password field is dropped when excludeSensitive.
func ToAttributeMap(d *schema.EntityDescriptor, row store.Row, excludeSensitive bool) AttributeMap {
	m := make(AttributeMap, len(row))
	for _, f := range d.Fields() {
		if excludeSensitive && f.Name == schema.PasswordField {
			continue
		}
		v := row[f.Name]
		if f.IsRelation {
			v = relatedID(f, v)
		}
		m[f.Name] = v
	}
	return m
}

func relatedID(f schema.FieldDescriptor, v any) any {
	switch t := v.(type) {
	case store.Row:
		return t[f.RelatedField]
	case map[string]any:
		return t[f.RelatedField]
	}
	return v
}

// ResolveRelations returns a copy of m in which every relation field of d
// holds the related row, or nil when the field is absent or null. Fields for
// which skip returns true are copied unchanged. An id that matches no row
// fails with a *RelatedNotFoundError. Targets outside the registry are kept
// as coerced ids and left to storage constraints.
func ResolveRelations(ctx context.Context, r relation.Resolver, q store.Querier, d *schema.EntityDescriptor, m AttributeMap, skip func(name string) bool) (AttributeMap, error) {
	out := make(AttributeMap, len(m))
	for k, v := range m {
		out[k] = v
	}

	for _, f := range d.Relations() {
		if skip != nil && skip(f.Name) {
			continue
		}
		v := m[f.Name]
		if v == nil {
			out[f.Name] = nil
			continue
		}
		if row, ok := v.(store.Row); ok {
			out[f.Name] = row
			continue
		}

		target, err := r.Resolve(ctx, f.Related.Namespace, f.Related.Name)
		if errors.Is(err, schema.ErrUnknownEntity) {
			id, err := coerceRelated(f, v, nil)
			if err != nil {
				return nil, err
			}
			out[f.Name] = id
			continue
		}
		if err != nil {
			return nil, err
		}

		id, err := coerceRelated(f, v, target)
		if err != nil {
			return nil, err
		}
		rows, err := q.Find(ctx, target, store.Query{Where: filter.Eq(f.RelatedField, id), Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, &RelatedNotFoundError{Field: f.Name, Entity: target.Key(), ID: v}
		}
		out[f.Name] = rows[0]
	}
	return out, nil
}

// coerceRelated converts a relation id to the type of the referenced field,
// or of the relation field itself when the target is unknown.
func coerceRelated(f schema.FieldDescriptor, v any, target *schema.EntityDescriptor) (any, error) {
	typed := f
	if target != nil {
		if rf, ok := target.Field(f.RelatedField); ok {
			typed = rf
			typed.Name = f.Name
		}
	}
	id, err := schema.Coerce(typed, v)
	if err != nil {
		return nil, storeError(err)
	}
	return id, nil
}

// embed replaces the ids of the named relation fields with the related
// row's attribute map. Unknown and non-relation names are ignored.
func (e *Engine) embed(ctx context.Context, q store.Querier, d *schema.EntityDescriptor, items []AttributeMap, names []string) error {
	for _, name := range names {
		f, ok := d.Field(name)
		if !ok || !f.IsRelation {
			continue
		}
		target, err := e.resolver.Resolve(ctx, f.Related.Namespace, f.Related.Name)
		if errors.Is(err, schema.ErrUnknownEntity) {
			continue
		}
		if err != nil {
			return err
		}

		rf, ok := target.Field(f.RelatedField)
		if !ok {
			continue
		}
		var ids []any
		for _, m := range items {
			if v := m[name]; v != nil && !slices.Contains(ids, v) {
				ids = append(ids, v)
			}
		}
		if len(ids) == 0 {
			continue
		}
		rows, err := q.Find(ctx, target, store.Query{Where: filter.In(rf.Name, ids)})
		if err != nil {
			return fmt.Errorf("embed %s: %w", name, err)
		}
		for _, m := range items {
			v := m[name]
			if v == nil {
				continue
			}
			for _, r := range rows {
				if n, ok := filter.Compare(r[rf.Name], v); ok && n == 0 {
					m[name] = ToAttributeMap(target, r, true)
					break
				}
			}
		}
	}
	return nil
}
