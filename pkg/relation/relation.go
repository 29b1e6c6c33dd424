// Package relation decides which list-valued payload keys are child
// collections and which field on the child points back at the parent.
package relation

import (
	"context"
	"errors"
	"strings"

	"github.com/edgeflare/radmin/pkg/schema"
)

// Resolver looks up entity descriptors. *schema.Registry satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, namespace, name string) (*schema.EntityDescriptor, error)
}

// Child is a list-valued payload key confirmed to name a child collection.
type Child struct {
	Key        string
	Entity     *schema.EntityDescriptor
	ForeignKey schema.FieldDescriptor // on Entity, pointing at the parent
}

// ForeignKeyField returns the first field on child whose relation target is
// parent.
func ForeignKeyField(child, parent *schema.EntityDescriptor) (schema.FieldDescriptor, bool) {
	for _, f := range child.Fields() {
		if f.Refers(parent) {
			return f, true
		}
	}
	return schema.FieldDescriptor{}, false
}

// Classify resolves key to a child collection of parent in two steps: the key
// must name a registered entity ("name" within the parent's namespace, or
// "namespace.name"), and that entity must declare a foreign key to parent.
// ok is false when either step fails; the list is then a plain attribute
// value. err is only set for lookup failures other than an unknown entity.
func Classify(ctx context.Context, r Resolver, parent *schema.EntityDescriptor, key string) (Child, bool, error) {
	ns, name := parent.Namespace, key
	if before, after, found := strings.Cut(key, "."); found {
		ns, name = before, after
	}

	child, err := r.Resolve(ctx, ns, name)
	if err != nil {
		if errors.Is(err, schema.ErrUnknownEntity) {
			return Child{}, false, nil
		}
		return Child{}, false, err
	}

	fk, ok := ForeignKeyField(child, parent)
	if !ok {
		return Child{}, false, nil
	}
	return Child{Key: key, Entity: child, ForeignKey: fk}, true, nil
}
