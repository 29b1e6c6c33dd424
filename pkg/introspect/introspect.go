// Package introspect describes registered entities for form builders: their
// fields, relation targets and the catalog of exposed models.
package introspect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edgeflare/radmin/pkg/cache"
	"github.com/edgeflare/radmin/pkg/schema"
)

// Registry resolves and lists entities. *schema.Registry satisfies it.
type Registry interface {
	Resolve(ctx context.Context, namespace, name string) (*schema.EntityDescriptor, error)
	Entities(ctx context.Context) ([]schema.EntityRef, error)
}

// Field is the form descriptor of one field.
type Field struct {
	Name         string            `json:"name"`
	Type         schema.ScalarType `json:"type"`
	IsFK         bool              `json:"is_fk"`
	RelatedModel *string           `json:"related_model"`
	DisplayField *string           `json:"display_field"`
	IsRequired   bool              `json:"is_required"`
}

// Description is the payload of the schema endpoint.
type Description struct {
	AppLabel  string  `json:"app_label"`
	ModelName string  `json:"model_name"`
	Fields    []Field `json:"fields"`
}

// Model names one exposed entity.
type Model struct {
	AppLabel  string `json:"app_label"`
	ModelName string `json:"model_name"`
}

// Describer builds descriptions, optionally caching them.
type Describer struct {
	registry Registry
	cache    cache.Cache
	ttl      time.Duration
	logger   *zap.Logger
}

// Option configures a Describer.
type Option func(*Describer)

// WithCache caches descriptions in c for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(d *Describer) {
		d.cache = c
		d.ttl = ttl
	}
}

// WithLogger sets the logger used to report cache failures.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Describer) { d.logger = logger }
}

// NewDescriber returns a Describer over r.
func NewDescriber(r Registry, opts ...Option) *Describer {
	d := &Describer{registry: r, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Describe lists the fields of namespace/name, omitting bookkeeping fields.
func (d *Describer) Describe(ctx context.Context, namespace, name string) (Description, error) {
	desc, err := d.registry.Resolve(ctx, namespace, name)
	if err != nil {
		return Description{}, err
	}

	key := "describe:" + desc.Key()
	if d.cache != nil {
		var out Description
		hit, err := cache.GetJSON(ctx, d.cache, key, &out)
		if err != nil {
			d.logger.Warn("describe cache read failed", zap.String("key", key), zap.Error(err))
		}
		if hit {
			return out, nil
		}
	}

	out := Description{
		AppLabel:  desc.Namespace,
		ModelName: desc.Name,
		Fields:    []Field{},
	}
	for _, f := range desc.Fields() {
		if schema.IsBookkeeping(f.Name) {
			continue
		}
		field := Field{
			Name:       f.Name,
			Type:       f.Type,
			IsFK:       f.IsRelation,
			IsRequired: f.Required(),
		}
		if f.IsRelation {
			path := f.Related.Path()
			field.RelatedModel = &path
			display, err := d.displayField(ctx, *f.Related)
			if err != nil {
				return Description{}, fmt.Errorf("describe %s.%s: %w", desc.Key(), f.Name, err)
			}
			field.DisplayField = display
		}
		out.Fields = append(out.Fields, field)
	}

	if d.cache != nil {
		if err := cache.SetJSON(ctx, d.cache, key, out, d.ttl); err != nil {
			d.logger.Warn("describe cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}

// displayField suggests the field a UI shows for a related row: "name" when
// declared, else the first field. Targets outside the registry get none.
func (d *Describer) displayField(ctx context.Context, ref schema.EntityRef) (*string, error) {
	target, err := d.registry.Resolve(ctx, ref.Namespace, ref.Name)
	if err != nil {
		if errors.Is(err, schema.ErrUnknownEntity) {
			return nil, nil
		}
		return nil, err
	}
	name := "name"
	if !target.HasField(name) {
		name = target.FieldNames()[0]
	}
	return &name, nil
}

// Models lists every exposed entity.
func (d *Describer) Models(ctx context.Context) ([]Model, error) {
	refs, err := d.registry.Entities(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Model, len(refs))
	for i, ref := range refs {
		out[i] = Model{AppLabel: ref.Namespace, ModelName: ref.Name}
	}
	return out, nil
}
