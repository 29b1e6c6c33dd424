package schema

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Source loads entity descriptors from an underlying model catalog.
type Source interface {
	// Load returns the descriptor for namespace/name or an error wrapping
	// ErrUnknownEntity.
	Load(ctx context.Context, namespace, name string) (*EntityDescriptor, error)
	// List returns every entity the source can describe.
	List(ctx context.Context) ([]EntityRef, error)
}

// Registry resolves descriptors lazily and caches them per (namespace, name)
// for the lifetime of the process.
type Registry struct {
	source     Source
	namespaces map[string]bool // nil means all namespaces are exposed
	entities   map[string]*EntityDescriptor
	mu         sync.RWMutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithNamespaces restricts the registry to the given namespaces.
func WithNamespaces(namespaces ...string) RegistryOption {
	return func(r *Registry) {
		if len(namespaces) == 0 {
			return
		}
		r.namespaces = make(map[string]bool, len(namespaces))
		for _, ns := range namespaces {
			r.namespaces[strings.ToLower(ns)] = true
		}
	}
}

// NewRegistry returns a registry backed by src.
func NewRegistry(src Source, opts ...RegistryOption) *Registry {
	r := &Registry{
		source:   src,
		entities: make(map[string]*EntityDescriptor),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the descriptor for namespace/name. It fails with
// ErrUnknownEntity when the pair is not registered.
func (r *Registry) Resolve(ctx context.Context, namespace, name string) (*EntityDescriptor, error) {
	k := key(namespace, name)

	r.mu.RLock()
	d, ok := r.entities[k]
	r.mu.RUnlock()
	if ok {
		return d, nil
	}

	if !r.exposed(namespace) || name == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, k)
	}

	d, err := r.source.Load(ctx, strings.ToLower(namespace), strings.ToLower(name))
	if err != nil {
		if errors.Is(err, ErrUnknownEntity) {
			return nil, err
		}
		return nil, fmt.Errorf("load %s: %w", k, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// another request may have won the race; keep the first descriptor
	if existing, ok := r.entities[k]; ok {
		return existing, nil
	}
	r.entities[k] = d
	return d, nil
}

// Entities lists every exposed entity, sorted by namespace and name.
func (r *Registry) Entities(ctx context.Context) ([]EntityRef, error) {
	refs, err := r.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	out := refs[:0:0]
	for _, ref := range refs {
		if r.exposed(ref.Namespace) {
			out = append(out, ref)
		}
	}
	slices.SortFunc(out, func(a, b EntityRef) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return out, nil
}

func (r *Registry) exposed(namespace string) bool {
	if namespace == "" {
		return false
	}
	return r.namespaces == nil || r.namespaces[strings.ToLower(namespace)]
}
