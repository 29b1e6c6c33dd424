// Package crud is the generic admin engine: it lists, filters, creates and
// updates any registered entity, persisting nested child collections in one
// transaction and sweeping children the client dropped.
//
// Every operation takes the entity descriptor resolved by the caller and a
// Request carrying the actor and tenant of the inbound call.
package crud

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/edgeflare/radmin/pkg/blob"
	"github.com/edgeflare/radmin/pkg/changefeed"
	"github.com/edgeflare/radmin/pkg/relation"
	"github.com/edgeflare/radmin/pkg/schema"
	"github.com/edgeflare/radmin/pkg/store"
)

// DefaultMaxDepth bounds the nesting of child collections in one payload.
const DefaultMaxDepth = 32

// AttributeMap is the wire representation of one entity instance. Relation
// fields hold the related identifier.
type AttributeMap = map[string]any

// Request carries per-call context.
type Request struct {
	// Actor is stamped into created_by / updated_by fields.
	Actor string
	// Tenant scopes reads and stamps unit_id on writes when non-empty.
	Tenant string
	// Files are uploaded files keyed by field name. Only top-level text
	// fields consume them.
	Files map[string]blob.File
}

// Engine runs admin operations against a store.
type Engine struct {
	resolver  relation.Resolver
	store     store.Store
	blobs     blob.Store
	publisher changefeed.Publisher
	logger    *zap.Logger
	maxDepth  int
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithBlobStore sets where uploaded files are written.
func WithBlobStore(s blob.Store) Option {
	return func(e *Engine) { e.blobs = s }
}

// WithPublisher sets the receiver of committed change events.
func WithPublisher(p changefeed.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithMaxDepth bounds child collection nesting. Non-positive values keep the default.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithClock overrides the time source used for audit stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an engine resolving related entities through resolver.
func New(resolver relation.Resolver, st store.Store, opts ...Option) *Engine {
	e := &Engine{
		resolver:  resolver,
		store:     st,
		publisher: changefeed.Discard,
		logger:    zap.NewNop(),
		maxDepth:  DefaultMaxDepth,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve looks up an entity descriptor.
func (e *Engine) Resolve(ctx context.Context, namespace, name string) (*schema.EntityDescriptor, error) {
	return e.resolver.Resolve(ctx, namespace, name)
}

// tx runs fn in a store transaction and publishes the events it collected
// once the transaction has committed. The collector is reset on every
// attempt so retried transactions do not publish twice.
func (e *Engine) tx(ctx context.Context, req Request, fn func(w *writer) error) error {
	var w *writer
	err := e.store.InTx(ctx, func(q store.Querier) error {
		w = &writer{e: e, q: q, req: req, now: e.now().UTC()}
		return fn(w)
	})
	if err != nil {
		return err
	}
	if len(w.events) > 0 {
		e.publisher.Publish(w.events...)
	}
	return nil
}

// writer is the per-transaction state of a mutation.
type writer struct {
	e      *Engine
	q      store.Querier
	req    Request
	now    time.Time
	events []changefeed.Event
}

func (w *writer) emit(op changefeed.Operation, d *schema.EntityDescriptor, before, after store.Row) {
	var id any
	switch {
	case after != nil:
		id = after[d.PrimaryKey]
	case before != nil:
		id = before[d.PrimaryKey]
	}
	ev := changefeed.NewEvent(op, d.Namespace, d.Name, id, w.now)
	if before != nil {
		ev.Before = ToAttributeMap(d, before, true)
	}
	if after != nil {
		ev.After = ToAttributeMap(d, after, true)
	}
	ev.Actor = w.req.Actor
	ev.Tenant = w.req.Tenant
	w.events = append(w.events, ev)
}
