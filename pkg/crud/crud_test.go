package crud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflare/radmin/pkg/blob"
	"github.com/edgeflare/radmin/pkg/changefeed"
	"github.com/edgeflare/radmin/pkg/filter"
	"github.com/edgeflare/radmin/pkg/metrics"
	"github.com/edgeflare/radmin/pkg/schema"
	"github.com/edgeflare/radmin/pkg/store"
	"github.com/edgeflare/radmin/pkg/store/memstore"
)

const shopCatalog = `
entities:
  - namespace: shop
    name: customer
    fields:
      - {name: id, type: integer, primaryKey: true, blank: true}
      - {name: name, type: text}
      - {name: email, type: text, unique: true, nullable: true}
      - {name: password, type: text, nullable: true}
  - namespace: shop
    name: order
    fields:
      - {name: id, type: integer, primaryKey: true, blank: true}
      - {name: name, type: text}
      - {name: customer, type: integer, relation: customer, nullable: true}
      - {name: attachment, type: text, nullable: true}
      - {name: created_at, type: datetime, nullable: true}
      - {name: created_by, type: text, nullable: true}
      - {name: updated_at, type: datetime, nullable: true}
      - {name: updated_by, type: text, nullable: true}
  - namespace: shop
    name: items
    fields:
      - {name: id, type: integer, primaryKey: true, blank: true}
      - {name: order, type: integer, relation: order}
      - {name: sku, type: text}
      - {name: qty, type: integer}
      - {name: tags, type: array, nullable: true}
  - namespace: shop
    name: note
    fields:
      - {name: id, type: integer, primaryKey: true, blank: true}
      - {name: body, type: text}
      - {name: is_deleted, type: boolean, blank: true}
      - {name: unit_id, type: text, nullable: true}
      - {name: updated_at, type: datetime, nullable: true}
  - namespace: shop
    name: remark
    fields:
      - {name: id, type: integer, primaryKey: true, blank: true}
      - {name: order, type: integer, relation: order}
      - {name: body, type: text}
      - {name: is_deleted, type: boolean, blank: true}
  - namespace: shop
    name: node
    fields:
      - {name: id, type: integer, primaryKey: true, blank: true}
      - {name: name, type: text}
      - {name: parent, type: integer, relation: node, nullable: true}
`

type recorder struct {
	events []changefeed.Event
}

func (r *recorder) Publish(events ...changefeed.Event) { r.events = append(r.events, events...) }

func (r *recorder) ops() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = string(e.Op) + ":" + e.Entity
	}
	return out
}

type fixture struct {
	engine *Engine
	store  *memstore.Store
	reg    *schema.Registry
	events *recorder
	now    time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	cat, err := schema.LoadCatalog(strings.NewReader(shopCatalog))
	require.NoError(t, err)

	ctx := context.Background()
	refs, err := cat.List(ctx)
	require.NoError(t, err)
	var descs []*schema.EntityDescriptor
	for _, ref := range refs {
		d, err := cat.Load(ctx, ref.Namespace, ref.Name)
		require.NoError(t, err)
		descs = append(descs, d)
	}

	f := &fixture{
		store:  memstore.New(descs...),
		reg:    schema.NewRegistry(cat),
		events: &recorder{},
		now:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	opts = append([]Option{
		WithPublisher(f.events),
		WithClock(func() time.Time { return f.now }),
	}, opts...)
	f.engine = New(f.reg, f.store, opts...)
	return f
}

func (f *fixture) entity(t *testing.T, name string) *schema.EntityDescriptor {
	t.Helper()
	d, err := f.engine.Resolve(context.Background(), "shop", name)
	require.NoError(t, err)
	return d
}

func (f *fixture) rows(t *testing.T, name string, where filter.Predicate) []store.Row {
	t.Helper()
	rows, err := f.store.Find(context.Background(), f.entity(t, name), store.Query{
		Where: where,
		Sort:  []filter.Sort{{Field: "id"}},
	})
	require.NoError(t, err)
	return rows
}

func TestNestedCreateAndUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.entity(t, "order")

	created, err := f.engine.Create(ctx, Request{}, order, AttributeMap{
		"name": "Order1",
		"items": []any{
			map[string]any{"sku": "A", "qty": 2},
			map[string]any{"sku": "B", "qty": 1},
		},
	})
	require.NoError(t, err)
	orderID := created["id"]
	assert.Equal(t, int64(1), orderID)
	assert.NotContains(t, created, "items")

	items := f.rows(t, "items", nil)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, orderID, it["order"])
	}
	assert.Equal(t, []string{"c:order", "c:items", "c:items"}, f.events.ops())

	f.events.events = nil
	orphans := testutil.ToFloat64(metrics.OrphansDeleted.WithLabelValues("shop", "items"))
	updated, err := f.engine.Update(ctx, Request{}, order, orderID, AttributeMap{
		"items": []any{
			map[string]any{"id": items[0]["id"], "sku": "A", "qty": 3},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Order1", updated["name"], "absent scalar fields are kept")

	items = f.rows(t, "items", nil)
	require.Len(t, items, 1)
	assert.Equal(t, "A", items[0]["sku"])
	assert.Equal(t, int64(3), items[0]["qty"])
	assert.Equal(t, []string{"u:order", "u:items", "d:items"}, f.events.ops())
	assert.Equal(t, orphans+1, testutil.ToFloat64(metrics.OrphansDeleted.WithLabelValues("shop", "items")))

	t.Run("resubmitting the same payload deletes nothing", func(t *testing.T) {
		payload := AttributeMap{"items": []any{
			map[string]any{"id": items[0]["id"], "sku": "A", "qty": 3},
		}}
		before := testutil.ToFloat64(metrics.OrphansDeleted.WithLabelValues("shop", "items"))
		for range 2 {
			_, err := f.engine.Update(ctx, Request{}, order, orderID, payload)
			require.NoError(t, err)
		}
		assert.Len(t, f.rows(t, "items", nil), 1)
		assert.Equal(t, before, testutil.ToFloat64(metrics.OrphansDeleted.WithLabelValues("shop", "items")))
	})

	t.Run("empty collection removes every child", func(t *testing.T) {
		_, err := f.engine.Update(ctx, Request{}, order, orderID, AttributeMap{"items": []any{}})
		require.NoError(t, err)
		assert.Empty(t, f.rows(t, "items", nil))
	})

	t.Run("unknown child id is created", func(t *testing.T) {
		_, err := f.engine.Update(ctx, Request{}, order, orderID, AttributeMap{"items": []any{
			map[string]any{"id": 999, "sku": "Z", "qty": 1},
		}})
		require.NoError(t, err)
		rows := f.rows(t, "items", nil)
		require.Len(t, rows, 1)
		assert.Equal(t, "Z", rows[0]["sku"])
	})
}

func TestNestedSweepSoftDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.entity(t, "order")
	remark := f.entity(t, "remark")

	created, err := f.engine.Create(ctx, Request{}, order, AttributeMap{
		"name": "Order1",
		"remark": []any{
			map[string]any{"body": "keep"},
			map[string]any{"body": "drop"},
		},
	})
	require.NoError(t, err)
	orderID := created["id"]
	remarks := f.rows(t, "remark", nil)
	require.Len(t, remarks, 2)

	f.events.events = nil
	orphans := testutil.ToFloat64(metrics.OrphansDeleted.WithLabelValues("shop", "remark"))
	_, err = f.engine.Update(ctx, Request{}, order, orderID, AttributeMap{
		"remark": []any{map[string]any{"id": remarks[0]["id"], "body": "keep"}},
	})
	require.NoError(t, err)

	rows := f.rows(t, "remark", nil)
	require.Len(t, rows, 2, "swept children stay in storage")
	assert.Equal(t, false, rows[0]["is_deleted"])
	assert.Equal(t, true, rows[1]["is_deleted"])
	assert.Equal(t, []string{"u:order", "u:remark", "d:remark"}, f.events.ops())
	assert.Equal(t, orphans+1, testutil.ToFloat64(metrics.OrphansDeleted.WithLabelValues("shop", "remark")))

	page, err := f.engine.List(ctx, Request{}, remark, filter.Params{Range: filter.DefaultRange})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	t.Run("already flagged rows are not swept again", func(t *testing.T) {
		f.events.events = nil
		_, err := f.engine.Update(ctx, Request{}, order, orderID, AttributeMap{"remark": []any{}})
		require.NoError(t, err)
		assert.Equal(t, []string{"u:order", "d:remark"}, f.events.ops())
		assert.Equal(t, orphans+2, testutil.ToFloat64(metrics.OrphansDeleted.WithLabelValues("shop", "remark")))
		for _, r := range f.rows(t, "remark", nil) {
			assert.Equal(t, true, r["is_deleted"])
		}
	})
}

func TestNestedFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.entity(t, "order")

	_, err := f.engine.Create(ctx, Request{}, order, AttributeMap{
		"name": "Order1",
		"items": []any{
			map[string]any{"sku": "A", "qty": 2},
			map[string]any{"sku": "B", "qty": "many"},
		},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"A valid integer is required."}, verr.Errors["items.1.qty"])

	assert.Empty(t, f.rows(t, "order", nil))
	assert.Empty(t, f.rows(t, "items", nil))
	assert.Empty(t, f.events.events, "nothing is published for a rolled back transaction")

	_, err = f.engine.Create(ctx, Request{}, order, AttributeMap{
		"name":  "Order1",
		"items": []any{"not-a-record"},
	})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Errors, "items")
}

func TestListValuedAttribute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.engine.Create(ctx, Request{}, f.entity(t, "order"), AttributeMap{"name": "Order1"})
	require.NoError(t, err)

	// "tags" names no entity, so the list is stored as the field value
	it, err := f.engine.Create(ctx, Request{}, f.entity(t, "items"), AttributeMap{
		"order": order["id"], "sku": "A", "qty": 1, "tags": []any{"red", "blue"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"red", "blue"}, it["tags"])
}

func TestMaxDepth(t *testing.T) {
	payload := AttributeMap{
		"name": "root",
		"node": []any{map[string]any{
			"name": "child",
			"node": []any{map[string]any{"name": "grandchild"}},
		}},
	}

	t.Run("within bound", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Create(context.Background(), Request{}, f.entity(t, "node"), payload)
		require.NoError(t, err)
		nodes := f.rows(t, "node", nil)
		require.Len(t, nodes, 3)
		assert.Nil(t, nodes[0]["parent"])
		assert.Equal(t, nodes[0]["id"], nodes[1]["parent"])
		assert.Equal(t, nodes[1]["id"], nodes[2]["parent"])
	})

	t.Run("exceeded", func(t *testing.T) {
		f := newFixture(t, WithMaxDepth(1))
		_, err := f.engine.Create(context.Background(), Request{}, f.entity(t, "node"), payload)
		require.ErrorIs(t, err, ErrMaxDepthExceeded)
		assert.Empty(t, f.rows(t, "node", nil))
	})
}

func TestRelations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.entity(t, "customer")
	order := f.entity(t, "order")

	c, err := f.engine.Create(ctx, Request{}, customer, AttributeMap{"name": "Jane", "password": "s3cret"})
	require.NoError(t, err)
	assert.NotContains(t, c, "password")

	o, err := f.engine.Create(ctx, Request{}, order, AttributeMap{"name": "Order1", "customer": c["id"]})
	require.NoError(t, err)
	assert.Equal(t, c["id"], o["customer"])

	t.Run("missing related object", func(t *testing.T) {
		_, err := f.engine.Create(ctx, Request{}, order, AttributeMap{"name": "Order2", "customer": 42})
		var rnf *RelatedNotFoundError
		require.ErrorAs(t, err, &rnf)
		assert.Equal(t, "customer", rnf.Field)
		assert.ErrorIs(t, err, ErrRelatedNotFound)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("embed", func(t *testing.T) {
		got, err := f.engine.Retrieve(ctx, Request{}, order, o["id"], []string{"customer", "name", "nope"})
		require.NoError(t, err)
		embedded, ok := got["customer"].(AttributeMap)
		require.True(t, ok)
		assert.Equal(t, "Jane", embedded["name"])
		assert.NotContains(t, embedded, "password")
	})

	t.Run("omitted relation is cleared", func(t *testing.T) {
		got, err := f.engine.Update(ctx, Request{}, order, o["id"], AttributeMap{"name": "Order1b"})
		require.NoError(t, err)
		assert.Nil(t, got["customer"])
	})

	t.Run("resolve and project round trip", func(t *testing.T) {
		m := AttributeMap{"id": o["id"], "name": "x", "customer": c["id"]}
		resolved, err := ResolveRelations(ctx, f.reg, f.store, order, m, nil)
		require.NoError(t, err)
		row, ok := resolved["customer"].(store.Row)
		require.True(t, ok)
		assert.Equal(t, "Jane", row["name"])

		back := ToAttributeMap(order, store.Row(resolved), true)
		assert.Equal(t, c["id"], back["customer"])
		assert.Equal(t, "x", back["name"])
	})

	t.Run("non-nullable relation", func(t *testing.T) {
		_, err := f.engine.Create(ctx, Request{}, f.entity(t, "items"), AttributeMap{"sku": "A", "qty": 1})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{"This field is required."}, verr.Errors["order"])
	})
}

func TestAuditStamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.entity(t, "order")
	created := f.now

	o, err := f.engine.Create(ctx, Request{Actor: "alice"}, order, AttributeMap{
		"name":       "Order1",
		"created_at": "2000-01-01T00:00:00Z",
		"created_by": "mallory",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", o["created_by"])
	assert.Equal(t, "alice", o["updated_by"])
	assert.True(t, created.Equal(o["created_at"].(time.Time)))

	f.now = f.now.Add(time.Hour)
	o, err = f.engine.Update(ctx, Request{Actor: "bob"}, order, o["id"], AttributeMap{"name": "Order1b"})
	require.NoError(t, err)
	assert.Equal(t, "alice", o["created_by"])
	assert.Equal(t, "bob", o["updated_by"])
	assert.True(t, created.Equal(o["created_at"].(time.Time)))
	assert.True(t, f.now.Equal(o["updated_at"].(time.Time)))

	require.NotEmpty(t, f.events.events)
	last := f.events.events[len(f.events.events)-1]
	assert.Equal(t, "bob", last.Actor)
	assert.Equal(t, changefeed.OperationUpdate, last.Op)
}

func TestSoftDeleteAndTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	note := f.entity(t, "note")
	t1 := Request{Tenant: "t1"}
	t2 := Request{Tenant: "t2"}

	a, err := f.engine.Create(ctx, t1, note, AttributeMap{"body": "first", "unit_id": "t2"})
	require.NoError(t, err)
	assert.Equal(t, "t1", a["unit_id"], "tenant comes from the request")
	b, err := f.engine.Create(ctx, t2, note, AttributeMap{"body": "second"})
	require.NoError(t, err)

	page, err := f.engine.List(ctx, t1, note, filter.Params{Range: filter.DefaultRange})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = f.engine.Retrieve(ctx, t1, note, b["id"], nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.engine.Update(ctx, t1, note, b["id"], AttributeMap{"body": "stolen"})
	assert.ErrorIs(t, err, ErrNotFound)

	gone, err := f.engine.Destroy(ctx, t1, note, a["id"])
	require.NoError(t, err)
	assert.Equal(t, "first", gone["body"])

	rows := f.rows(t, "note", filter.Eq("id", a["id"]))
	require.Len(t, rows, 1, "soft deleted rows stay in storage")
	assert.Equal(t, true, rows[0]["is_deleted"])

	_, err = f.engine.Retrieve(ctx, t1, note, a["id"], nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.engine.Destroy(ctx, t1, note, a["id"])
	assert.ErrorIs(t, err, ErrNotFound)

	page, err = f.engine.List(ctx, Request{}, note, filter.Params{Range: filter.DefaultRange})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total, "without a tenant only soft deletes are hidden")
}

func TestHardDestroy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.entity(t, "customer")

	c, err := f.engine.Create(ctx, Request{}, customer, AttributeMap{"name": "Jane"})
	require.NoError(t, err)
	_, err = f.engine.Destroy(ctx, Request{}, customer, c["id"])
	require.NoError(t, err)
	assert.Empty(t, f.rows(t, "customer", nil))

	_, err = f.engine.Destroy(ctx, Request{}, customer, "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	note := f.entity(t, "note")

	batch := make([]AttributeMap, 25)
	for i := range batch {
		batch[i] = AttributeMap{"body": "n"}
	}
	_, err := f.engine.CreateMany(ctx, Request{}, note, batch)
	require.NoError(t, err)

	tests := []struct {
		name       string
		rng        filter.Range
		items      int
		start, end int
	}{
		{"first page", filter.Range{Start: 0, End: 9}, 10, 0, 9},
		{"last partial page", filter.Range{Start: 20, End: 29}, 5, 20, 24},
		{"past the end", filter.Range{Start: 30, End: 39}, 0, 30, 29},
		{"inverted", filter.Range{Start: 5, End: 2}, 0, 5, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := f.engine.List(ctx, Request{}, note, filter.Params{Range: tt.rng})
			require.NoError(t, err)
			assert.Len(t, page.Items, tt.items)
			assert.Equal(t, 25, page.Total)
			assert.Equal(t, tt.start, page.Start)
			assert.Equal(t, tt.end, page.End)
		})
	}

	page, err := f.engine.List(ctx, Request{}, note, filter.Params{
		Sort:  filter.Sort{Field: "id", Desc: true},
		Range: filter.Range{Start: 0, End: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(25), page.Items[0]["id"])
	assert.Equal(t, int64(24), page.Items[1]["id"])
}

func TestListFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.entity(t, "customer")

	_, err := f.engine.CreateMany(ctx, Request{}, customer, []AttributeMap{
		{"name": "John Smith", "email": "john@example.com"},
		{"name": "Jane Doe", "email": "jane@smith.io"},
		{"name": "Bob Stone", "email": "bob@example.com"},
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		filter  filter.Expression
		names   []string
		wantErr error
	}{
		{"equality", filter.Expression{"name": "Jane Doe"}, []string{"Jane Doe"}, nil},
		{"single element list", filter.Expression{"id": []any{2}}, []string{"Jane Doe"}, nil},
		{"greater than", filter.Expression{"id|op=>": 1}, []string{"Jane Doe", "Bob Stone"}, nil},
		{"like", filter.Expression{"name|op=like": "sto"}, []string{"Bob Stone"}, nil},
		{"search across text fields", filter.Expression{"q": "smith"}, []string{"John Smith", "Jane Doe"}, nil},
		{"unknown operator is ignored", filter.Expression{"id|op=~": 1}, []string{"John Smith", "Jane Doe", "Bob Stone"}, nil},
		{"multi element list", filter.Expression{"id": []any{1, 2}}, nil, ErrInvalidFilterValue},
		{"unknown field", filter.Expression{"nope": 1}, nil, ErrInvalidFilterValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := f.engine.List(ctx, Request{}, customer, filter.Params{Filter: tt.filter, Range: filter.DefaultRange})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			var names []string
			for _, it := range page.Items {
				names = append(names, it["name"].(string))
			}
			assert.Equal(t, tt.names, names)
			assert.Equal(t, len(tt.names), page.Total)
		})
	}
}

func TestBulkOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	note := f.entity(t, "note")

	created, err := f.engine.CreateMany(ctx, Request{}, note, []AttributeMap{
		{"body": "a"}, {"body": "b"}, {"body": "c"},
	})
	require.NoError(t, err)
	require.Len(t, created, 3)

	got, err := f.engine.GetMany(ctx, Request{}, note, []any{3, "1", 99}, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0]["id"])
	assert.Equal(t, int64(3), got[1]["id"])

	ids, err := f.engine.UpdateMany(ctx, Request{}, note, []any{1, 2}, AttributeMap{"body": "z", "bogus": 1})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, ids)
	rows := f.rows(t, "note", nil)
	assert.Equal(t, "z", rows[0]["body"])
	assert.Equal(t, "z", rows[1]["body"])
	assert.Equal(t, "c", rows[2]["body"])

	ids, err = f.engine.DeleteMany(ctx, Request{}, note, []any{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []any{2, 3}, ids)
	page, err := f.engine.List(ctx, Request{}, note, filter.Params{Range: filter.DefaultRange})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = f.engine.UpdateMany(ctx, Request{}, note, []any{"x"}, AttributeMap{"body": "z"})
	assert.ErrorIs(t, err, ErrInvalidFilterValue)
	_, err = f.engine.DeleteMany(ctx, Request{}, note, []any{"x"})
	assert.ErrorIs(t, err, ErrInvalidFilterValue)

	ids, err = f.engine.DeleteMany(ctx, Request{}, note, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCreateManyValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items := f.entity(t, "items")

	_, err := f.engine.CreateMany(ctx, Request{}, items, []AttributeMap{
		{"order": 1, "sku": "A", "qty": 1},
		{"order": 1, "sku": "B"},
		{"order": 1, "sku": "C", "qty": "x"},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"This field is required."}, verr.Errors["1.qty"])
	assert.Equal(t, []string{"A valid integer is required."}, verr.Errors["2.qty"])
	assert.NotContains(t, verr.Errors, "0.qty")
	assert.Empty(t, f.rows(t, "items", nil))
}

func TestUniqueViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.entity(t, "customer")

	_, err := f.engine.Create(ctx, Request{}, customer, AttributeMap{"name": "A", "email": "a@example.com"})
	require.NoError(t, err)
	_, err = f.engine.Create(ctx, Request{}, customer, AttributeMap{"name": "B", "email": "a@example.com"})

	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "A record with this email already exists.", ierr.Message)
	assert.ErrorIs(t, err, store.ErrUniqueViolation)
}

func TestExportImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.entity(t, "customer")

	n, err := f.engine.Import(ctx, Request{}, customer, strings.NewReader(
		"\ufeffname,email,password\nJohn Smith,john@example.com,hunter2\nJane,,\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var buf bytes.Buffer
	require.NoError(t, f.engine.Export(ctx, Request{}, customer, nil, &buf))
	assert.Equal(t, "id,name,email\n1,John Smith,john@example.com\n2,Jane,\n", buf.String())
	assert.Equal(t, "customer.csv", ExportFilename(customer))

	t.Run("export applies the filter", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, f.engine.Export(ctx, Request{}, customer, filter.Expression{"q": "smith"}, &buf))
		assert.Equal(t, "id,name,email\n1,John Smith,john@example.com\n", buf.String())

		buf.Reset()
		err := f.engine.Export(ctx, Request{}, customer, filter.Expression{"shoe_size": 42}, &buf)
		assert.ErrorIs(t, err, ErrInvalidFilterValue)
		assert.Zero(t, buf.Len(), "nothing is written for a bad filter")
	})

	t.Run("export hides soft deleted rows", func(t *testing.T) {
		note := f.entity(t, "note")
		a, err := f.engine.Create(ctx, Request{}, note, AttributeMap{"body": "gone"})
		require.NoError(t, err)
		_, err = f.engine.Create(ctx, Request{}, note, AttributeMap{"body": "kept"})
		require.NoError(t, err)
		_, err = f.engine.Destroy(ctx, Request{}, note, a["id"])
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, f.engine.Export(ctx, Request{}, note, filter.Expression{}, &buf))
		assert.NotContains(t, buf.String(), "gone")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("import spanning several batches", func(t *testing.T) {
		var in strings.Builder
		in.WriteString("sku,qty,order\n")
		o, err := f.engine.Create(ctx, Request{}, f.entity(t, "order"), AttributeMap{"name": "Bulk"})
		require.NoError(t, err)
		total := 2*importBatch + 7
		for i := range total {
			fmt.Fprintf(&in, "S%d,%d,%v\n", i, i, o["id"])
		}
		f.events.events = nil
		n, err := f.engine.Import(ctx, Request{}, f.entity(t, "items"), strings.NewReader(in.String()))
		require.NoError(t, err)
		assert.Equal(t, total, n)
		assert.Len(t, f.rows(t, "items", filter.Eq("order", o["id"])), total)
		assert.Len(t, f.events.events, total)
	})

	t.Run("no file", func(t *testing.T) {
		_, err := f.engine.Import(ctx, Request{}, customer, nil)
		assert.ErrorIs(t, err, ErrNoFileUploaded)
	})

	t.Run("unknown column", func(t *testing.T) {
		_, err := f.engine.Import(ctx, Request{}, customer, strings.NewReader("name,shoe_size\nA,42\n"))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Errors, "shoe_size")
	})

	t.Run("row errors are keyed by line", func(t *testing.T) {
		o, err := f.engine.Create(ctx, Request{}, f.entity(t, "order"), AttributeMap{"name": "Order1"})
		require.NoError(t, err)
		_, err = f.engine.Import(ctx, Request{}, f.entity(t, "items"), strings.NewReader(
			"order,sku,qty\n1,A,1\n1,B,lots\n"))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{"A valid integer is required."}, verr.Errors["2.qty"])
		assert.Empty(t, f.rows(t, "items", filter.Eq("order", o["id"])))
	})

	t.Run("empty document", func(t *testing.T) {
		n, err := f.engine.Import(ctx, Request{}, customer, strings.NewReader(""))
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestUploadedFile(t *testing.T) {
	root := t.TempDir()
	f := newFixture(t, WithBlobStore(blob.NewLocalStore(root, "/media")))
	ctx := context.Background()
	order := f.entity(t, "order")

	req := Request{Files: map[string]blob.File{
		"attachment": {Name: "invoice.pdf", Content: strings.NewReader("%PDF-1.7")},
	}}
	o, err := f.engine.Create(ctx, req, order, AttributeMap{"name": "Order1", "attachment": "ignored"})
	require.NoError(t, err)

	url, ok := o["attachment"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(url, "/media/shop/order/"), url)
	assert.True(t, strings.HasSuffix(url, "-invoice.pdf"), url)

	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(url, "/media/"))))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(content))

	t.Run("without a blob store", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Create(ctx, Request{Files: map[string]blob.File{
			"attachment": {Name: "a.txt", Content: strings.NewReader("x")},
		}}, f.entity(t, "order"), AttributeMap{"name": "Order1"})
		assert.Error(t, err)
	})
}

func TestStoreError(t *testing.T) {
	plain := errors.New("boom")
	assert.Equal(t, plain, storeError(plain))
	assert.Nil(t, storeError(nil))

	err := storeError(&store.ConstraintError{Kind: store.ErrNotNullViolation, Column: "name"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"This field may not be null."}, verr.Errors["name"])

	err = storeError(&store.ConstraintError{Kind: store.ErrForeignKeyViolation, Column: "order", Detail: "Key (order)=(7) is not present"})
	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "Key (order)=(7) is not present", ierr.Message)
	assert.ErrorIs(t, err, store.ErrForeignKeyViolation)
}
