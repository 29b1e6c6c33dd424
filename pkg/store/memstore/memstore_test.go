package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/edgeflare/radmin/pkg/filter"
	"github.com/edgeflare/radmin/pkg/schema"
	"github.com/edgeflare/radmin/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtures(t *testing.T) (order, item *schema.EntityDescriptor) {
	t.Helper()
	var err error
	order, err = schema.NewEntity("shop", "order", "", []schema.FieldDescriptor{
		{Name: "id", Type: schema.TypeInteger, Blank: true},
		{Name: "name", Type: schema.TypeText, Unique: true},
		{Name: "note", Type: schema.TypeText, Nullable: true},
		{Name: "is_deleted", Type: schema.TypeBoolean, Blank: true},
	})
	require.NoError(t, err)
	item, err = schema.NewEntity("shop", "items", "", []schema.FieldDescriptor{
		{Name: "id", Type: schema.TypeUUID, Blank: true},
		{Name: "sku", Type: schema.TypeText},
		{Name: "qty", Type: schema.TypeInteger, Blank: true},
		{Name: "order", Type: schema.TypeInteger, IsRelation: true, Related: &schema.EntityRef{Namespace: "shop", Name: "order"}},
	})
	require.NoError(t, err)
	return order, item
}

func TestInsertDefaults(t *testing.T) {
	order, item := fixtures(t)
	s := New(order, item)
	ctx := context.Background()

	o, err := s.Insert(ctx, order, store.Row{"name": "Order1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), o["id"])
	assert.Equal(t, false, o["is_deleted"])
	assert.Nil(t, o["note"])

	o2, err := s.Insert(ctx, order, store.Row{"id": 10, "name": "Order10"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), o2["id"])

	o3, err := s.Insert(ctx, order, store.Row{"name": "Order11"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), o3["id"])

	it, err := s.Insert(ctx, item, store.Row{"sku": "A", "order": "1"})
	require.NoError(t, err)
	assert.Len(t, it["id"], 36)
	assert.Equal(t, int64(0), it["qty"])
	assert.Equal(t, int64(1), it["order"])
}

func TestConstraints(t *testing.T) {
	order, item := fixtures(t)
	s := New(order, item)
	ctx := context.Background()

	o, err := s.Insert(ctx, order, store.Row{"name": "Order1"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, item, store.Row{"sku": "A", "order": o["id"]})
	require.NoError(t, err)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"unique", func() error {
			_, err := s.Insert(ctx, order, store.Row{"name": "Order1"})
			return err
		}, store.ErrUniqueViolation},
		{"missing required", func() error {
			_, err := s.Insert(ctx, order, store.Row{"note": "x"})
			return err
		}, store.ErrNotNullViolation},
		{"explicit null", func() error {
			_, err := s.Insert(ctx, item, store.Row{"sku": nil, "order": o["id"]})
			return err
		}, store.ErrNotNullViolation},
		{"dangling foreign key", func() error {
			_, err := s.Insert(ctx, item, store.Row{"sku": "B", "order": 99})
			return err
		}, store.ErrForeignKeyViolation},
		{"referenced parent", func() error {
			_, err := s.DeleteWhere(ctx, order, filter.Eq("id", o["id"]))
			return err
		}, store.ErrForeignKeyViolation},
		{"update to null", func() error {
			_, err := s.Update(ctx, order, o["id"], store.Row{"name": nil})
			return err
		}, store.ErrNotNullViolation},
		{"update missing", func() error {
			_, err := s.Update(ctx, order, 404, store.Row{"note": "x"})
			return err
		}, store.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.want)
		})
	}

	var ce *store.ConstraintError
	_, err = s.Insert(ctx, order, store.Row{"name": "Order1"})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "name", ce.Column)

	n, err := s.Count(ctx, order, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "failed statements leave no rows")
}

func TestUnknownColumn(t *testing.T) {
	order, _ := fixtures(t)
	_, err := New(order).Insert(context.Background(), order, store.Row{"name": "x", "colour": "red"})
	assert.Error(t, err)
}

func TestCoercionError(t *testing.T) {
	_, item := fixtures(t)
	_, err := New(item).Insert(context.Background(), item, store.Row{"sku": "A", "qty": "lots", "order": 1})
	var ce *schema.CoerceError
	assert.ErrorAs(t, err, &ce)
}

func TestInTxRollback(t *testing.T) {
	order, item := fixtures(t)
	s := New(order, item)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.InTx(ctx, func(q store.Querier) error {
		o, err := q.Insert(ctx, order, store.Row{"name": "Order1"})
		require.NoError(t, err)
		_, err = q.Insert(ctx, item, store.Row{"sku": "A", "order": o["id"]})
		require.NoError(t, err)

		n, err := q.Count(ctx, item, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "writes are visible inside the transaction")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	for _, d := range []*schema.EntityDescriptor{order, item} {
		n, err := s.Count(ctx, d, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	err = s.InTx(ctx, func(q store.Querier) error {
		_, err := q.Insert(ctx, order, store.Row{"name": "Order2"})
		return err
	})
	require.NoError(t, err)
	n, _ := s.Count(ctx, order, nil)
	assert.Equal(t, 1, n)
}

func TestFind(t *testing.T) {
	order, _ := fixtures(t)
	s := New(order)
	ctx := context.Background()

	for _, name := range []string{"c", "a", "d", "b"} {
		_, err := s.Insert(ctx, order, store.Row{"name": name})
		require.NoError(t, err)
	}
	_, err := s.Update(ctx, order, 2, store.Row{"note": "x"})
	require.NoError(t, err)

	names := func(rows []store.Row) []string {
		var out []string
		for _, r := range rows {
			out = append(out, r["name"].(string))
		}
		return out
	}

	rows, err := s.Find(ctx, order, store.Query{Sort: []filter.Sort{{Field: "name"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, names(rows))

	rows, err = s.Find(ctx, order, store.Query{Sort: []filter.Sort{{Field: "name", Desc: true}}, Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, names(rows))

	rows, err = s.Find(ctx, order, store.Query{Sort: []filter.Sort{{Field: "note"}, {Field: "id"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d", "b"}, names(rows), "nulls sort last")

	rows, err = s.Find(ctx, order, store.Query{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, rows)

	n, err := s.UpdateWhere(ctx, order, filter.In("id", []any{int64(1), int64(3)}), store.Row{"is_deleted": true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteWhere(ctx, order, filter.Eq("is_deleted", true))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	row, err := store.Get(ctx, s, order, "2", nil)
	require.NoError(t, err)
	assert.Equal(t, "a", row["name"])

	_, err = store.Get(ctx, s, order, 1, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)

	var seen []string
	err = s.Each(ctx, order, store.Query{Sort: []filter.Sort{{Field: "id"}}}, func(r store.Row) error {
		seen = append(seen, r["name"].(string))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestRowsAreCopies(t *testing.T) {
	order, _ := fixtures(t)
	s := New(order)
	ctx := context.Background()

	row, err := s.Insert(ctx, order, store.Row{"name": "x"})
	require.NoError(t, err)
	row["name"] = "mutated"

	got, err := store.Get(ctx, s, order, row["id"], nil)
	require.NoError(t, err)
	assert.Equal(t, "x", got["name"])
}
