package pgstore

import (
	"context"
	"errors"
	"testing"

	"github.com/edgeflare/radmin/internal/testutil/pgtest"
	"github.com/edgeflare/radmin/pkg/filter"
	"github.com/edgeflare/radmin/pkg/schema"
	"github.com/edgeflare/radmin/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	conn := pgtest.Connect(ctx, t)
	ns := pgtest.Schema(ctx, t, conn, `
		CREATE TABLE {{schema}}."order" (
			id bigserial PRIMARY KEY,
			name text NOT NULL UNIQUE,
			total numeric(10,2),
			is_deleted boolean NOT NULL DEFAULT false
		);
		CREATE TABLE {{schema}}.items (
			id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			sku text NOT NULL,
			qty integer NOT NULL DEFAULT 1,
			"order" bigint NOT NULL REFERENCES {{schema}}."order"(id)
		);`)

	reg := schema.NewRegistry(schema.NewPostgresSource(conn))
	order, err := reg.Resolve(ctx, ns, "order")
	require.NoError(t, err)
	items, err := reg.Resolve(ctx, ns, "items")
	require.NoError(t, err)

	s := New(conn)

	o, err := s.Insert(ctx, order, store.Row{"name": "Order1", "total": 9.5})
	require.NoError(t, err)
	assert.Equal(t, int64(1), o["id"])
	assert.Equal(t, 9.5, o["total"])
	assert.Equal(t, false, o["is_deleted"])

	created, err := s.InsertMany(ctx, items, []store.Row{
		{"sku": "A", "qty": int64(2), "order": o["id"]},
		{"sku": "B", "order": o["id"]},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.IsType(t, "", created[0]["id"])
	assert.Equal(t, int64(1), created[1]["qty"])

	_, err = s.Insert(ctx, order, store.Row{"name": "Order1"})
	assert.ErrorIs(t, err, store.ErrUniqueViolation)

	_, err = s.Insert(ctx, items, store.Row{"sku": "C", "order": int64(99)})
	assert.ErrorIs(t, err, store.ErrForeignKeyViolation)

	rows, err := s.Find(ctx, items, store.Query{
		Where: filter.Or{filter.Cmp{Field: "sku", Op: filter.OpILike, Value: "a"}},
		Sort:  []filter.Sort{{Field: "sku"}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0]["sku"])

	row, err := store.Get(ctx, s, items, created[0]["id"], nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), row["qty"])

	updated, err := s.Update(ctx, items, created[0]["id"], store.Row{"qty": int64(3)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated["qty"])

	_, err = s.Update(ctx, order, int64(404), store.Row{"name": "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	t.Run("transaction rolls back", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.InTx(ctx, func(q store.Querier) error {
			_, err := q.DeleteWhere(ctx, items, nil)
			require.NoError(t, err)
			return boom
		})
		assert.ErrorIs(t, err, boom)

		n, err := s.Count(ctx, items, filter.Eq("order", o["id"]))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("orphan delete inside a transaction", func(t *testing.T) {
		err := s.InTx(ctx, func(q store.Querier) error {
			_, err := q.Find(ctx, order, store.Query{Where: filter.Eq("id", o["id"]), ForUpdate: true})
			if err != nil {
				return err
			}
			_, err = q.DeleteWhere(ctx, items, filter.All(filter.Eq("order", o["id"]), filter.NotIn("id", []any{created[0]["id"]})))
			return err
		})
		require.NoError(t, err)

		n, err := s.Count(ctx, items, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("soft delete flag", func(t *testing.T) {
		n, err := s.UpdateWhere(ctx, order, filter.Eq("id", o["id"]), store.Row{"is_deleted": true})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		count, err := s.Count(ctx, order, filter.Eq("is_deleted", false))
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}
