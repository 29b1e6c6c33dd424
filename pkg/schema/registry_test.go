package schema

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	*Catalog
	loads atomic.Int32
	err   error
}

func (s *countingSource) Load(ctx context.Context, ns, name string) (*EntityDescriptor, error) {
	s.loads.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.Catalog.Load(ctx, ns, name)
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	order, err := NewEntity("shop", "order", "", []FieldDescriptor{{Name: "id", Type: TypeInteger}})
	require.NoError(t, err)
	user, err := NewEntity("auth", "user", "", []FieldDescriptor{{Name: "id", Type: TypeInteger}})
	require.NoError(t, err)
	return NewCatalog(order, user)
}

func TestRegistryResolve(t *testing.T) {
	src := &countingSource{Catalog: testCatalog(t)}
	reg := NewRegistry(src)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := reg.Resolve(ctx, "Shop", "ORDER")
			assert.NoError(t, err)
			assert.Equal(t, "shop.order", d.Key())
		}()
	}
	wg.Wait()

	first, err := reg.Resolve(ctx, "shop", "order")
	require.NoError(t, err)
	second, err := reg.Resolve(ctx, "shop", "order")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.LessOrEqual(t, src.loads.Load(), int32(8))

	_, err = reg.Resolve(ctx, "shop", "missing")
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestRegistryNamespaces(t *testing.T) {
	reg := NewRegistry(testCatalog(t), WithNamespaces("shop"))
	ctx := context.Background()

	_, err := reg.Resolve(ctx, "auth", "user")
	assert.ErrorIs(t, err, ErrUnknownEntity)

	refs, err := reg.Entities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []EntityRef{{Namespace: "shop", Name: "order"}}, refs)
}

func TestRegistryEntitiesSorted(t *testing.T) {
	refs, err := NewRegistry(testCatalog(t)).Entities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []EntityRef{{Namespace: "auth", Name: "user"}, {Namespace: "shop", Name: "order"}}, refs)
}

func TestRegistrySourceErrorNotCached(t *testing.T) {
	src := &countingSource{Catalog: testCatalog(t), err: errors.New("connection refused")}
	reg := NewRegistry(src)

	_, err := reg.Resolve(context.Background(), "shop", "order")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownEntity)

	src.err = nil
	d, err := reg.Resolve(context.Background(), "shop", "order")
	require.NoError(t, err)
	assert.Equal(t, "order", d.Name)
}
