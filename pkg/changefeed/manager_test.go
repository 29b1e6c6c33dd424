package changefeed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/edgeflare/radmin/pkg/metrics"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	fail   error
	closed bool
	delay  time.Duration
}

func (r *recorder) Connect(map[string]any, *zap.Logger) error { return nil }

func (r *recorder) Publish(ctx context.Context, e Event) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) received() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestManagerDeliversInOrder(t *testing.T) {
	rec := &recorder{}
	m := NewManager()
	m.Add("rec", rec, nil)
	m.Start(context.Background())

	now := time.Unix(1700000000, 0)
	m.Publish(
		NewEvent(OperationCreate, "shop", "order", int64(1), now),
		NewEvent(OperationUpdate, "shop", "order", int64(1), now),
		NewEvent(OperationDelete, "shop", "order", int64(1), now),
	)
	require.NoError(t, m.Close())

	got := rec.received()
	require.Len(t, got, 3)
	assert.Equal(t, []Operation{OperationCreate, OperationUpdate, OperationDelete},
		[]Operation{got[0].Op, got[1].Op, got[2].Op})
	assert.Equal(t, now.UnixMilli(), got[0].TsMs)
	assert.True(t, rec.closed)
}

func TestManagerDrainsAfterCancel(t *testing.T) {
	rec := &recorder{delay: 2 * time.Millisecond}
	m := NewManager()
	m.Add("slow", rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	for i := range 50 {
		m.Publish(NewEvent(OperationCreate, "shop", "order", i, time.Now()))
	}
	cancel()
	require.NoError(t, m.Close())

	got := rec.received()
	require.Len(t, got, 50)
	assert.Equal(t, 0, got[0].ID)
	assert.Equal(t, 49, got[49].ID)
}

func TestManagerAppliesTransforms(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	all, orders := &recorder{}, &recorder{}
	m := NewManager(WithLogger(zap.New(core)))
	m.Add("all", all, nil)

	onlyOrders, err := Chain([]Transform{
		{Type: TransformFilter, Config: map[string]any{"entities": []any{"shop.order"}, "operations": []any{"c", "u"}}},
		{Type: TransformExtract, Config: map[string]any{"fields": []any{"id", "total"}}},
	})
	require.NoError(t, err)
	m.Add("orders", orders, onlyOrders)

	failing := func(*Event) (*Event, error) { return nil, errors.New("bad event") }
	m.Add("broken", &recorder{}, failing)
	m.Start(context.Background())

	created := NewEvent(OperationCreate, "shop", "order", 1, time.Now())
	created.After = map[string]any{"id": 1, "total": 10, "note": "gift"}
	m.Publish(
		created,
		NewEvent(OperationDelete, "shop", "order", 1, time.Now()),
		NewEvent(OperationCreate, "shop", "customer", 7, time.Now()),
	)
	require.NoError(t, m.Close())

	assert.Len(t, all.received(), 3)
	got := orders.received()
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"id": 1, "total": 10}, got[0].After)
	assert.Equal(t, "gift", all.received()[0].After["note"])
	assert.Equal(t, 3, logs.FilterMessage("changefeed transform failed").Len())
}

func TestManagerPublishErrorIsCounted(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	rec := &recorder{fail: errors.New("broker down")}
	m := NewManager(WithLogger(zap.New(core)))
	m.Add("failing", rec, nil)
	m.Start(context.Background())

	before := testutil.ToFloat64(metrics.ChangefeedPublishErrors.WithLabelValues("failing"))
	m.Publish(NewEvent(OperationCreate, "shop", "order", 1, time.Now()))
	require.NoError(t, m.Close())

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ChangefeedPublishErrors.WithLabelValues("failing")))
	require.Equal(t, 1, logs.FilterMessage("changefeed publish failed").Len())
}

func TestManagerDropsWhenFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rec := &recorder{}
	m := NewManager(WithBuffer(1), WithLogger(zap.New(core)))
	m.Add("rec", rec, nil)

	// not started: the first event fills the buffer
	m.Publish(
		NewEvent(OperationCreate, "shop", "order", 1, time.Now()),
		NewEvent(OperationCreate, "shop", "order", 2, time.Now()),
	)
	assert.Equal(t, 1, logs.FilterMessage("changefeed buffer full, dropping event").Len())

	require.NoError(t, m.Close())
	got := rec.received()
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].ID)
}

func TestManagerWithoutConnectors(t *testing.T) {
	m := NewManager()
	m.Start(context.Background())
	m.Publish(NewEvent(OperationCreate, "shop", "order", 1, time.Now()))
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}

func TestConnectorRegistry(t *testing.T) {
	RegisterConnector("test-recorder", func() Connector { return &recorder{} })

	c, err := NewConnector("test-recorder")
	require.NoError(t, err)
	assert.IsType(t, &recorder{}, c)
	assert.Contains(t, Connectors(), "test-recorder")

	_, err = NewConnector("nope")
	assert.ErrorIs(t, err, ErrUnknownConnector)

	m := NewManager()
	require.NoError(t, m.AddFromConfig("r1", "test-recorder", nil, nil))
	assert.Equal(t, 1, m.Len())
	assert.ErrorIs(t, m.AddFromConfig("r3", "test-recorder", nil, []Transform{{Type: "upper"}}), ErrInvalidTransform)
	assert.Equal(t, 1, m.Len())
	assert.ErrorIs(t, m.AddFromConfig("r2", "nope", nil, nil), ErrUnknownConnector)
}

func TestDecodeConfig(t *testing.T) {
	var cfg struct {
		Servers []string      `mapstructure:"servers"`
		QoS     byte          `mapstructure:"qos"`
		Timeout time.Duration `mapstructure:"timeout"`
		Enabled bool          `mapstructure:"enabled"`
	}
	err := DecodeConfig(map[string]any{
		"servers": []any{"nats://a:4222"},
		"qos":     "1",
		"timeout": "2s",
		"enabled": "true",
	}, &cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"nats://a:4222"}, cfg.Servers)
	assert.Equal(t, byte(1), cfg.QoS)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.True(t, cfg.Enabled)
}
