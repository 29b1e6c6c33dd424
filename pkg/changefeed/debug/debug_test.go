package debug

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/edgeflare/radmin/pkg/changefeed"
)

func TestConnectorLogsEvents(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	c, err := changefeed.NewConnector(changefeed.ConnectorDebug)
	require.NoError(t, err)
	require.NoError(t, c.Connect(nil, zap.New(core)))

	e := changefeed.NewEvent(changefeed.OperationUpdate, "shop", "order", int64(7), time.Now())
	e.After = map[string]any{"name": "Order1"}
	e.Actor = "42"
	require.NoError(t, c.Publish(context.Background(), e))
	require.NoError(t, c.Close())

	entries := logs.FilterMessage("change").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "u", fields["op"])
	assert.Equal(t, "order", fields["entity"])
	assert.Equal(t, "42", fields["actor"])
	assert.JSONEq(t, `{"name":"Order1"}`, fields["after"].(string))
}

func TestConnectorNotConnected(t *testing.T) {
	c := &Connector{}
	err := c.Publish(context.Background(), changefeed.Event{})
	assert.ErrorIs(t, err, changefeed.ErrNotConnected)
}
