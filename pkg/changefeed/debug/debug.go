// Package debug provides a changefeed connector that logs every event.
package debug

import (
	"context"
	"encoding/json"

	"github.com/edgeflare/radmin/pkg/changefeed"
	"go.uber.org/zap"
)

// Connector writes events to the logger it was connected with.
type Connector struct {
	logger *zap.Logger
}

// Connect implements changefeed.Connector. The configuration is ignored.
func (c *Connector) Connect(_ map[string]any, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.logger = logger
	return nil
}

// Publish implements changefeed.Connector.
func (c *Connector) Publish(_ context.Context, e changefeed.Event) error {
	if c.logger == nil {
		return changefeed.ErrNotConnected
	}
	after, err := json.Marshal(e.After)
	if err != nil {
		return err
	}
	c.logger.Info("change",
		zap.String("op", string(e.Op)),
		zap.String("namespace", e.Namespace),
		zap.String("entity", e.Entity),
		zap.Any("id", e.ID),
		zap.String("actor", e.Actor),
		zap.ByteString("after", after),
	)
	return nil
}

// Close implements changefeed.Connector.
func (c *Connector) Close() error { return nil }

func init() {
	changefeed.RegisterConnector(changefeed.ConnectorDebug, func() changefeed.Connector { return &Connector{} })
}
