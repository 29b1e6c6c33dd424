package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// Predefined connector types
const (
	ConnectorDebug = "debug"
	ConnectorHTTP  = "http"
	ConnectorKafka = "kafka"
	ConnectorMQTT  = "mqtt"
	ConnectorNATS  = "nats"
)

var (
	ErrUnknownConnector = errors.New("unknown connector type")
	ErrNotConnected     = errors.New("connector not connected")
)

// A Connector delivers events to one destination.
type Connector interface {
	// Connect initializes the connector from its free-form configuration.
	Connect(config map[string]any, logger *zap.Logger) error
	// Publish sends a single event.
	Publish(ctx context.Context, e Event) error
	Close() error
}

var (
	registryMu sync.RWMutex
	factories  = make(map[string]func() Connector)
)

// RegisterConnector makes a connector type available under name. Connector
// packages call it from init.
func RegisterConnector(name string, factory func() Connector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = factory
}

// NewConnector returns a fresh, unconnected connector of the given type.
func NewConnector(name string) (Connector, error) {
	registryMu.RLock()
	factory, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnector, name)
	}
	return factory(), nil
}

// Connectors lists the registered connector types.
func Connectors() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodeConfig decodes a connector configuration map into out, accepting
// loosely typed values as they come from YAML or environment variables.
func DecodeConfig(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
