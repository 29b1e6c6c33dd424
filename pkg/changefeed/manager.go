package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edgeflare/radmin/pkg/metrics"
	"go.uber.org/zap"
)

const defaultBuffer = 1024

type sink struct {
	name      string
	conn      Connector
	transform TransformFunc
}

// Manager buffers events and delivers them to every added connector in the
// background.
type Manager struct {
	sinks   []sink
	events  chan Event
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithBuffer sets how many undelivered events are held before new ones are dropped.
func WithBuffer(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.events = make(chan Event, n)
		}
	}
}

// WithPublishTimeout bounds a single connector publish.
func WithPublishTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.timeout = d }
}

// NewManager returns a manager with no connectors.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		events:  make(chan Event, defaultBuffer),
		logger:  zap.NewNop(),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add registers an already connected connector. transform may be nil. It
// must be called before Start.
func (m *Manager) Add(name string, c Connector, transform TransformFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, sink{name: name, conn: c, transform: transform})
}

// AddFromConfig creates a connector of type typ, connects it and adds it with
// its transform chain.
func (m *Manager) AddFromConfig(name, typ string, config map[string]any, transforms []Transform) error {
	transform, err := Chain(transforms)
	if err != nil {
		return fmt.Errorf("changefeed %s: %w", name, err)
	}
	c, err := NewConnector(typ)
	if err != nil {
		return err
	}
	if err := c.Connect(config, m.logger.With(zap.String("connector", name))); err != nil {
		return fmt.Errorf("connect %s (%s): %w", name, typ, err)
	}
	m.Add(name, c, transform)
	m.logger.Info("changefeed connector added",
		zap.String("name", name),
		zap.String("type", typ),
		zap.Int("transforms", len(transforms)),
	)
	return nil
}

// Len returns the number of connectors.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sinks)
}

// Start launches the delivery loop. The loop runs until Close, so events
// buffered when ctx is canceled are still delivered; ctx only carries values
// to each connector publish, which is bounded by the publish timeout.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	ctx = context.WithoutCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for e := range m.events {
			m.deliver(ctx, e)
		}
	}()
}

// Publish implements Publisher. Events are dropped with a warning when the
// buffer is full or the manager is closed.
func (m *Manager) Publish(events ...Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || len(m.sinks) == 0 {
		return
	}
	for _, e := range events {
		select {
		case m.events <- e:
		default:
			m.logger.Warn("changefeed buffer full, dropping event",
				zap.String("namespace", e.Namespace),
				zap.String("entity", e.Entity),
				zap.String("op", string(e.Op)),
			)
		}
	}
}

func (m *Manager) deliver(ctx context.Context, e Event) {
	for _, s := range m.sinks {
		out := &e
		if s.transform != nil {
			var err error
			if out, err = s.transform(&e); err != nil {
				metrics.ChangefeedPublishErrors.WithLabelValues(s.name).Inc()
				m.logger.Error("changefeed transform failed",
					zap.String("connector", s.name),
					zap.String("entity", e.Namespace+"."+e.Entity),
					zap.Error(err),
				)
				continue
			}
			if out == nil {
				continue
			}
		}

		pctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := s.conn.Publish(pctx, *out)
		cancel()
		if err != nil {
			metrics.ChangefeedPublishErrors.WithLabelValues(s.name).Inc()
			m.logger.Error("changefeed publish failed",
				zap.String("connector", s.name),
				zap.String("entity", e.Namespace+"."+e.Entity),
				zap.Error(err),
			)
			continue
		}
		metrics.ChangefeedEvents.WithLabelValues(s.name).Inc()
	}
}

// Close drains buffered events, stops the loop and closes every connector.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.events)
	started := m.started
	m.mu.Unlock()

	if started {
		m.wg.Wait()
	} else {
		for e := range m.events {
			m.deliver(context.Background(), e)
		}
	}

	var errs []error
	for _, s := range m.sinks {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
