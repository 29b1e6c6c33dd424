// Package changefeed fans committed entity mutations out to message brokers.
//
// The CRUD engine hands events to a Manager after each transaction commits.
// The Manager delivers them asynchronously to every configured Connector, so a
// slow or failing broker never blocks or rolls back a request.
package changefeed

import "time"

// Operation is the kind of change an Event carries.
type Operation string

const (
	OperationCreate Operation = "c"
	OperationUpdate Operation = "u"
	OperationDelete Operation = "d"
)

// Event describes one committed row change.
type Event struct {
	Op        Operation      `json:"op"`
	Namespace string         `json:"namespace"`
	Entity    string         `json:"entity"`
	ID        any            `json:"id"`
	Before    map[string]any `json:"before,omitempty"`
	After     map[string]any `json:"after,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Tenant    string         `json:"tenant,omitempty"`
	TsMs      int64          `json:"ts_ms"`
}

// NewEvent stamps an event with the given time.
func NewEvent(op Operation, namespace, entity string, id any, at time.Time) Event {
	return Event{
		Op:        op,
		Namespace: namespace,
		Entity:    entity,
		ID:        id,
		TsMs:      at.UnixMilli(),
	}
}

// Publisher accepts events for delivery. Publish must not block.
type Publisher interface {
	Publish(events ...Event)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(...Event) {}
