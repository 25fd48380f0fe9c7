// Package events fans operation lifecycle notifications out to subscribers.
// Delivery is best-effort: the operation registry stays the source of truth
// and a client that misses an event recovers by polling it.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/lancachetools/cacheops/internal/ops"
)

// Type names the lifecycle milestone an Event represents.
type Type string

// Supported event types.
const (
	TypeStarted   Type = "started"
	TypeProgress  Type = "progress"
	TypeCompleted Type = "completed"
)

// Event is one push notification about an operation. The JSON form is the
// wire contract for connected clients.
type Event struct {
	Type            Type         `json:"event"`
	OperationID     string       `json:"operationId"`
	Kind            ops.Kind     `json:"kind"`
	Name            string       `json:"name,omitempty"`
	EntityKey       string       `json:"entityKey,omitempty"`
	PercentComplete float64      `json:"percentComplete"`
	Message         string       `json:"message,omitempty"`
	Success         *bool        `json:"success,omitempty"`
	TS              time.Time    `json:"ts"`
	Metadata        ops.Metadata `json:"metadata,omitempty"`
}

// Validate performs coarse validation before an Event enters the hub.
func (e Event) Validate() error {
	if e.OperationID == "" {
		return errors.New("operation id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case TypeStarted, TypeProgress:
	case TypeCompleted:
		if e.Success == nil {
			return errors.New("completed event requires success flag")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// FromSnapshot builds the event for one lifecycle milestone out of a registry
// snapshot.
func FromSnapshot(typ Type, snap ops.Snapshot) Event {
	evt := Event{
		Type:            typ,
		OperationID:     snap.ID,
		Kind:            snap.Kind,
		Name:            snap.Name,
		EntityKey:       snap.EntityKey,
		PercentComplete: snap.PercentComplete,
		Message:         snap.Message,
		TS:              time.Now().UTC(),
		Metadata:        snap.Metadata,
	}
	if typ == TypeCompleted {
		success := snap.Status == ops.StatusCompleted
		evt.Success = &success
		if snap.Status == ops.StatusFailed {
			evt.Message = snap.Error
		}
	}
	return evt
}
