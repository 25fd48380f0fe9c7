// Package ops tracks long-running background operations for the admin
// backend: registration, progress, cooperative cancellation, and recovery
// lookups for clients that reload mid-operation.
package ops

import (
	"context"
	"sync"
	"time"
)

// Kind identifies the category of a background operation. It determines which
// metadata shape applies and scopes the idempotency check callers perform
// before starting new work.
type Kind string

// Supported operation kinds.
const (
	KindGameRemoval       Kind = "game_removal"
	KindDataImport        Kind = "data_import"
	KindDepotRebuild      Kind = "depot_rebuild"
	KindLogProcessing     Kind = "log_processing"
	KindServiceLogRemoval Kind = "service_log_removal"
	KindDatabaseReset     Kind = "database_reset"
)

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindGameRemoval, KindDataImport, KindDepotRebuild,
		KindLogProcessing, KindServiceLogRemoval, KindDatabaseReset:
		return true
	}
	return false
}

// Status is the lifecycle state of an operation. Completed, failed, and
// cancelled are absorbing: once reached, no further mutation is meaningful.
type Status string

// Operation statuses.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is one of the absorbing states.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Snapshot is a point-in-time copy of one operation. Snapshots are what the
// registry hands to readers; they stay valid after the registry moves on and
// never alias the live record's metadata.
type Snapshot struct {
	ID              string     `json:"operationId"`
	Kind            Kind       `json:"kind"`
	Name            string     `json:"name"`
	EntityKey       string     `json:"entityKey,omitempty"`
	Status          Status     `json:"status"`
	PercentComplete float64    `json:"percentComplete"`
	Message         string     `json:"message,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	Error           string     `json:"error,omitempty"`
	Metadata        Metadata   `json:"metadata,omitempty"`
}

// Handle is returned from registration and owned by the worker driving the
// operation. Ctx is cancelled when cancellation is requested via the
// registry; the worker observes it at its own checkpoints.
type Handle struct {
	ID        string
	Kind      Kind
	EntityKey string
	Ctx       context.Context
}

// operation is the registry's live record. Each record carries its own mutex
// so high-frequency progress updates on different operations never contend;
// the registry's directory lock is only held for insert/remove/lookup.
type operation struct {
	mu     sync.Mutex
	snap   Snapshot
	cancel context.CancelFunc
}

// snapshot copies the record under its lock, cloning metadata and the
// completion timestamp so callers can't race the owning worker.
func (o *operation) snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap.clone()
}

func (s Snapshot) clone() Snapshot {
	cp := s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	if s.Metadata != nil {
		cp.Metadata = s.Metadata.Clone()
	}
	return cp
}
