// Package store declares the narrow database surface the operation workers
// depend on. The schema itself is created and migrated by the main web
// backend; this side only reads display data and performs bulk resets.
package store

import (
	"context"
	"errors"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("catalog record not found")

// DepotMapping links one Steam depot to its owning app.
type DepotMapping struct {
	DepotID uint32
	AppID   uint32
	AppName string
}

// Catalog exposes the lookups and destructive resets workers need.
type Catalog interface {
	// GameName resolves the display name for a Steam app or returns
	// ErrNotFound when no depot mapping knows it.
	GameName(ctx context.Context, appID uint32) (string, error)
	// DepotMappings lists every known depot-to-app mapping.
	DepotMappings(ctx context.Context) ([]DepotMapping, error)
	// LogEntryCount counts access-log rows, optionally filtered to one
	// service (empty string means all).
	LogEntryCount(ctx context.Context, service string) (int64, error)
	// DeleteLogEntries removes access-log rows for one service and reports
	// how many went away.
	DeleteLogEntries(ctx context.Context, service string) (int64, error)
	// ResetTables truncates the operational tables one by one, calling
	// progress after each table.
	ResetTables(ctx context.Context, progress func(table string, done, total int)) error
	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error
}
