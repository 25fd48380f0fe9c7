package store

import "context"

// NoopCatalog serves deployments without a reachable database. Lookups miss,
// destructive calls succeed without touching anything.
type NoopCatalog struct{}

// NewNoopCatalog returns the stand-in catalog.
func NewNoopCatalog() *NoopCatalog {
	return &NoopCatalog{}
}

// GameName always misses.
func (*NoopCatalog) GameName(context.Context, uint32) (string, error) {
	return "", ErrNotFound
}

// DepotMappings returns an empty set.
func (*NoopCatalog) DepotMappings(context.Context) ([]DepotMapping, error) {
	return nil, nil
}

// LogEntryCount reports zero rows.
func (*NoopCatalog) LogEntryCount(context.Context, string) (int64, error) {
	return 0, nil
}

// DeleteLogEntries removes nothing.
func (*NoopCatalog) DeleteLogEntries(context.Context, string) (int64, error) {
	return 0, nil
}

// ResetTables walks the usual table list so callers still see progress.
func (*NoopCatalog) ResetTables(_ context.Context, progress func(table string, done, total int)) error {
	for i, table := range resetTables {
		if progress != nil {
			progress(table, i+1, len(resetTables))
		}
	}
	return nil
}

// Ping always succeeds.
func (*NoopCatalog) Ping(context.Context) error {
	return nil
}
