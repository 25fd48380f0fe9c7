package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lancachetools/cacheops/internal/ops"
	"github.com/lancachetools/cacheops/internal/store"
)

func TestDatabaseResetRecordsClearedTables(t *testing.T) {
	t.Parallel()

	registry := ops.NewRegistry(ops.Config{})
	worker := &DatabaseResetWorker{
		Registry: registry,
		Runner:   NewRunner(registry, nil),
		Catalog:  store.NewNoopCatalog(),
	}

	h, err := worker.Start(context.Background())
	require.NoError(t, err)

	snap := waitTerminal(t, registry, h.ID)
	require.Equal(t, ops.StatusCompleted, snap.Status)
	require.Equal(t, "Database reset complete", snap.Message)

	md, ok := snap.Metadata.(*ops.DatabaseResetMetadata)
	require.True(t, ok)
	require.Equal(t, []string{"LogEntries", "Downloads", "ClientStats", "ServiceStats"}, md.TablesCleared)
	require.Equal(t, int64(4), md.TotalTables)
}

type failingCatalog struct {
	store.NoopCatalog
}

func (*failingCatalog) ResetTables(context.Context, func(string, int, int)) error {
	return errors.New("connection refused")
}

func TestDatabaseResetFailure(t *testing.T) {
	t.Parallel()

	registry := ops.NewRegistry(ops.Config{})
	worker := &DatabaseResetWorker{
		Registry: registry,
		Runner:   NewRunner(registry, nil),
		Catalog:  &failingCatalog{},
	}

	h, err := worker.Start(context.Background())
	require.NoError(t, err)

	snap := waitTerminal(t, registry, h.ID)
	require.Equal(t, ops.StatusFailed, snap.Status)
	require.Contains(t, snap.Error, "connection refused")
}
