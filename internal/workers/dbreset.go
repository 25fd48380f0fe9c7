package workers

import (
	"context"
	"fmt"

	"github.com/lancachetools/cacheops/internal/ops"
	"github.com/lancachetools/cacheops/internal/store"
)

// DatabaseResetWorker clears the operational tables. Unlike the disk-bound
// workers it talks to the database directly; there is nothing for the
// processor to do.
type DatabaseResetWorker struct {
	Registry *ops.Registry
	Runner   *Runner
	Catalog  store.Catalog
}

// Start registers the reset and launches it. Resets are exclusive: a second
// request while one runs gets ops.ErrConflict.
func (w *DatabaseResetWorker) Start(context.Context) (ops.Handle, error) {
	h, err := w.Registry.RegisterUnique(
		ops.KindDatabaseReset,
		"Reset database",
		ops.WithMetadata(&ops.DatabaseResetMetadata{}),
	)
	if err != nil {
		return ops.Handle{}, err
	}

	w.Runner.Launch(h, w.run(h))
	return h, nil
}

func (w *DatabaseResetWorker) run(h ops.Handle) Task {
	return func(ctx context.Context) error {
		w.Registry.UpdateProgress(h.ID, 0, "Starting database reset")

		err := w.Catalog.ResetTables(ctx, func(table string, done, total int) {
			w.Registry.UpdateMetadata(h.ID, func(md ops.Metadata) {
				if m, ok := md.(*ops.DatabaseResetMetadata); ok {
					m.TablesCleared = append(m.TablesCleared, table)
					m.TotalTables = int64(total)
				}
			})
			percent := float64(done) / float64(total) * 100
			w.Registry.UpdateProgress(h.ID, percent, fmt.Sprintf("Cleared %s table", table))
		})
		if err != nil {
			return err
		}
		w.Registry.UpdateProgress(h.ID, 100, "Database reset complete")
		return nil
	}
}
