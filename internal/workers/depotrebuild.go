package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/lancachetools/cacheops/internal/ops"
	"github.com/lancachetools/cacheops/internal/store"
)

// DepotRebuildWorker rebuilds the depot-to-app mapping table by replaying
// cached access logs through the processor's rebuild-depots subcommand.
type DepotRebuildWorker struct {
	Registry  *ops.Registry
	Runner    *Runner
	Processor Processor
	Catalog   store.Catalog
	Logger    *zap.Logger
}

type rebuildReport struct {
	AppsScanned     int64 `json:"apps_scanned"`
	TotalApps       int64 `json:"total_apps"`
	MappingsCreated int64 `json:"mappings_created"`
}

// Start registers the rebuild and launches it. Rebuilds are process-global:
// at most one runs at a time.
func (w *DepotRebuildWorker) Start(context.Context) (ops.Handle, error) {
	h, err := w.Registry.RegisterUnique(
		ops.KindDepotRebuild,
		"Rebuild depot mappings",
		ops.WithMetadata(&ops.DepotRebuildMetadata{}),
	)
	if err != nil {
		return ops.Handle{}, err
	}

	w.Runner.Launch(h, w.run(h))
	return h, nil
}

func (w *DepotRebuildWorker) run(h ops.Handle) Task {
	return func(ctx context.Context) error {
		w.Registry.UpdateProgress(h.ID, 0, "Rebuilding depot mappings")

		report, err := w.Processor.Run(ctx, []string{"rebuild-depots"}, forwardProgress(w.Registry, h.ID))
		if err != nil {
			return err
		}

		var final rebuildReport
		if len(report) > 0 {
			if unmarshalErr := json.Unmarshal(report, &final); unmarshalErr != nil {
				return fmt.Errorf("parse rebuild report: %w", unmarshalErr)
			}
		}
		w.Registry.UpdateMetadata(h.ID, func(md ops.Metadata) {
			if m, ok := md.(*ops.DepotRebuildMetadata); ok {
				m.AppsScanned = final.AppsScanned
				m.TotalApps = final.TotalApps
				m.MappingsCreated = final.MappingsCreated
			}
		})

		// Confirm the table is readable again before declaring victory.
		mappings, catErr := w.Catalog.DepotMappings(ctx)
		if catErr != nil {
			w.logger().Warn("depot mapping verification failed",
				zap.String("operation_id", h.ID),
				zap.Error(catErr),
			)
		}
		w.Registry.UpdateProgress(h.ID, 100, fmt.Sprintf(
			"Rebuilt %d mappings (%d known)",
			final.MappingsCreated,
			len(mappings),
		))
		return nil
	}
}

func (w *DepotRebuildWorker) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}
