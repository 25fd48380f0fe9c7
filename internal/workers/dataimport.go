package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/lancachetools/cacheops/internal/ops"
)

// DataImportWorker bulk-imports download history from a prior installation's
// data directory via the processor's import subcommand.
type DataImportWorker struct {
	Registry  *ops.Registry
	Runner    *Runner
	Processor Processor
}

type importReport struct {
	EntriesImported int64 `json:"entries_imported"`
	EntriesSkipped  int64 `json:"entries_skipped"`
	BytesProcessed  int64 `json:"bytes_processed"`
}

// Start registers the import and launches it. Only one import may run at a
// time regardless of directory.
func (w *DataImportWorker) Start(_ context.Context, directory string) (ops.Handle, error) {
	h, err := w.Registry.RegisterUnique(
		ops.KindDataImport,
		"Import download history",
		ops.WithMetadata(&ops.DataImportMetadata{Directory: directory}),
	)
	if err != nil {
		return ops.Handle{}, err
	}

	w.Runner.Launch(h, func(taskCtx context.Context) error {
		return w.run(taskCtx, h, directory)
	})
	return h, nil
}

func (w *DataImportWorker) run(ctx context.Context, h ops.Handle, directory string) error {
	w.Registry.UpdateProgress(h.ID, 0, "Scanning import directory")

	args := []string{"import", "--directory", directory}
	report, err := w.Processor.Run(ctx, args, forwardProgress(w.Registry, h.ID))
	if err != nil {
		return err
	}

	var final importReport
	if len(report) > 0 {
		if unmarshalErr := json.Unmarshal(report, &final); unmarshalErr != nil {
			return fmt.Errorf("parse import report: %w", unmarshalErr)
		}
	}
	w.Registry.UpdateMetadata(h.ID, func(md ops.Metadata) {
		if m, ok := md.(*ops.DataImportMetadata); ok {
			m.EntriesImported = final.EntriesImported
			m.EntriesSkipped = final.EntriesSkipped
			m.BytesProcessed = final.BytesProcessed
		}
	})
	w.Registry.UpdateProgress(h.ID, 100, fmt.Sprintf(
		"Imported %d entries (%s processed)",
		final.EntriesImported,
		humanize.Bytes(uint64(final.BytesProcessed)),
	))
	return nil
}
