package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lancachetools/cacheops/internal/ops"
	"github.com/lancachetools/cacheops/internal/proc"
)

// LogProcessingWorker reprocesses the cache server's access log into
// download rows via the processor's process-logs subcommand.
type LogProcessingWorker struct {
	Registry  *ops.Registry
	Runner    *Runner
	Processor Processor
}

type logProcessingReport struct {
	LinesParsed    int64 `json:"lines_parsed"`
	EntriesSaved   int64 `json:"entries_saved"`
	MalformedLines int64 `json:"malformed_lines"`
}

// Start registers a log processing pass and launches it. Only one pass runs
// at a time; concurrent passes would double-count entries.
func (w *LogProcessingWorker) Start(context.Context) (ops.Handle, error) {
	h, err := w.Registry.RegisterUnique(
		ops.KindLogProcessing,
		"Process access logs",
		ops.WithMetadata(&ops.LogProcessingMetadata{}),
	)
	if err != nil {
		return ops.Handle{}, err
	}

	w.Runner.Launch(h, w.run(h))
	return h, nil
}

func (w *LogProcessingWorker) run(h ops.Handle) Task {
	return func(ctx context.Context) error {
		w.Registry.UpdateProgress(h.ID, 0, "Reading access log")

		report, err := w.Processor.Run(ctx, []string{"process-logs"}, func(evt proc.Event) {
			forwardProgress(w.Registry, h.ID)(evt)
			if evt.Event == proc.EventProgress && (evt.LinesParsed > 0 || evt.EntriesSaved > 0) {
				w.Registry.UpdateMetadata(h.ID, func(md ops.Metadata) {
					if m, ok := md.(*ops.LogProcessingMetadata); ok {
						m.LinesParsed = evt.LinesParsed
						m.EntriesSaved = evt.EntriesSaved
					}
				})
			}
		})
		if err != nil {
			return err
		}

		var final logProcessingReport
		if len(report) > 0 {
			if unmarshalErr := json.Unmarshal(report, &final); unmarshalErr != nil {
				return fmt.Errorf("parse log processing report: %w", unmarshalErr)
			}
		}
		w.Registry.UpdateMetadata(h.ID, func(md ops.Metadata) {
			if m, ok := md.(*ops.LogProcessingMetadata); ok {
				m.LinesParsed = final.LinesParsed
				m.EntriesSaved = final.EntriesSaved
				m.MalformedLines = final.MalformedLines
			}
		})
		w.Registry.UpdateProgress(h.ID, 100, fmt.Sprintf(
			"Parsed %d lines, saved %d entries",
			final.LinesParsed,
			final.EntriesSaved,
		))
		return nil
	}
}
