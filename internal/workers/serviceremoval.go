package workers

import (
	"context"
	"fmt"
	"strings"

	"github.com/lancachetools/cacheops/internal/ops"
	"github.com/lancachetools/cacheops/internal/store"
)

// ServiceLogRemovalWorker purges one CDN service's cached data from disk via
// the processor, then removes its access-log rows from the database.
type ServiceLogRemovalWorker struct {
	Registry  *ops.Registry
	Runner    *Runner
	Processor Processor
	Catalog   store.Catalog
}

// Start registers the removal for one service (e.g. "steam", "epic") and
// launches it. One removal per service at a time.
func (w *ServiceLogRemovalWorker) Start(_ context.Context, service string) (ops.Handle, error) {
	service = strings.ToLower(strings.TrimSpace(service))
	if service == "" {
		return ops.Handle{}, fmt.Errorf("service is required")
	}
	h, err := w.Registry.RegisterUnique(
		ops.KindServiceLogRemoval,
		fmt.Sprintf("Remove %s logs", service),
		ops.WithEntityKey(service),
		ops.WithMetadata(&ops.ServiceLogRemovalMetadata{Service: service}),
	)
	if err != nil {
		return ops.Handle{}, err
	}

	w.Runner.Launch(h, func(taskCtx context.Context) error {
		return w.run(taskCtx, h, service)
	})
	return h, nil
}

func (w *ServiceLogRemovalWorker) run(ctx context.Context, h ops.Handle, service string) error {
	pending, err := w.Catalog.LogEntryCount(ctx, service)
	if err != nil {
		return fmt.Errorf("count %s log entries: %w", service, err)
	}
	w.Registry.UpdateProgress(h.ID, 0, fmt.Sprintf("Removing %d %s log entries", pending, service))

	args := []string{"remove-service", "--service", service}
	if _, err := w.Processor.Run(ctx, args, forwardProgress(w.Registry, h.ID)); err != nil {
		return err
	}

	removed, err := w.Catalog.DeleteLogEntries(ctx, service)
	if err != nil {
		return fmt.Errorf("delete %s log rows: %w", service, err)
	}
	w.Registry.UpdateMetadata(h.ID, func(md ops.Metadata) {
		if m, ok := md.(*ops.ServiceLogRemovalMetadata); ok {
			m.LinesRemoved = removed
		}
	})
	w.Registry.UpdateProgress(h.ID, 100, fmt.Sprintf("Removed %d %s log entries", removed, service))
	return nil
}
