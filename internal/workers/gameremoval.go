package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/lancachetools/cacheops/internal/ops"
	"github.com/lancachetools/cacheops/internal/proc"
	"github.com/lancachetools/cacheops/internal/store"
)

// GameRemovalWorker purges one game's cached chunks from disk and its rows
// from the database, driven by the processor's remove-game subcommand.
type GameRemovalWorker struct {
	Registry  *ops.Registry
	Runner    *Runner
	Processor Processor
	Catalog   store.Catalog
	Logger    *zap.Logger
}

// removalReport mirrors the processor's final remove-game output.
type removalReport struct {
	GameAppID         uint32   `json:"game_app_id"`
	GameName          string   `json:"game_name"`
	CacheFilesDeleted int64    `json:"cache_files_deleted"`
	TotalBytesFreed   int64    `json:"total_bytes_freed"`
	EmptyDirsRemoved  int64    `json:"empty_dirs_removed"`
	LogEntriesRemoved int64    `json:"log_entries_removed"`
	DepotIDs          []uint32 `json:"depot_ids"`
}

// Start registers the removal and launches it. At most one removal per app
// can run at a time; a second request gets ops.ErrConflict.
func (w *GameRemovalWorker) Start(ctx context.Context, appID uint32) (ops.Handle, error) {
	name := w.gameName(ctx, appID)
	h, err := w.Registry.RegisterUnique(
		ops.KindGameRemoval,
		fmt.Sprintf("Remove %s", name),
		ops.WithEntityKey(strconv.FormatUint(uint64(appID), 10)),
		ops.WithMetadata(&ops.GameRemovalMetadata{AppID: appID, GameName: name}),
	)
	if err != nil {
		return ops.Handle{}, err
	}

	w.Runner.Launch(h, func(taskCtx context.Context) error {
		return w.run(taskCtx, h, appID)
	})
	return h, nil
}

func (w *GameRemovalWorker) run(ctx context.Context, h ops.Handle, appID uint32) error {
	w.Registry.UpdateProgress(h.ID, 0, "Scanning cache for game files")

	args := []string{"remove-game", "--app-id", strconv.FormatUint(uint64(appID), 10)}
	report, err := w.Processor.Run(ctx, args, func(evt proc.Event) {
		forwardProgress(w.Registry, h.ID)(evt)
		if evt.Event == proc.EventProgress && (evt.FilesDeleted > 0 || evt.BytesFreed > 0) {
			w.Registry.UpdateMetadata(h.ID, func(md ops.Metadata) {
				if m, ok := md.(*ops.GameRemovalMetadata); ok {
					m.FilesDeleted = evt.FilesDeleted
					m.BytesFreed = evt.BytesFreed
				}
			})
		}
	})
	if err != nil {
		return err
	}

	var final removalReport
	if len(report) > 0 {
		if unmarshalErr := json.Unmarshal(report, &final); unmarshalErr != nil {
			w.logger().Warn("unparseable removal report",
				zap.String("operation_id", h.ID),
				zap.Error(unmarshalErr),
			)
		}
	}
	w.Registry.UpdateMetadata(h.ID, func(md ops.Metadata) {
		m, ok := md.(*ops.GameRemovalMetadata)
		if !ok {
			return
		}
		m.FilesDeleted = final.CacheFilesDeleted
		m.BytesFreed = final.TotalBytesFreed
		m.EmptyDirsRemoved = final.EmptyDirsRemoved
		m.LogEntriesRemoved = final.LogEntriesRemoved
		m.DepotIDs = final.DepotIDs
	})
	w.Registry.UpdateProgress(h.ID, 100, fmt.Sprintf(
		"Removed %d files, freed %s",
		final.CacheFilesDeleted,
		humanize.Bytes(uint64(final.TotalBytesFreed)),
	))
	return nil
}

// gameName resolves the display name, falling back to a generic label when
// the depot mappings don't know the app.
func (w *GameRemovalWorker) gameName(ctx context.Context, appID uint32) string {
	name, err := w.Catalog.GameName(ctx, appID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			w.logger().Warn("game name lookup failed",
				zap.Uint32("app_id", appID),
				zap.Error(err),
			)
		}
		return fmt.Sprintf("Game %d", appID)
	}
	return name
}

func (w *GameRemovalWorker) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}
