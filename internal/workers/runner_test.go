package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lancachetools/cacheops/internal/ops"
)

func waitTerminal(t *testing.T, registry *ops.Registry, id string) ops.Snapshot {
	t.Helper()
	var snap ops.Snapshot
	require.Eventually(t, func() bool {
		s, err := registry.Get(id)
		if err != nil {
			return false
		}
		snap = s
		return s.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestLaunchCompletesOnSuccess(t *testing.T) {
	t.Parallel()

	registry := ops.NewRegistry(ops.Config{})
	runner := NewRunner(registry, nil)

	h, err := registry.Register(ops.KindLogProcessing, "Process access logs")
	require.NoError(t, err)

	runner.Launch(h, func(context.Context) error { return nil })

	snap := waitTerminal(t, registry, h.ID)
	require.Equal(t, ops.StatusCompleted, snap.Status)
	require.Equal(t, 100.0, snap.PercentComplete)
	require.NotNil(t, snap.CompletedAt)
}

func TestLaunchRecordsFailure(t *testing.T) {
	t.Parallel()

	registry := ops.NewRegistry(ops.Config{})
	runner := NewRunner(registry, nil)

	h, err := registry.Register(ops.KindLogProcessing, "Process access logs")
	require.NoError(t, err)

	runner.Launch(h, func(context.Context) error {
		return errors.New("log file unreadable")
	})

	snap := waitTerminal(t, registry, h.ID)
	require.Equal(t, ops.StatusFailed, snap.Status)
	require.Contains(t, snap.Error, "log file unreadable")
}

func TestLaunchCapturesPanic(t *testing.T) {
	t.Parallel()

	registry := ops.NewRegistry(ops.Config{})
	runner := NewRunner(registry, nil)

	h, err := registry.Register(ops.KindDataImport, "Import download history")
	require.NoError(t, err)

	runner.Launch(h, func(context.Context) error {
		panic("nil map write")
	})

	snap := waitTerminal(t, registry, h.ID)
	require.Equal(t, ops.StatusFailed, snap.Status)
	require.Contains(t, snap.Error, "task panicked")
}

func TestLaunchMapsCancellation(t *testing.T) {
	t.Parallel()

	registry := ops.NewRegistry(ops.Config{})
	runner := NewRunner(registry, nil)

	h, err := registry.Register(ops.KindGameRemoval, "Remove Game 730",
		ops.WithEntityKey("730"))
	require.NoError(t, err)

	started := make(chan struct{})
	runner.Launch(h, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	require.True(t, registry.Cancel(h.ID))

	snap := waitTerminal(t, registry, h.ID)
	require.Equal(t, ops.StatusCancelled, snap.Status)
}

func TestLaunchCancelledTaskReturningNil(t *testing.T) {
	t.Parallel()

	registry := ops.NewRegistry(ops.Config{})
	runner := NewRunner(registry, nil)

	h, err := registry.Register(ops.KindDepotRebuild, "Rebuild depot mappings")
	require.NoError(t, err)

	started := make(chan struct{})
	runner.Launch(h, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})

	<-started
	require.True(t, registry.Cancel(h.ID))

	snap := waitTerminal(t, registry, h.ID)
	require.Equal(t, ops.StatusCancelled, snap.Status)
}

func TestWaitReturnsWhenTasksFinish(t *testing.T) {
	t.Parallel()

	registry := ops.NewRegistry(ops.Config{})
	runner := NewRunner(registry, nil)

	h, err := registry.Register(ops.KindDatabaseReset, "Reset database")
	require.NoError(t, err)

	release := make(chan struct{})
	runner.Launch(h, func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, runner.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, runner.Wait(context.Background()))
}
