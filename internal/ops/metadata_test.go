package ops

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestGameRemovalMetadataCloneIsolation verifies Clone deep-copies the depot
// id slice so snapshot holders can't reach back into the live payload.
func TestGameRemovalMetadataCloneIsolation(t *testing.T) {
	t.Parallel()

	orig := &GameRemovalMetadata{
		AppID:    730,
		GameName: "Counter-Strike 2",
		DepotIDs: []uint32{731, 732},
	}
	cp := orig.Clone().(*GameRemovalMetadata)
	cp.DepotIDs[0] = 999
	cp.FilesDeleted = 42

	require.Equal(t, uint32(731), orig.DepotIDs[0])
	require.Zero(t, orig.FilesDeleted)
}

// TestDatabaseResetMetadataCloneIsolation covers the other slice-bearing
// variant.
func TestDatabaseResetMetadataCloneIsolation(t *testing.T) {
	t.Parallel()

	orig := &DatabaseResetMetadata{TablesCleared: []string{"Downloads"}, TotalTables: 5}
	cp := orig.Clone().(*DatabaseResetMetadata)
	cp.TablesCleared = append(cp.TablesCleared, "LogEntries")

	require.Len(t, orig.TablesCleared, 1)
}

// TestStatusTerminal pins down which statuses absorb further mutation.
func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, StatusRunning.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.True(t, StatusCancelled.Terminal())
}
