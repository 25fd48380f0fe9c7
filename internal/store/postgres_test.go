package store

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func newMockCatalog(t *testing.T) (*PostgresCatalog, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	catalog, err := NewPostgresCatalogWithPool(mock)
	require.NoError(t, err)
	return catalog, mock
}

func TestGameNameResolvesMapping(t *testing.T) {
	t.Parallel()

	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery(`SELECT "AppName"`).
		WithArgs(int64(730)).
		WillReturnRows(pgxmock.NewRows([]string{"AppName"}).AddRow("Counter-Strike 2"))

	name, err := catalog.GameName(context.Background(), 730)
	require.NoError(t, err)
	require.Equal(t, "Counter-Strike 2", name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGameNameUnknownApp(t *testing.T) {
	t.Parallel()

	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery(`SELECT "AppName"`).
		WithArgs(int64(999999)).
		WillReturnRows(pgxmock.NewRows([]string{"AppName"}))

	_, err := catalog.GameName(context.Background(), 999999)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDepotMappings(t *testing.T) {
	t.Parallel()

	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery(`SELECT "DepotId", "AppId", "AppName"`).
		WillReturnRows(pgxmock.NewRows([]string{"DepotId", "AppId", "AppName"}).
			AddRow(int64(731), int64(730), "Counter-Strike 2").
			AddRow(int64(441), int64(440), "Team Fortress 2"))

	mappings, err := catalog.DepotMappings(context.Background())
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	require.Equal(t, uint32(731), mappings[0].DepotID)
	require.Equal(t, uint32(730), mappings[0].AppID)
	require.Equal(t, "Team Fortress 2", mappings[1].AppName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogEntryCountAllServices(t *testing.T) {
	t.Parallel()

	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs("").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1204)))

	count, err := catalog.LogEntryCount(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, int64(1204), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteLogEntries(t *testing.T) {
	t.Parallel()

	catalog, mock := newMockCatalog(t)

	mock.ExpectExec(`DELETE FROM "LogEntries"`).
		WithArgs("steam").
		WillReturnResult(pgxmock.NewResult("DELETE", 87))

	removed, err := catalog.DeleteLogEntries(context.Background(), "steam")
	require.NoError(t, err)
	require.Equal(t, int64(87), removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteLogEntriesRequiresService(t *testing.T) {
	t.Parallel()

	catalog, _ := newMockCatalog(t)

	_, err := catalog.DeleteLogEntries(context.Background(), "  ")
	require.Error(t, err)
}

func TestResetTablesClearsInOrder(t *testing.T) {
	t.Parallel()

	catalog, mock := newMockCatalog(t)

	for _, table := range resetTables {
		mock.ExpectExec(`DELETE FROM "` + table + `"`).
			WillReturnResult(pgxmock.NewResult("DELETE", 10))
	}

	var cleared []string
	err := catalog.ResetTables(context.Background(), func(table string, done, total int) {
		cleared = append(cleared, table)
		require.Equal(t, len(cleared), done)
		require.Equal(t, len(resetTables), total)
	})
	require.NoError(t, err)
	require.Equal(t, resetTables, cleared)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTablesStopsOnCancel(t *testing.T) {
	t.Parallel()

	catalog, _ := newMockCatalog(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := catalog.ResetTables(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}
