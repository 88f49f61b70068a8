package vacuum

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reldb/reldb/internal/config"
	"github.com/reldb/reldb/internal/logger"
	"github.com/reldb/reldb/internal/storage"
	"github.com/reldb/reldb/internal/txn"
	"github.com/reldb/reldb/internal/value"
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelError, "[test]")
}

func clock() func() int64 {
	var t int64
	return func() int64 {
		t++
		return t
	}
}

func row(balance int64) *value.Row {
	return value.NewRow([]string{"balance"}, []value.Value{value.Int(balance)})
}

// TestTablePrunesVersionsBelowOldestActiveSnapshot grounds spec.md §8's
// scenario 1 at the package level: three updates grow the chain to four
// versions, and once no live snapshot can see anything but the head,
// Table collapses it back to one.
func TestTablePrunesVersionsBelowOldestActiveSnapshot(t *testing.T) {
	mgr := txn.NewManager(clock())
	tbl := storage.NewTable("accounts", []storage.Column{{Name: "balance", Type: storage.ColumnInt}})

	tx1 := mgr.Begin()
	rowID := tbl.Insert(row(1000), tx1.ID)
	mgr.Commit(tx1.ID)

	for _, bal := range []int64{1100, 1200, 1300} {
		tx := mgr.Begin()
		require.NoError(t, tbl.Update(rowID, "balance", value.Int(bal), tx.ID, tx.Snapshot, mgr))
		require.NoError(t, mgr.Commit(tx.ID))
	}
	require.Equal(t, 4, tbl.ChainLength(rowID))

	stats := Table(tbl, mgr)
	require.Equal(t, 3, stats.VersionsRemoved)
	require.Equal(t, 1, tbl.ChainLength(rowID))

	head := tbl.Head(rowID)
	balance, _ := head.Attrs.Get("balance")
	require.Equal(t, int64(1300), balance.Int)
}

// TestTableKeepsVersionsVisibleToALiveSnapshot verifies the chain is not
// over-pruned: a version still reachable by an outstanding snapshot must
// survive VACUUM.
func TestTableKeepsVersionsVisibleToALiveSnapshot(t *testing.T) {
	mgr := txn.NewManager(clock())
	tbl := storage.NewTable("accounts", []storage.Column{{Name: "balance", Type: storage.ColumnInt}})

	tx1 := mgr.Begin()
	rowID := tbl.Insert(row(100), tx1.ID)
	mgr.Commit(tx1.ID)

	reader := mgr.Begin() // snapshot taken before the update below

	tx2 := mgr.Begin()
	require.NoError(t, tbl.Update(rowID, "balance", value.Int(200), tx2.ID, tx2.Snapshot, mgr))
	require.NoError(t, mgr.Commit(tx2.ID))

	stats := Table(tbl, mgr)
	require.Equal(t, 0, stats.VersionsRemoved, "reader's snapshot still needs the old version")
	require.Equal(t, 2, tbl.ChainLength(rowID))

	got, ok := tbl.Get(rowID, reader.Snapshot, mgr)
	require.True(t, ok)
	balance, _ := got.Get("balance")
	require.Equal(t, int64(100), balance.Int)
}

// TestTableReclaimsAbortedCreatorVersion: a version whose creating
// transaction aborted is removable once no live snapshot could have seen
// it, independent of any commit ordering.
func TestTableReclaimsAbortedCreatorVersion(t *testing.T) {
	mgr := txn.NewManager(clock())
	tbl := storage.NewTable("accounts", []storage.Column{{Name: "balance", Type: storage.ColumnInt}})

	tx := mgr.Begin()
	rowID := tbl.Insert(row(1), tx.ID)
	require.NoError(t, mgr.Rollback(tx.ID))

	stats := Table(tbl, mgr)
	require.Equal(t, 1, stats.VersionsRemoved)
	require.Equal(t, 0, tbl.ChainLength(rowID))
}

func TestAutoVacuumTriggersOnMaxChainLength(t *testing.T) {
	mgr := txn.NewManager(clock())
	tbl := storage.NewTable("accounts", []storage.Column{{Name: "balance", Type: storage.ColumnInt}})

	tx1 := mgr.Begin()
	rowID := tbl.Insert(row(0), tx1.ID)
	mgr.Commit(tx1.ID)
	for i := int64(1); i <= 3; i++ {
		tx := mgr.Begin()
		require.NoError(t, tbl.Update(rowID, "balance", value.Int(i), tx.ID, tx.Snapshot, mgr))
		require.NoError(t, mgr.Commit(tx.ID))
	}
	require.Equal(t, 4, tbl.ChainLength(rowID))

	v := New(config.VacuumConfig{Enabled: true, MaxChainLength: 2, TxnInterval: 1000}, mgr, testLogger(), nil)
	v.AfterCommit(map[string]*storage.Table{"accounts": tbl})

	require.Equal(t, 1, tbl.ChainLength(rowID))
}

func TestAutoVacuumDisabledNeverTriggers(t *testing.T) {
	mgr := txn.NewManager(clock())
	tbl := storage.NewTable("accounts", []storage.Column{{Name: "balance", Type: storage.ColumnInt}})

	tx1 := mgr.Begin()
	rowID := tbl.Insert(row(0), tx1.ID)
	mgr.Commit(tx1.ID)
	for i := int64(1); i <= 5; i++ {
		tx := mgr.Begin()
		require.NoError(t, tbl.Update(rowID, "balance", value.Int(i), tx.ID, tx.Snapshot, mgr))
		require.NoError(t, mgr.Commit(tx.ID))
	}

	v := New(config.VacuumConfig{Enabled: false, MaxChainLength: 1}, mgr, nil, nil)
	v.AfterCommit(map[string]*storage.Table{"accounts": tbl})

	require.Equal(t, 6, tbl.ChainLength(rowID))
}
