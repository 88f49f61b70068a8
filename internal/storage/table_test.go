package storage

import (
	"testing"

	"github.com/reldb/reldb/internal/txn"
	"github.com/reldb/reldb/internal/value"
)

func clock() func() int64 {
	var t int64
	return func() int64 {
		t++
		return t
	}
}

func row(id int64, balance int64) *value.Row {
	return value.NewRow([]string{"id", "balance"}, []value.Value{value.Int(id), value.Int(balance)})
}

func TestInsertAndGetVisibility(t *testing.T) {
	mgr := txn.NewManager(clock())
	table := NewTable("accounts", []Column{{Name: "id", Type: ColumnInt}, {Name: "balance", Type: ColumnInt}})

	tx1 := mgr.Begin()
	rowID := table.Insert(row(1, 1000), tx1.ID)
	mgr.Commit(tx1.ID)

	reader := mgr.Begin()
	got, ok := table.Get(rowID, reader.Snapshot, mgr)
	if !ok {
		t.Fatal("expected row to be visible")
	}
	balance, _ := got.Get("balance")
	if balance.Int != 1000 {
		t.Fatalf("want 1000 got %d", balance.Int)
	}
}

func TestUpdateChainGrowthAndVacuumScenario(t *testing.T) {
	mgr := txn.NewManager(clock())
	table := NewTable("accounts", []Column{{Name: "id", Type: ColumnInt}, {Name: "balance", Type: ColumnInt}})

	tx1 := mgr.Begin()
	rowID := table.Insert(row(1, 1000), tx1.ID)
	mgr.Commit(tx1.ID)

	for _, bal := range []int64{1100, 1200, 1300} {
		tx := mgr.Begin()
		if err := table.Update(rowID, "balance", value.Int(bal), tx.ID, tx.Snapshot, mgr); err != nil {
			t.Fatalf("Update(%d): %v", bal, err)
		}
		mgr.Commit(tx.ID)
	}

	if n := table.ChainLength(rowID); n != 4 {
		t.Fatalf("want chain length 4 before vacuum, got %d", n)
	}

	reader := mgr.Begin()
	got, ok := table.Get(rowID, reader.Snapshot, mgr)
	if !ok {
		t.Fatal("row should be visible")
	}
	balance, _ := got.Get("balance")
	if balance.Int != 1300 {
		t.Fatalf("want final balance 1300 got %d", balance.Int)
	}
}

func TestMVCCIsolationBetweenConcurrentSnapshots(t *testing.T) {
	mgr := txn.NewManager(clock())
	table := NewTable("accounts", []Column{{Name: "id", Type: ColumnInt}, {Name: "balance", Type: ColumnInt}})

	tx1 := mgr.Begin()
	rowID := table.Insert(row(1, 100), tx1.ID)
	mgr.Commit(tx1.ID)

	tx2 := mgr.Begin() // snapshot before the update below

	tx3 := mgr.Begin()
	if err := table.Update(rowID, "balance", value.Int(200), tx3.ID, tx3.Snapshot, mgr); err != nil {
		t.Fatal(err)
	}
	mgr.Commit(tx3.ID)

	got, _ := table.Get(rowID, tx2.Snapshot, mgr)
	balance, _ := got.Get("balance")
	if balance.Int != 100 {
		t.Fatalf("tx2 snapshot should still see 100, got %d", balance.Int)
	}

	tx4 := mgr.Begin()
	got2, _ := table.Get(rowID, tx4.Snapshot, mgr)
	balance2, _ := got2.Get("balance")
	if balance2.Int != 200 {
		t.Fatalf("fresh snapshot should see 200, got %d", balance2.Int)
	}
}

func TestDeleteHidesRowFromLaterSnapshots(t *testing.T) {
	mgr := txn.NewManager(clock())
	table := NewTable("t", []Column{{Name: "id", Type: ColumnInt}})

	tx1 := mgr.Begin()
	rowID := table.Insert(value.NewRow([]string{"id"}, []value.Value{value.Int(1)}), tx1.ID)
	mgr.Commit(tx1.ID)

	tx2 := mgr.Begin()
	if err := table.Delete(rowID, tx2.ID, tx2.Snapshot, mgr); err != nil {
		t.Fatal(err)
	}
	mgr.Commit(tx2.ID)

	tx3 := mgr.Begin()
	if _, ok := table.Get(rowID, tx3.Snapshot, mgr); ok {
		t.Fatal("deleted row must not be visible to a later snapshot")
	}
}

func TestWriteConflictOnConcurrentUpdate(t *testing.T) {
	mgr := txn.NewManager(clock())
	table := NewTable("t", []Column{{Name: "id", Type: ColumnInt}})

	tx1 := mgr.Begin()
	rowID := table.Insert(value.NewRow([]string{"id"}, []value.Value{value.Int(1)}), tx1.ID)
	mgr.Commit(tx1.ID)

	txA := mgr.Begin()
	txB := mgr.Begin()

	if err := table.Update(rowID, "id", value.Int(2), txA.ID, txA.Snapshot, mgr); err != nil {
		t.Fatal(err)
	}
	mgr.Commit(txA.ID)

	// txB's snapshot predates txA's commit; the head is now superseded by a
	// committed transaction that txB's snapshot cannot see through.
	if err := table.Update(rowID, "id", value.Int(3), txB.ID, txB.Snapshot, mgr); err != ErrWriteConflict {
		t.Fatalf("want ErrWriteConflict, got %v", err)
	}
}

func TestGetAllVisibleRowIDsMVCCDisabled(t *testing.T) {
	mgr := txn.NewManager(clock())
	table := NewTable("t", []Column{{Name: "id", Type: ColumnInt}})
	tx1 := mgr.Begin()
	table.Insert(value.NewRow([]string{"id"}, []value.Value{value.Int(1)}), tx1.ID)
	table.Insert(value.NewRow([]string{"id"}, []value.Value{value.Int(2)}), tx1.ID)
	mgr.Commit(tx1.ID)

	ids := table.GetAllVisibleRowIDs(nil, mgr, false)
	if len(ids) != 2 {
		t.Fatalf("want 2 unfiltered chain heads got %d", len(ids))
	}
}

func TestPhysicalDeleteDropsChainUnconditionally(t *testing.T) {
	mgr := txn.NewManager(clock())
	table := NewTable("t", []Column{{Name: "id", Type: ColumnInt}})
	tx1 := mgr.Begin()
	rowID := table.Insert(value.NewRow([]string{"id"}, []value.Value{value.Int(1)}), tx1.ID)
	table.PhysicalDelete(rowID)
	if table.ChainLength(rowID) != 0 {
		t.Fatal("physical delete must drop the chain unconditionally")
	}
}
