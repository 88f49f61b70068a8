// Package txn implements the transaction manager, commit log (CLOG), and
// snapshot-based visibility function at the core of the engine's MVCC
// model: monotonic txids, an explicit per-status commit log, and
// snapshots capturing the active-transaction set at BEGIN time.
package txn

import (
	"errors"
	"sync"
)

var (
	ErrNoActiveTransaction     = errors.New("txn: no active transaction")
	ErrTransactionAlreadyActive = errors.New("txn: transaction already active")
)

// Status is a CLOG entry's final or current state.
type Status byte

const (
	StatusInProgress Status = iota
	StatusCommitted
	StatusAborted
)

// State mirrors the Tx lifecycle: {none} -begin-> {active} -commit/rollback-> {none}.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateAborted
)

// Snapshot is immutable once created: the owning txid, the set of txids
// in-progress at creation time (excluding the owner), and the creation
// timestamp. Write-conflict checks compare txids, the active set and the
// CLOG; they do not read Timestamp.
type Snapshot struct {
	TxID      uint64
	Timestamp int64
	active    map[uint64]struct{}
}

// IsActive reports whether txid was in-progress when the snapshot was taken.
func (s *Snapshot) IsActive(txid uint64) bool {
	_, ok := s.active[txid]
	return ok
}

// WrittenRow identifies one row a transaction freshly inserted, so
// rollback can physically drop it rather than leave a dangling aborted
// version for VACUUM to eventually reclaim.
type WrittenRow struct {
	Table string
	RowID uint64
}

// Tx is one transaction's bookkeeping: identity, snapshot, state, the
// set of row ids it touched (for same-transaction rollback of fresh
// inserts), and every index-undo closure its statements have registered
// (for rollback of index mutations made by statements that already
// committed their table-level effect before ROLLBACK arrived).
type Tx struct {
	ID       uint64
	Snapshot *Snapshot
	State    State

	mu          sync.Mutex
	writtenRows map[WrittenRow]struct{}
	indexUndo   []func()
}

// RecordIndexUndo appends one closure that reverses an already-applied
// index mutation (a B-tree/HNSW write from INSERT, UPDATE, or DELETE)
// made earlier in this transaction's lifetime.
func (t *Tx) RecordIndexUndo(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.indexUndo = append(t.indexUndo, fn)
}

// IndexUndoSteps returns every registered index-undo closure in
// registration order; rollback replays them in reverse so the most
// recent statement's index writes are unwound first.
func (t *Tx) IndexUndoSteps() []func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]func(){}, t.indexUndo...)
}

// MarkWritten records that row_id in table was freshly inserted by this
// transaction, so rollback can physically drop it rather than leave a
// dangling aborted version.
func (t *Tx) MarkWritten(table string, rowID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writtenRows == nil {
		t.writtenRows = make(map[WrittenRow]struct{})
	}
	t.writtenRows[WrittenRow{Table: table, RowID: rowID}] = struct{}{}
}

func (t *Tx) WasWritten(table string, rowID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.writtenRows[WrittenRow{Table: table, RowID: rowID}]
	return ok
}

// FreshInserts returns every row this transaction inserted, for rollback
// to physically drop. The order is unspecified.
func (t *Tx) FreshInserts() []WrittenRow {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]WrittenRow, 0, len(t.writtenRows))
	for w := range t.writtenRows {
		out = append(out, w)
	}
	return out
}

// Manager owns txid assignment, the CLOG, and the set of currently active
// transactions. Txid 0 is the bootstrap transaction and always reads back
// as committed regardless of stored state.
type Manager struct {
	mu sync.RWMutex

	nextTxID uint64
	clog     map[uint64]Status
	txs      map[uint64]*Tx
	active   map[uint64]struct{}

	nowFn func() int64
}

// NewManager builds a Manager starting txid assignment at 1 (txid 0 is the
// reserved bootstrap id). nowFn supplies snapshot timestamps; callers
// typically pass a monotonic counter rather than wall-clock time so
// recovery and tests stay deterministic.
func NewManager(nowFn func() int64) *Manager {
	return &Manager{
		nextTxID: 1,
		clog:     make(map[uint64]Status),
		txs:      make(map[uint64]*Tx),
		active:   make(map[uint64]struct{}),
		nowFn:    nowFn,
	}
}

// RestoreTxID advances the next-txid counter past the given high-water
// mark. Used by recovery after replaying the WAL to avoid reissuing a
// txid already observed in a WAL record.
func (m *Manager) RestoreTxID(highWatermark uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if highWatermark >= m.nextTxID {
		m.nextTxID = highWatermark + 1
	}
}

// RestoreStatus seeds a CLOG entry directly, used when loading a persisted
// CLOG file or replaying begin/commit/abort records during recovery.
func (m *Manager) RestoreStatus(txid uint64, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clog[txid] = status
	switch status {
	case StatusInProgress:
		m.active[txid] = struct{}{}
	default:
		delete(m.active, txid)
	}
}

// Begin assigns the next txid, snapshots the currently active set
// (excluding itself), registers the transaction as active, and sets
// CLOG[txid]=in_progress.
func (m *Manager) Begin() *Tx {
	m.mu.Lock()
	defer m.mu.Unlock()

	txid := m.nextTxID
	m.nextTxID++

	activeCopy := make(map[uint64]struct{}, len(m.active))
	for id := range m.active {
		activeCopy[id] = struct{}{}
	}

	snap := &Snapshot{TxID: txid, Timestamp: m.nowFn(), active: activeCopy}
	tx := &Tx{ID: txid, Snapshot: snap, State: StateActive}

	m.txs[txid] = tx
	m.active[txid] = struct{}{}
	m.clog[txid] = StatusInProgress
	return tx
}

// Commit sets CLOG[txid]=committed then removes it from the active set.
func (m *Manager) Commit(txid uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[txid]
	if !ok {
		return ErrNoActiveTransaction
	}
	if tx.State != StateActive {
		return ErrNoActiveTransaction
	}
	m.clog[txid] = StatusCommitted
	delete(m.active, txid)
	tx.State = StateCommitted
	return nil
}

// Rollback sets CLOG[txid]=aborted then removes it from the active set.
func (m *Manager) Rollback(txid uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[txid]
	if !ok {
		return ErrNoActiveTransaction
	}
	if tx.State != StateActive {
		return ErrNoActiveTransaction
	}
	m.clog[txid] = StatusAborted
	delete(m.active, txid)
	tx.State = StateAborted
	return nil
}

// Get returns the Tx for txid, or nil if never begun in this process
// (recovered transactions are not registered here, only in the CLOG).
func (m *Manager) Get(txid uint64) *Tx {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.txs[txid]
}

// SnapshotOf returns the snapshot owned by txid, if it is a known tx.
func (m *Manager) SnapshotOf(txid uint64) *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[txid]
	if !ok {
		return nil
	}
	return tx.Snapshot
}

// ActiveCount returns the number of currently active transactions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// OldestActiveTxID returns the minimum txid among currently active
// transactions, or math.MaxUint64 if none are active. VACUUM uses this as
// oldest_live_snapshot_txid.
func (m *Manager) OldestActiveTxID() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var oldest uint64 = ^uint64(0)
	for id := range m.active {
		if id < oldest {
			oldest = id
		}
	}
	return oldest
}

// Status reports the CLOG status of txid. Txid 0 is always committed.
// Unknown txids default to in_progress, per the commit-log contract.
func (m *Manager) Status(txid uint64) Status {
	if txid == 0 {
		return StatusCommitted
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.clog[txid]
	if !ok {
		return StatusInProgress
	}
	return st
}

// Snapshot of the whole CLOG, used by persistence when writing the CLOG
// file at checkpoint time.
func (m *Manager) SnapshotCLOG() map[uint64]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uint64]Status, len(m.clog))
	for k, v := range m.clog {
		out[k] = v
	}
	return out
}

// AbortAllInProgress forces every transaction still in_progress to
// aborted. Called once after WAL replay completes: committed transactions
// are never lost, in-flight uncommitted ones are always aborted.
func (m *Manager) AbortAllInProgress() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for txid, st := range m.clog {
		if st == StatusInProgress {
			m.clog[txid] = StatusAborted
		}
	}
	m.active = make(map[uint64]struct{})
}
