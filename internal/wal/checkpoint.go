package wal

import (
	"sync"

	"github.com/reldb/reldb/internal/logger"
)

// CheckpointManager tracks auto-checkpoint state: beyond the explicit
// checkpoint() call, a checkpoint is triggered automatically once the
// active WAL has grown past intervalBytes since the last one, bounding
// recovery replay time.
type CheckpointManager struct {
	mu sync.Mutex

	intervalBytes       uint64
	autoCreate          bool
	logger              *logger.Logger
	lastCheckpointLSN   uint64
	checkpointCount     int
	walSizeAtCheckpoint uint64
}

func NewCheckpointManager(intervalBytes uint64, autoCreate bool, log *logger.Logger) *CheckpointManager {
	return &CheckpointManager{
		intervalBytes: intervalBytes,
		autoCreate:    autoCreate,
		logger:        log,
	}
}

// ShouldCheckpoint reports whether the active WAL size since the last
// checkpoint has crossed intervalBytes.
func (cm *CheckpointManager) ShouldCheckpoint(currentWALSize uint64) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if !cm.autoCreate || cm.intervalBytes == 0 {
		return false
	}
	if currentWALSize < cm.walSizeAtCheckpoint {
		return true // a rotation reset the active segment size
	}
	return currentWALSize-cm.walSizeAtCheckpoint >= cm.intervalBytes
}

// RecordCheckpoint records that a checkpoint was written at lsn with the
// WAL at the given size.
func (cm *CheckpointManager) RecordCheckpoint(lsn uint64, walSize uint64) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastCheckpointLSN = lsn
	cm.walSizeAtCheckpoint = walSize
	cm.checkpointCount++
	cm.logger.Debug("wal: checkpoint recorded lsn=%d wal_size=%d count=%d", lsn, walSize, cm.checkpointCount)
}

func (cm *CheckpointManager) LastCheckpointLSN() uint64 {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.lastCheckpointLSN
}

// Reset clears checkpoint tracking, used when recovery establishes a
// fresh baseline.
func (cm *CheckpointManager) Reset(lsn uint64) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastCheckpointLSN = lsn
	cm.walSizeAtCheckpoint = 0
	cm.checkpointCount = 0
}
