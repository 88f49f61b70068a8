package wal

import (
	"fmt"
	"os"
	"sync"

	"github.com/reldb/reldb/internal/logger"
)

// Trimmer deletes WAL segments that are entirely covered by a checkpoint,
// keeping the most recent keepSegments segments (plus the active one) as
// a safety margin regardless of checkpoint position.
type Trimmer struct {
	dir    string
	logger *logger.Logger

	mu          sync.Mutex
	trimmedSegs []string
}

func NewTrimmer(dir string, log *logger.Logger) *Trimmer {
	return &Trimmer{dir: dir, logger: log}
}

// TrimBeforeCheckpoint removes every fully-covered segment except the
// active one and keepSegments immediately before it.
func (t *Trimmer) TrimBeforeCheckpoint(keepSegments int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	paths, err := ListSegmentPaths(t.dir)
	if err != nil {
		return fmt.Errorf("wal: list segments: %w", err)
	}
	if len(paths) <= keepSegments+1 {
		return nil
	}

	trimCount := len(paths) - keepSegments - 1
	trimmed := 0
	for i := 0; i < trimCount; i++ {
		path := paths[i]
		if err := os.Remove(path); err != nil {
			t.logger.Warn("wal: failed to trim segment %s: %v", path, err)
			continue
		}
		t.trimmedSegs = append(t.trimmedSegs, path)
		trimmed++
		t.logger.Info("wal: trimmed segment %s", path)
	}
	if trimmed > 0 {
		t.logger.Info("wal: trimmed %d segments, kept %d plus active", trimmed, keepSegments)
	}
	return nil
}

func (t *Trimmer) TrimmedSegments() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.trimmedSegs))
	copy(out, t.trimmedSegs)
	return out
}
