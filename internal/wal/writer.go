package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/reldb/reldb/internal/logger"
)

const segmentSuffix = ".wal"

func segmentName(seq uint64) string {
	return fmt.Sprintf("%016d%s", seq, segmentSuffix)
}

// Writer owns the active WAL segment for one directory: append, fsync,
// and size-bounded rotation. Rotation follows CREATE-NEW-FIRST: the
// replacement segment is created and the writer switched onto it before
// the old segment's handle is closed, so a rotation that fails while
// creating the new file leaves the writer still holding its old, valid
// handle.
type Writer struct {
	mu sync.Mutex

	dir     string
	file    *os.File
	seq     uint64
	size    uint64
	nextLSN uint64
	maxSize uint64
	fsync   bool
	logger  *logger.Logger
}

// NewWriter creates a writer for the given directory. maxSize bounds the
// active segment size (0 = unbounded, no rotation); fsync selects whether
// Flush performs a data sync.
func NewWriter(dir string, maxSize uint64, fsync bool, log *logger.Logger) *Writer {
	return &Writer{dir: dir, maxSize: maxSize, fsync: fsync, logger: log}
}

// Open scans dir for existing segments, opens (or creates) the newest one
// for append, and resumes LSN assignment from startLSN (recovery supplies
// the highest LSN observed in the replayed log plus one).
func (w *Writer) Open(startLSN uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}

	segs, err := w.listSegments()
	if err != nil {
		return err
	}

	seq := uint64(1)
	if len(segs) > 0 {
		seq = segs[len(segs)-1]
	}

	path := filepath.Join(w.dir, segmentName(seq))
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return ErrFileOpen
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}

	w.file = file
	w.seq = seq
	w.size = uint64(info.Size())
	w.nextLSN = startLSN
	return nil
}

// Append serializes record, assigning it the next LSN, rotating the
// active segment first if the write would exceed maxSize. It does not
// fsync; call Flush for durability.
func (w *Writer) Append(r Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	r.LSN = w.nextLSN
	encoded, err := Encode(r)
	if err != nil {
		return 0, err
	}

	if w.maxSize > 0 && w.size+uint64(len(encoded)) > w.maxSize {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(encoded)
	if err != nil {
		return 0, ErrFileWrite
	}
	w.size += uint64(n)
	if r.LSN > 0 {
		lsnMonotonicHook(r.LSN-1, r.LSN)
	}
	w.nextLSN++
	return r.LSN, nil
}

// Flush performs a data-only sync through the OS; it does nothing when the
// writer was created with fsync disabled.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil || !w.fsync {
		return nil
	}
	if err := dataSync(w.file); err != nil {
		return ErrFileSync
	}
	return nil
}

// Rotate closes the active segment once a replacement has been
// successfully created and switched to.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateLocked()
}

func (w *Writer) rotateLocked() error {
	newSeq := w.seq + 1
	newPath := filepath.Join(w.dir, segmentName(newSeq))

	newFile, err := os.OpenFile(newPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		// The pre-rotation file remains the active, usable handle.
		return ErrRotationFailed
	}

	oldFile := w.file
	w.file = newFile
	w.seq = newSeq
	w.size = 0

	if oldFile != nil {
		oldFile.Sync()
		oldFile.Close()
	}
	w.logger.Info("wal: rotated to segment %d", newSeq)
	return nil
}

// Size returns the active segment's current size in bytes.
func (w *Writer) Size() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// NextLSN returns the LSN that would be assigned to the next Append.
func (w *Writer) NextLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextLSN
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	if err := dataSync(w.file); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil
	return nil
}

// listSegments returns every segment's sequence number, ascending.
func (w *Writer) listSegments() ([]uint64, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var segs []uint64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), segmentSuffix) {
			continue
		}
		numStr := strings.TrimSuffix(e.Name(), segmentSuffix)
		seq, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			continue
		}
		segs = append(segs, seq)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i] < segs[j] })
	return segs, nil
}

// ListSegmentPaths returns every existing segment's full path in
// replay order (oldest first), including the active one.
func ListSegmentPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type seg struct {
		seq  uint64
		path string
	}
	var segs []seg
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), segmentSuffix) {
			continue
		}
		numStr := strings.TrimSuffix(e.Name(), segmentSuffix)
		seq, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			continue
		}
		segs = append(segs, seg{seq: seq, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].seq < segs[j].seq })
	paths := make([]string, len(segs))
	for i, s := range segs {
		paths[i] = s.path
	}
	return paths, nil
}
