package wal

import (
	"io"
	"os"

	"github.com/reldb/reldb/internal/logger"
)

// Reader enumerates records from one WAL segment file in order. It is not
// thread-safe; callers use one Reader per segment.
type Reader struct {
	file   *os.File
	path   string
	logger *logger.Logger
}

func NewReader(path string, log *logger.Logger) *Reader {
	return &Reader{path: path, logger: log}
}

func (r *Reader) Open() error {
	file, err := os.Open(r.path)
	if err != nil {
		return err
	}
	r.file = file
	return nil
}

// Next returns the next record, (zero Record, false, nil) at a
// clean end-of-file, or an error if the record at the cursor is truncated
// or fails its CRC. The caller (Recovery) decides whether that error is
// tolerable tail corruption or a fatal mid-log error.
func (r *Reader) Next() (Record, bool, error) {
	if r.file == nil {
		return Record{}, false, ErrFileRead
	}

	lenBuf := make([]byte, RecordLenSize)
	if _, err := io.ReadFull(r.file, lenBuf); err != nil {
		if err == io.EOF {
			return Record{}, false, nil
		}
		return Record{}, false, ErrCorruptRecord
	}

	recordLen := byteOrder.Uint64(lenBuf)
	if recordLen < uint64(HeaderSize+CRCSize) || recordLen > uint64(MaxTextLen+MaxEmbedLen*4+HeaderSize+2*NameLenSize+2*MaxNameLen+CRCSize) {
		return Record{}, false, ErrCorruptRecord
	}

	rest := make([]byte, recordLen-RecordLenSize)
	if _, err := io.ReadFull(r.file, rest); err != nil {
		return Record{}, false, ErrCorruptRecord
	}

	full := make([]byte, recordLen)
	copy(full[:RecordLenSize], lenBuf)
	copy(full[RecordLenSize:], rest)

	rec, err := Decode(full)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Offset reports the reader's current byte position, used to truncate a
// segment at the last successfully read record.
func (r *Reader) Offset() (int64, error) {
	return r.file.Seek(0, io.SeekCurrent)
}

func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
