// Package persistence implements C11: binary save/load of table images
// (both the compact non-MVCC snapshot and the full MVCC version-chain
// format) and the CLOG file, plus the small catalog file that records
// which tables/indexes exist across a restart. Every format here is
// little-endian, built with the same encode-into-a-byte-slice /
// decode-by-walking-offsets idiom as internal/value and internal/wal,
// and reuses value.Append/Decode for the leaf value encoding so a single
// value has the same bytes in a table file as in a WAL record.
package persistence

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/reldb/reldb/internal/errors"
)

var byteOrder = binary.LittleEndian

const formatVersion uint32 = 1

var (
	tableMagic   = []byte("BDVT")
	clogMagic    = []byte("CLOG")
	catalogMagic = []byte("RCAT")
)

// Format selects which of the two coexisting table-file layouts Save/Load
// use: Snapshot keeps only each row's current visible state (written with
// txid 0, the always-committed bootstrap transaction, so it is visible to
// every snapshot on reload); MVCC preserves every version in the chain
// verbatim, needed when reload must be followed by WAL replay beyond a
// checkpoint.
type Format int

const (
	FormatSnapshot Format = iota
	FormatMVCC
)

func putUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	byteOrder.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func putUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	byteOrder.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func putString(buf []byte, s string) []byte {
	buf = putUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func readUint32(data []byte, off int) (uint32, int, error) {
	if off+4 > len(data) {
		return 0, off, errors.ErrFileRead
	}
	return byteOrder.Uint32(data[off:]), off + 4, nil
}

func readUint64(data []byte, off int) (uint64, int, error) {
	if off+8 > len(data) {
		return 0, off, errors.ErrFileRead
	}
	return byteOrder.Uint64(data[off:]), off + 8, nil
}

func readString(data []byte, off int) (string, int, error) {
	n, off, err := readUint32(data, off)
	if err != nil {
		return "", off, err
	}
	if off+int(n) > len(data) {
		return "", off, errors.ErrFileRead
	}
	s := string(data[off : off+int(n)])
	return s, off + int(n), nil
}

// withChecksum appends a trailing CRC32 over everything written so far,
// matching the WAL record's own tail-checksum discipline so a partially
// written table/CLOG/catalog file (interrupted mid-save) is detected
// rather than silently loaded as truncated garbage.
func withChecksum(buf []byte) []byte {
	return putUint32(buf, crc32.ChecksumIEEE(buf))
}

// verifyChecksum checks the trailing CRC32 written by withChecksum and
// returns the payload with the checksum trimmed off.
func verifyChecksum(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, errors.ErrCorruptRecord
	}
	payload := data[:len(data)-4]
	stored := byteOrder.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(payload) != stored {
		return nil, errors.ErrCRCMismatch
	}
	return payload, nil
}
