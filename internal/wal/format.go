// Package wal implements the write-ahead log: append-only records with
// rotation and fsync discipline, plus the reader used by recovery.
//
// Record layout (little-endian throughout):
//
//	[8 bytes: record_len] [4 bytes: magic] [4 bytes: version]
//	[2 bytes: kind] [8 bytes: tx_id] [8 bytes: row_id] [8 bytes: lsn]
//	[2 bytes: table_name_len] [table_name] [2 bytes: column_name_len] [column_name]
//	[1 byte: value_tag] [value_data] [4 bytes: crc32]
//
// Durability: Flush fsyncs through the OS; a record is only guaranteed
// durable once its LSN has been covered by a successful Flush. CRC32
// detects corruption; Reader reports a truncated or CRC-mismatched record
// as an error, and Recovery treats one in the last segment as end-of-log
// (truncating it away), since it may simply be an in-flight write
// interrupted by a crash. Corruption in an earlier segment is fatal.
package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/reldb/reldb/internal/value"
)

// Kind tags the semantic meaning of a WAL record.
type Kind uint16

const (
	KindBeginTx Kind = iota
	KindCommitTx
	KindAbortTx
	KindInsertRow
	KindUpdateCol
	KindDeleteRow
	KindCheckpoint
)

func (k Kind) String() string {
	switch k {
	case KindBeginTx:
		return "begin_tx"
	case KindCommitTx:
		return "commit_tx"
	case KindAbortTx:
		return "abort_tx"
	case KindInsertRow:
		return "insert_row"
	case KindUpdateCol:
		return "update_col"
	case KindDeleteRow:
		return "delete_row"
	case KindCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// Record is one WAL entry. TableName/ColumnName/Value are only meaningful
// for the row-mutation kinds; begin/commit/abort carry only TxID, and
// checkpoint carries only LSN.
type Record struct {
	Kind       Kind
	TxID       uint64
	RowID      uint64
	LSN        uint64
	TableName  string
	ColumnName string
	Value      value.Value
}

// Encode serializes r into a length-prefixed, CRC-protected byte slice.
func Encode(r Record) ([]byte, error) {
	tableBytes := []byte(r.TableName)
	columnBytes := []byte(r.ColumnName)
	if len(tableBytes) > MaxNameLen || len(columnBytes) > MaxNameLen {
		return nil, ErrNameTooLarge
	}

	valueSize := value.EncodedSize(r.Value)
	totalLen := uint64(HeaderSize) +
		NameLenSize + uint64(len(tableBytes)) +
		NameLenSize + uint64(len(columnBytes)) +
		uint64(valueSize) +
		CRCSize

	buf := make([]byte, 0, totalLen)

	var tmp8 [8]byte
	byteOrder.PutUint64(tmp8[:], totalLen)
	buf = append(buf, tmp8[:]...)

	var tmp4 [4]byte
	byteOrder.PutUint32(tmp4[:], Magic)
	buf = append(buf, tmp4[:]...)
	byteOrder.PutUint32(tmp4[:], FormatVersion)
	buf = append(buf, tmp4[:]...)

	var tmp2 [2]byte
	byteOrder.PutUint16(tmp2[:], uint16(r.Kind))
	buf = append(buf, tmp2[:]...)

	byteOrder.PutUint64(tmp8[:], r.TxID)
	buf = append(buf, tmp8[:]...)
	byteOrder.PutUint64(tmp8[:], r.RowID)
	buf = append(buf, tmp8[:]...)
	byteOrder.PutUint64(tmp8[:], r.LSN)
	buf = append(buf, tmp8[:]...)

	byteOrder.PutUint16(tmp2[:], uint16(len(tableBytes)))
	buf = append(buf, tmp2[:]...)
	buf = append(buf, tableBytes...)

	byteOrder.PutUint16(tmp2[:], uint16(len(columnBytes)))
	buf = append(buf, tmp2[:]...)
	buf = append(buf, columnBytes...)

	buf = value.Append(buf, r.Value)

	crc := crc32.ChecksumIEEE(buf)
	byteOrder.PutUint32(tmp4[:], crc)
	buf = append(buf, tmp4[:]...)

	return buf, nil
}

// Decode parses a full record (including its length prefix and trailing
// CRC) from data. data must be exactly one record's bytes, as delimited
// by the record_len field Reader already validated.
func Decode(data []byte) (Record, error) {
	if len(data) < HeaderSize+CRCSize {
		return Record{}, ErrCorruptRecord
	}

	storedCRC := byteOrder.Uint32(data[len(data)-CRCSize:])
	computedCRC := crc32.ChecksumIEEE(data[:len(data)-CRCSize])
	if storedCRC != computedCRC {
		return Record{}, ErrCRCMismatch
	}

	off := 0
	recordLen := byteOrder.Uint64(data[off:])
	off += RecordLenSize
	if uint64(len(data)) != recordLen {
		return Record{}, ErrCorruptRecord
	}

	magic := byteOrder.Uint32(data[off:])
	off += MagicSize
	if magic != Magic {
		return Record{}, ErrCorruptRecord
	}

	version := byteOrder.Uint32(data[off:])
	off += VersionSize
	if version != FormatVersion {
		return Record{}, ErrUnsupportedVersion
	}

	kind := Kind(byteOrder.Uint16(data[off:]))
	off += KindSize

	txID := byteOrder.Uint64(data[off:])
	off += TxIDSize
	rowID := byteOrder.Uint64(data[off:])
	off += RowIDSize
	lsn := byteOrder.Uint64(data[off:])
	off += LSNSize

	if off+NameLenSize > len(data) {
		return Record{}, ErrCorruptRecord
	}
	tableLen := int(byteOrder.Uint16(data[off:]))
	off += NameLenSize
	if off+tableLen > len(data) {
		return Record{}, ErrCorruptRecord
	}
	tableName := string(data[off : off+tableLen])
	off += tableLen

	if off+NameLenSize > len(data) {
		return Record{}, ErrCorruptRecord
	}
	columnLen := int(byteOrder.Uint16(data[off:]))
	off += NameLenSize
	if off+columnLen > len(data) {
		return Record{}, ErrCorruptRecord
	}
	columnName := string(data[off : off+columnLen])
	off += columnLen

	v, n, err := value.Decode(data[off : len(data)-CRCSize])
	if err != nil {
		return Record{}, ErrCorruptRecord
	}
	off += n
	if off != len(data)-CRCSize {
		return Record{}, ErrCorruptRecord
	}

	return Record{
		Kind:       kind,
		TxID:       txID,
		RowID:      rowID,
		LSN:        lsn,
		TableName:  tableName,
		ColumnName: columnName,
		Value:      v,
	}, nil
}

var byteOrder = binary.LittleEndian
