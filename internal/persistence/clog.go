package persistence

import (
	"github.com/reldb/reldb/internal/errors"
	"github.com/reldb/reldb/internal/txn"
)

// SaveCLOG writes the full commit log to path: magic "CLOG", version,
// entry count, then {txid, status} pairs. Entries for txid 0 are never
// written since it is always committed regardless of stored state.
func SaveCLOG(path string, clog map[uint64]txn.Status, io *IOPolicy) error {
	buf := io.bufPool.Get(4096)
	defer io.bufPool.Put(buf)

	buf = append(buf, clogMagic...)
	buf = putUint32(buf, formatVersion)

	entries := make([]uint64, 0, len(clog))
	for txid := range clog {
		if txid == 0 {
			continue
		}
		entries = append(entries, txid)
	}
	buf = putUint32(buf, uint32(len(entries)))
	for _, txid := range entries {
		buf = putUint64(buf, txid)
		buf = append(buf, byte(clog[txid]))
	}

	buf = withChecksum(buf)
	return io.writeFile(path, buf)
}

// LoadCLOG reads a CLOG file previously written by SaveCLOG. A missing
// file is not an error: it means the database has never checkpointed, and
// callers should proceed with an empty CLOG (every status then comes from
// WAL replay from the beginning).
func LoadCLOG(path string, io *IOPolicy) (map[uint64]txn.Status, error) {
	data, err := io.readFile(path)
	if err != nil {
		return nil, err
	}
	payload, err := verifyChecksum(data)
	if err != nil {
		return nil, err
	}

	if len(payload) < 4 || string(payload[:4]) != string(clogMagic) {
		return nil, errors.ErrCorruptRecord
	}
	off := 4
	version, off, err := readUint32(payload, off)
	if err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, errors.ErrUnsupportedVersion
	}

	count, off, err := readUint32(payload, off)
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]txn.Status, count)
	for i := uint32(0); i < count; i++ {
		var txid uint64
		txid, off, err = readUint64(payload, off)
		if err != nil {
			return nil, err
		}
		if off >= len(payload) {
			return nil, errors.ErrFileRead
		}
		out[txid] = txn.Status(payload[off])
		off++
	}
	return out, nil
}
