package persistence

import (
	"github.com/reldb/reldb/internal/errors"
	"github.com/reldb/reldb/internal/types"
)

// Catalog is the whole-database restart manifest: which tables and
// indexes exist (supplementing spec.md §6, which is silent on how the set
// of *.tbl files is itself tracked across a restart), plus the last
// checkpoint's LSN so recovery knows where to resume WAL replay without
// re-scanning every segment from the beginning.
type Catalog struct {
	LastCheckpointLSN uint64
	Tables            []types.CatalogEntry
	Indexes           []types.IndexCatalogEntry
}

func SaveCatalog(path string, cat Catalog, io *IOPolicy) error {
	buf := io.bufPool.Get(4096)
	defer io.bufPool.Put(buf)

	buf = append(buf, catalogMagic...)
	buf = putUint32(buf, formatVersion)
	buf = putUint64(buf, cat.LastCheckpointLSN)

	buf = putUint32(buf, uint32(len(cat.Tables)))
	for _, e := range cat.Tables {
		buf = putString(buf, e.TableName)
		buf = putString(buf, e.FileName)
		if e.Dropped {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}

	buf = putUint32(buf, uint32(len(cat.Indexes)))
	for _, e := range cat.Indexes {
		buf = putString(buf, e.Name)
		buf = putString(buf, e.Table)
		buf = putString(buf, e.Column)
	}

	buf = withChecksum(buf)
	return io.writeFile(path, buf)
}

// LoadCatalog reads a catalog file previously written by SaveCatalog. A
// missing file means first startup against an empty data directory: the
// caller gets a zero-value Catalog and proceeds as a fresh database.
func LoadCatalog(path string, io *IOPolicy) (Catalog, error) {
	data, err := io.readFile(path)
	if err != nil {
		return Catalog{}, err
	}
	payload, err := verifyChecksum(data)
	if err != nil {
		return Catalog{}, err
	}

	if len(payload) < 4 || string(payload[:4]) != string(catalogMagic) {
		return Catalog{}, errors.ErrCorruptRecord
	}
	off := 4
	version, off, err := readUint32(payload, off)
	if err != nil {
		return Catalog{}, err
	}
	if version != formatVersion {
		return Catalog{}, errors.ErrUnsupportedVersion
	}

	lsn, off, err := readUint64(payload, off)
	if err != nil {
		return Catalog{}, err
	}

	tableCount, off, err := readUint32(payload, off)
	if err != nil {
		return Catalog{}, err
	}
	tables := make([]types.CatalogEntry, tableCount)
	for i := range tables {
		var name, file string
		name, off, err = readString(payload, off)
		if err != nil {
			return Catalog{}, err
		}
		file, off, err = readString(payload, off)
		if err != nil {
			return Catalog{}, err
		}
		if off >= len(payload) {
			return Catalog{}, errors.ErrFileRead
		}
		tables[i] = types.CatalogEntry{TableName: name, FileName: file, Dropped: payload[off] != 0}
		off++
	}

	indexCount, off, err := readUint32(payload, off)
	if err != nil {
		return Catalog{}, err
	}
	indexes := make([]types.IndexCatalogEntry, indexCount)
	for i := range indexes {
		var name, table, column string
		name, off, err = readString(payload, off)
		if err != nil {
			return Catalog{}, err
		}
		table, off, err = readString(payload, off)
		if err != nil {
			return Catalog{}, err
		}
		column, off, err = readString(payload, off)
		if err != nil {
			return Catalog{}, err
		}
		indexes[i] = types.IndexCatalogEntry{Name: name, Table: table, Column: column}
	}

	return Catalog{LastCheckpointLSN: lsn, Tables: tables, Indexes: indexes}, nil
}
