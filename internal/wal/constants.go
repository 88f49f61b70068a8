package wal

const (
	// Magic identifies a WAL record, ASCII "RWAL" little-endian.
	Magic uint32 = 0x4c415752

	FormatVersion uint32 = 1

	RecordLenSize = 8
	MagicSize     = 4
	VersionSize   = 4
	KindSize      = 2
	TxIDSize      = 8
	RowIDSize     = 8
	LSNSize       = 8
	NameLenSize   = 2
	ValueTagSize  = 1
	CRCSize       = 4

	// HeaderSize covers every fixed-width field up to (but not including)
	// the variable-length table/column names and tagged value.
	HeaderSize = RecordLenSize + MagicSize + VersionSize + KindSize + TxIDSize + RowIDSize + LSNSize

	MaxNameLen  = 256
	MaxTextLen  = 64 * 1024 * 1024
	MaxEmbedLen = 1 << 20
)
