package wal

import "errors"

var (
	ErrNameTooLarge     = errors.New("wal: table/column name exceeds maximum size")
	ErrValueTooLarge    = errors.New("wal: value payload exceeds maximum size")
	ErrCorruptRecord    = errors.New("wal: corrupt record: invalid length or format")
	ErrCRCMismatch      = errors.New("wal: crc mismatch")
	ErrUnsupportedVersion = errors.New("wal: unsupported record version")
	ErrFileOpen         = errors.New("wal: failed to open file")
	ErrFileWrite        = errors.New("wal: failed to write file")
	ErrFileSync         = errors.New("wal: failed to sync file")
	ErrFileRead         = errors.New("wal: failed to read file")
	ErrRotationFailed   = errors.New("wal: rotation failed")
	ErrForeignInstance  = errors.New("wal: directory stamped by a different instance")
)
