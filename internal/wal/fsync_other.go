//go:build !linux

package wal

import "os"

// dataSync falls back to a full fsync on platforms without Fdatasync.
func dataSync(f *os.File) error {
	return f.Sync()
}
