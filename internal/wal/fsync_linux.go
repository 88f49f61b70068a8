//go:build linux

package wal

import (
	"os"

	"golang.org/x/sys/unix"
)

// dataSync performs a data-only sync (no metadata flush), the cheaper
// alternative to a full fsync that still satisfies the durability
// contract: once it returns, every byte written so far is on stable
// storage.
func dataSync(f *os.File) error {
	if err := unix.Fdatasync(int(f.Fd())); err != nil {
		return f.Sync()
	}
	return nil
}
