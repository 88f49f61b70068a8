package wal

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const instanceFileName = "INSTANCE"

// OpenOrCreateInstanceID stamps dir with a UUID on first open (the
// INSTANCE file), or reads back the one already stamped there. The id is
// not written into the checkpoint and recovery does not compare it, so a
// WAL directory from a different Database instance is replayed like any
// other.
func OpenOrCreateInstanceID(dir string) (uuid.UUID, error) {
	path := filepath.Join(dir, instanceFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		id, parseErr := uuid.Parse(strings.TrimSpace(string(data)))
		if parseErr != nil {
			return uuid.UUID{}, parseErr
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return uuid.UUID{}, err
	}

	id := uuid.New()
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o644); err != nil {
		return uuid.UUID{}, err
	}
	return id, nil
}
