// Package locking provides a process-wide, cross-process migration latch
// for a storage root: an flock'd sidecar file that ensures only one
// process performs first-boot schema migration (or historical JSONL
// import) for a given storage directory at a time.
package locking

import (
	"fmt"
	"os"
)

// MigrationLatch guards a storage root's one-time initialization work.
type MigrationLatch struct {
	lockPath string
}

// NewMigrationLatch builds a latch for the sidecar file
// "<storageDir>/.migrate.lock".
func NewMigrationLatch(storageDir string) *MigrationLatch {
	return &MigrationLatch{lockPath: storageDir + "/.migrate.lock"}
}

// Run acquires the cross-process lock, then calls fn while held. The
// lock is released on return regardless of fn's error.
func (m *MigrationLatch) Run(fn func() error) error {
	f, err := os.OpenFile(m.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open migration lock: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := flockLock(f.Fd()); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer flockUnlock(f.Fd()) //nolint:errcheck

	return fn()
}
