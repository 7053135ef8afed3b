package cli

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another pass holds the target lock.
var ErrLocked = errors.New("another sync holds the target lock")

// lockPath is the lock file guarding a target database.
func lockPath(dbPath string) string {
	return dbPath + ".lock"
}

// acquireLock takes the exclusive lock for a target database without
// waiting. Passes against one target never overlap.
func acquireLock(dbPath string) (*flock.Flock, error) {
	lock := flock.New(lockPath(dbPath))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring sync lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, lock.Path())
	}
	return lock, nil
}
