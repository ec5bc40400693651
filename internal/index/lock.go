package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrIndexBusy is returned when the lock could not be taken before the
// context ended.
var ErrIndexBusy = errors.New("index is locked by another process")

const lockRetry = 50 * time.Millisecond

// Lock is a cross-process lock on a data directory. Indexing holds it
// exclusively; queries hold it shared so they never read a half-written
// index.
type Lock struct {
	path   string
	fl     *flock.Flock
	locked bool
}

// NewLock creates a lock on <dataDir>/index.lock.
func NewLock(dataDir string) *Lock {
	path := filepath.Join(dataDir, LockFile)
	return &Lock{path: path, fl: flock.New(path)}
}

// Lock takes the exclusive lock, retrying until ctx ends.
func (l *Lock) Lock(ctx context.Context) error {
	return l.acquire(ctx, l.fl.TryLockContext)
}

// RLock takes the shared lock, retrying until ctx ends.
func (l *Lock) RLock(ctx context.Context) error {
	return l.acquire(ctx, l.fl.TryRLockContext)
}

func (l *Lock) acquire(ctx context.Context, try func(context.Context, time.Duration) (bool, error)) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := try(ctx, lockRetry)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s", ErrIndexBusy, l.path)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrIndexBusy, l.path)
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *Lock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}
