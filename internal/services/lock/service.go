// Package lock provides the exclusive run guard that serializes database dumps.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FileName is the name of the lock file inside the writable state directory.
const FileName = "dbdump.lock"

// Errors returned by Lock.
var (
	ErrOpen        = errors.New("could not open lock file")
	ErrNotAcquired = errors.New("could not acquire lock")
)

// Guard is an exclusive run guard. Only one holder may be between Lock and Unlock at
// a time; holders may append audit lines while they hold it.
type Guard interface {
	Lock(ctx context.Context) error
	Unlock() error
	Annotate(line string) error
	Path() string
}

// FileGuard implements Guard with an advisory lock on a file that doubles as an
// append-only audit log.
type FileGuard struct {
	path       string
	timeout    time.Duration
	retryDelay time.Duration

	mu    sync.Mutex
	lock  *flock.Flock
	audit *os.File
}

// NewFileGuard creates a guard on path. A zero timeout blocks until the lock is free.
func NewFileGuard(path string, timeout time.Duration) *FileGuard {
	return &FileGuard{
		path:       path,
		timeout:    timeout,
		retryDelay: 500 * time.Millisecond,
	}
}

// Path returns the lock file location.
func (g *FileGuard) Path() string {
	return g.path
}

// Lock opens (creating if needed) the lock file and takes the exclusive lock.
func (g *FileGuard) Lock(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lock != nil {
		return fmt.Errorf("%w: already held by this guard", ErrNotAcquired)
	}

	if err := os.MkdirAll(filepath.Dir(g.path), 0o750); err != nil {
		return fmt.Errorf("%w: %w", ErrOpen, err)
	}
	audit, err := os.OpenFile(g.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // path comes from configuration
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpen, err)
	}

	fl := flock.New(g.path)
	if err := g.acquire(ctx, fl); err != nil {
		_ = audit.Close()
		return err
	}

	g.lock = fl
	g.audit = audit
	return nil
}

func (g *FileGuard) acquire(ctx context.Context, fl *flock.Flock) error {
	if g.timeout <= 0 {
		if err := fl.Lock(); err != nil {
			return fmt.Errorf("%w: %w", ErrNotAcquired, err)
		}
		return nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, g.retryDelay)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotAcquired, err)
	}
	if !locked {
		return fmt.Errorf("%w: held by another process", ErrNotAcquired)
	}
	return nil
}

// Annotate appends a line to the lock file.
func (g *FileGuard) Annotate(line string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.audit == nil {
		return errors.New("lock is not held")
	}
	if _, err := g.audit.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("writing lock file: %w", err)
	}
	return g.audit.Sync()
}

// Unlock releases the lock and closes the file handles. It is safe to call when the
// lock is not held.
func (g *FileGuard) Unlock() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	if g.lock != nil {
		if err := g.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("releasing lock: %w", err))
		}
		g.lock = nil
	}
	if g.audit != nil {
		if err := g.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing lock file: %w", err))
		}
		g.audit = nil
	}
	return errors.Join(errs...)
}
