package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileGuard_LockAnnotateUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "var", FileName)
	guard := NewFileGuard(path, 0)

	require.NoError(t, guard.Lock(context.Background()))
	require.NoError(t, guard.Annotate("first"))
	require.NoError(t, guard.Annotate("second"))
	require.NoError(t, guard.Unlock())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(content))
	assert.Equal(t, path, guard.Path())
}

func TestFileGuard_AuditIsAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("previous run\n"), 0o600))

	guard := NewFileGuard(path, 0)
	require.NoError(t, guard.Lock(context.Background()))
	require.NoError(t, guard.Annotate("this run"))
	require.NoError(t, guard.Unlock())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous run\nthis run\n", string(content))
}

func TestFileGuard_AnnotateWithoutLock(t *testing.T) {
	guard := NewFileGuard(filepath.Join(t.TempDir(), FileName), 0)

	assert.Error(t, guard.Annotate("nope"))
}

func TestFileGuard_UnlockWithoutLock(t *testing.T) {
	guard := NewFileGuard(filepath.Join(t.TempDir(), FileName), 0)

	assert.NoError(t, guard.Unlock())
}

func TestFileGuard_DoubleLock(t *testing.T) {
	guard := NewFileGuard(filepath.Join(t.TempDir(), FileName), 0)
	require.NoError(t, guard.Lock(context.Background()))
	defer func() { _ = guard.Unlock() }()

	err := guard.Lock(context.Background())
	assert.True(t, errors.Is(err, ErrNotAcquired))
}

func TestFileGuard_OpenFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "var")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o600))

	guard := NewFileGuard(filepath.Join(blocker, FileName), 0)
	err := guard.Lock(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOpen))
}

func TestFileGuard_TimeoutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	holder := NewFileGuard(path, 0)
	require.NoError(t, holder.Lock(context.Background()))
	defer func() { _ = holder.Unlock() }()

	waiter := NewFileGuard(path, 200*time.Millisecond)
	waiter.retryDelay = 20 * time.Millisecond

	start := time.Now()
	err := waiter.Lock(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAcquired))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestFileGuard_AcquiredAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	holder := NewFileGuard(path, 0)
	require.NoError(t, holder.Lock(context.Background()))

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = holder.Unlock()
	}()

	waiter := NewFileGuard(path, 5*time.Second)
	waiter.retryDelay = 10 * time.Millisecond
	require.NoError(t, waiter.Lock(context.Background()))
	require.NoError(t, waiter.Unlock())
}

func TestFileGuard_Serializes(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	var inside atomic.Int32
	var overlap atomic.Bool
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			guard := NewFileGuard(path, 0)
			if err := guard.Lock(context.Background()); err != nil {
				t.Error(err)
				return
			}
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(20 * time.Millisecond)
			inside.Add(-1)
			_ = guard.Unlock()
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load())
}
