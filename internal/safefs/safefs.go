// Package safefs bounds the filesystem calls issued against the backup
// directory. Backup directories regularly live on NFS or CIFS mounts, and a
// dead mount parks stat(2) in uninterruptible sleep. The wrappers stop
// waiting once the timeout expires; they cannot cancel the underlying
// kernel call.
package safefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"time"
)

// DefaultTimeout bounds a single filesystem call against the backup
// directory.
const DefaultTimeout = 15 * time.Second

// Seams for simulating a hung mount in tests.
var (
	statFn    = os.Stat
	readDirFn = os.ReadDir
	statfsFn  = syscall.Statfs
)

// ErrTimeout classifies filesystem operations that did not complete within
// their timeout.
var ErrTimeout = errors.New("filesystem operation timed out")

// TimeoutError reports which operation on which path ran out of time.
type TimeoutError struct {
	Op      string
	Path    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return "filesystem operation timed out"
	}
	if e.Timeout > 0 {
		return fmt.Sprintf("%s %s: timeout after %s", e.Op, e.Path, e.Timeout)
	}
	return fmt.Sprintf("%s %s: timeout", e.Op, e.Path)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// await runs fn on its own goroutine and waits for the first of: a result,
// context cancellation, or the timeout. A timeout of zero or less runs fn
// inline without protection. The goroutine leaks until the kernel call
// returns; with one call per artifact that stays bounded.
func await[T any](ctx context.Context, op, path string, timeout time.Duration, fn func() (T, error)) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}
	timeout = clampToDeadline(ctx, timeout)
	if timeout <= 0 {
		return fn()
	}

	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		value, err := fn()
		ch <- result{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, &TimeoutError{Op: op, Path: path, Timeout: timeout}
	}
}

// clampToDeadline never waits past the context deadline.
func clampToDeadline(ctx context.Context, timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0
		}
		if remaining < timeout {
			return remaining
		}
	}
	return timeout
}

// Stat is os.Stat bounded by the timeout.
func Stat(ctx context.Context, path string, timeout time.Duration) (fs.FileInfo, error) {
	return await(ctx, "stat", path, timeout, func() (fs.FileInfo, error) {
		return statFn(path)
	})
}

// ReadDir is os.ReadDir bounded by the timeout.
func ReadDir(ctx context.Context, path string, timeout time.Duration) ([]os.DirEntry, error) {
	return await(ctx, "readdir", path, timeout, func() ([]os.DirEntry, error) {
		return readDirFn(path)
	})
}

// Statfs is syscall.Statfs bounded by the timeout.
func Statfs(ctx context.Context, path string, timeout time.Duration) (syscall.Statfs_t, error) {
	return await(ctx, "statfs", path, timeout, func() (syscall.Statfs_t, error) {
		var stat syscall.Statfs_t
		err := statfsFn(path, &stat)
		return stat, err
	})
}
