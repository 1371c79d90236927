// Package checks runs the preflight for a verification or prune pass. Two
// dumpguard runs interleaving on the same backup directory could prune what
// the other is reading, so a per-directory lock file serializes them.
package checks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sbl-ops/dumpguard/internal/logging"
	"github.com/sbl-ops/dumpguard/internal/safefs"
)

// maxLockAge is the point where a leftover lock from a crashed run is
// considered stale and reclaimed.
const maxLockAge = 2 * time.Hour

// minFreeBytes is the free space floor below which the preflight warns.
// Digest records and the metrics textfile still need room to be written.
const minFreeBytes = 100 * 1024 * 1024

// CheckResult is the outcome of a single preflight check.
type CheckResult struct {
	Name    string
	Passed  bool
	Message string
	Err     error
}

// Checker runs the preflight for one backup directory.
type Checker struct {
	logger    *logging.Logger
	backupDir string
	lockPath  string
}

// NewChecker creates a preflight checker for the given backup directory.
// The lock lives in the system temp directory, keyed by the directory path,
// so verifying a read-only backup directory stays possible.
func NewChecker(backupDir string, logger *logging.Logger) *Checker {
	sum := sha256.Sum256([]byte(backupDir))
	lockName := fmt.Sprintf("dumpguard-%s.lock", hex.EncodeToString(sum[:])[:12])
	return &Checker{
		logger:    logger,
		backupDir: backupDir,
		lockPath:  filepath.Join(os.TempDir(), lockName),
	}
}

// LockPath returns where the run lock for this backup directory lives.
func (c *Checker) LockPath() string {
	return c.lockPath
}

// SetLockPath overrides the lock location.
func (c *Checker) SetLockPath(path string) {
	c.lockPath = path
}

// CheckBackupDirectory reports whether the backup directory is reachable.
// A directory that does not exist yet is not fatal, the run will simply find
// no artifacts there.
func (c *Checker) CheckBackupDirectory(ctx context.Context) CheckResult {
	result := CheckResult{Name: "backup directory"}

	info, err := safefs.Stat(ctx, c.backupDir, safefs.DefaultTimeout)
	switch {
	case err == nil && info.IsDir():
		result.Passed = true
		result.Message = c.backupDir
	case err == nil:
		result.Message = fmt.Sprintf("%s is not a directory", c.backupDir)
		result.Err = fmt.Errorf("%s is not a directory", c.backupDir)
	case os.IsNotExist(err):
		result.Message = fmt.Sprintf("%s does not exist yet", c.backupDir)
	default:
		result.Message = fmt.Sprintf("cannot stat %s: %v", c.backupDir, err)
		result.Err = err
	}
	return result
}

// CheckDiskSpace warns when the filesystem holding the backup directory is
// nearly full. Never fatal, the verification itself is mostly read-only.
func (c *Checker) CheckDiskSpace(ctx context.Context) CheckResult {
	result := CheckResult{Name: "disk space"}

	stat, err := safefs.Statfs(ctx, c.backupDir, safefs.DefaultTimeout)
	if err != nil {
		result.Passed = true
		result.Message = fmt.Sprintf("unavailable: %v", err)
		return result
	}

	free := int64(stat.Bavail) * int64(stat.Bsize)
	if free < minFreeBytes {
		result.Message = fmt.Sprintf("only %d MB free on %s", free/(1024*1024), c.backupDir)
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("%d MB free", free/(1024*1024))
	return result
}

// AcquireLock takes the per-directory run lock. A fresh lock held by another
// process fails the check; a stale one left behind by a crashed run is
// reclaimed.
func (c *Checker) AcquireLock() CheckResult {
	result := CheckResult{Name: "run lock"}

	if info, err := os.Stat(c.lockPath); err == nil {
		age := time.Since(info.ModTime())
		if age <= maxLockAge {
			result.Message = fmt.Sprintf("another dumpguard run holds %s (age: %s)", c.lockPath, age.Round(time.Second))
			return result
		}
		c.logger.Warning("Removing stale run lock %s (age: %s)", c.lockPath, age.Round(time.Second))
		if err := os.Remove(c.lockPath); err != nil && !os.IsNotExist(err) {
			result.Message = fmt.Sprintf("cannot remove stale lock %s: %v", c.lockPath, err)
			result.Err = err
			return result
		}
	}

	file, err := os.OpenFile(c.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		if os.IsExist(err) {
			result.Message = fmt.Sprintf("another dumpguard run acquired %s first", c.lockPath)
			return result
		}
		result.Message = fmt.Sprintf("cannot create lock %s: %v", c.lockPath, err)
		result.Err = err
		return result
	}
	defer file.Close()

	hostname, _ := os.Hostname()
	content := fmt.Sprintf("pid=%d\nhost=%s\ntime=%s\n", os.Getpid(), hostname, time.Now().Format(time.RFC3339))
	if _, err := file.WriteString(content); err != nil {
		result.Message = fmt.Sprintf("cannot write lock %s: %v", c.lockPath, err)
		result.Err = err
		return result
	}

	result.Passed = true
	result.Message = c.lockPath
	return result
}

// ReleaseLock drops the run lock. A lock already gone is not an error.
func (c *Checker) ReleaseLock() error {
	if err := os.Remove(c.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release run lock %s: %w", c.lockPath, err)
	}
	c.logger.Debug("Run lock released: %s", c.lockPath)
	return nil
}

// RunPreflight executes every check. Only lock contention stops the run;
// the directory and disk checks degrade to warnings.
func (c *Checker) RunPreflight(ctx context.Context) error {
	for _, result := range []CheckResult{
		c.CheckBackupDirectory(ctx),
		c.CheckDiskSpace(ctx),
	} {
		if result.Passed {
			c.logger.Debug("Preflight %s: %s", result.Name, result.Message)
			continue
		}
		c.logger.Warning("Preflight %s: %s", result.Name, result.Message)
	}

	lock := c.AcquireLock()
	if !lock.Passed {
		if lock.Err != nil {
			return lock.Err
		}
		return errors.New(lock.Message)
	}
	c.logger.Debug("Preflight %s: %s", lock.Name, lock.Message)
	return nil
}
