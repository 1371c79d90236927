// Package storage locates backup artifacts in the backup directory and
// applies the count-based retention policy.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sbl-ops/dumpguard/internal/logging"
	"github.com/sbl-ops/dumpguard/internal/safefs"
	"github.com/sbl-ops/dumpguard/internal/types"
)

// LocalStore manages the artifacts below a single backup directory.
type LocalStore struct {
	logger    *logging.Logger
	dir       string
	fsTimeout time.Duration
}

// NewLocalStore creates a store rooted at the given directory.
func NewLocalStore(dir string, logger *logging.Logger) *LocalStore {
	return &LocalStore{
		logger:    logger,
		dir:       dir,
		fsTimeout: safefs.DefaultTimeout,
	}
}

// SetFSTimeout adjusts how long a single filesystem call against the backup
// directory may take. Zero disables the protection.
func (l *LocalStore) SetFSTimeout(timeout time.Duration) {
	l.fsTimeout = timeout
}

// Dir returns the backup directory this store operates on.
func (l *LocalStore) Dir() string {
	return l.dir
}

// Locate returns the artifacts in the backup directory whose name matches
// the glob pattern, newest first with ties broken by path. With selectAll
// false at most the single newest match is returned. No match is not an
// error; the only error condition is a malformed pattern.
func (l *LocalStore) Locate(ctx context.Context, pattern string, selectAll bool) ([]types.Artifact, error) {
	return l.LocateAny(ctx, []string{pattern}, selectAll)
}

// LocateAny merges the matches of several glob patterns, deduplicated,
// with the same ordering and selection rules as Locate.
func (l *LocalStore) LocateAny(ctx context.Context, patterns []string, selectAll bool) ([]types.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Malformed patterns are the only pattern-related error condition, so
	// they are rejected before any filesystem work happens.
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}

	entries, err := safefs.ReadDir(ctx, l.dir, l.fsTimeout)
	if err != nil {
		// A backup directory that does not exist yet simply holds no
		// artifacts; a hung or unreadable one is a real failure.
		if os.IsNotExist(err) {
			return []types.Artifact{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", l.dir, err)
	}

	artifacts := make([]types.Artifact, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()

		// Digest records are bookkeeping, never artifacts themselves.
		if strings.HasSuffix(name, types.RecordSuffix) {
			continue
		}
		if entry.IsDir() {
			continue
		}
		if !matchesAny(patterns, name) {
			continue
		}

		path := filepath.Join(l.dir, name)
		stat, err := safefs.Stat(ctx, path, l.fsTimeout)
		if err != nil {
			l.logger.Debug("Local storage: skipping %s: %v", path, err)
			continue
		}
		if stat.IsDir() {
			continue
		}

		artifacts = append(artifacts, types.Artifact{
			Path:       path,
			ModifiedAt: stat.ModTime(),
			SizeBytes:  stat.Size(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		if artifacts[i].ModifiedAt.Equal(artifacts[j].ModifiedAt) {
			return artifacts[i].Path < artifacts[j].Path
		}
		return artifacts[i].ModifiedAt.After(artifacts[j].ModifiedAt)
	})

	if !selectAll && len(artifacts) > 1 {
		artifacts = artifacts[:1]
	}

	return artifacts, nil
}

// matchesAny applies shell glob matching against the bare file name, never
// against the directory part.
func matchesAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// PruneFailure records one artifact that could not be removed.
type PruneFailure struct {
	Path string
	Err  error
}

// PruneResult reports what a retention pass attempted and achieved.
type PruneResult struct {
	Attempted      int
	Removed        int
	RecordsRemoved int
	Failures       []PruneFailure
}

// Prune deletes the oldest artifacts beyond keepCount, together with their
// digest records. The artifacts slice must be ordered newest first, as
// Locate returns it. Retention is disabled when keepCount is zero or
// negative. Individual removal failures are recorded and never abort the
// pass; the returned error is reserved for context cancellation.
func (l *LocalStore) Prune(ctx context.Context, artifacts []types.Artifact, keepCount int) (PruneResult, error) {
	var result PruneResult

	if keepCount <= 0 {
		l.logger.Debug("Retention disabled (keep = %d)", keepCount)
		return result, nil
	}

	total := len(artifacts)
	if total <= keepCount {
		l.logger.Debug("Local storage: %d artifacts (within retention limit of %d)", total, keepCount)
		return result, nil
	}

	toDelete := total - keepCount
	l.logger.Info("Applying retention policy: %d artifacts found, limit is %d, deleting %d oldest",
		total, keepCount, toDelete)

	// Walk from the oldest end of the newest-first slice.
	for i := total - 1; i >= keepCount; i-- {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		artifact := artifacts[i]
		l.logger.Debug("Deleting old artifact: %s (modified: %s)",
			artifact.Name(), artifact.ModifiedAt.Format("2006-01-02 15:04:05"))

		result.Attempted++
		if err := os.Remove(artifact.Path); err != nil {
			if !os.IsNotExist(err) {
				l.logger.Warning("Failed to remove %s: %v", artifact.Path, err)
				result.Failures = append(result.Failures, PruneFailure{Path: artifact.Path, Err: err})
				continue
			}
			l.logger.Debug("Local storage: artifact already removed %s", artifact.Path)
		}
		result.Removed++

		// The record is only cleaned up once its artifact is gone.
		record := artifact.RecordPath()
		if err := os.Remove(record); err != nil {
			if !os.IsNotExist(err) {
				l.logger.Warning("Failed to remove record %s: %v", record, err)
			}
			continue
		}
		result.RecordsRemoved++
	}

	l.logger.Debug("Local storage retention applied: removed %d of %d artifacts (records removed: %d), %d artifacts remaining",
		result.Removed, result.Attempted, result.RecordsRemoved, total-result.Removed)

	return result, nil
}

// Stats summarizes the artifacts currently on disk plus a filesystem space
// snapshot, for the final summary and the metrics textfile.
type Stats struct {
	TotalArtifacts int
	TotalSize      int64
	OldestArtifact *time.Time
	NewestArtifact *time.Time
	AvailableSpace int64
	TotalSpace     int64
}

// Stats gathers statistics over the artifacts matching the given patterns.
func (l *LocalStore) Stats(ctx context.Context, patterns []string) (*Stats, error) {
	artifacts, err := l.LocateAny(ctx, patterns, true)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalArtifacts: len(artifacts),
	}

	var oldest, newest *time.Time
	for _, artifact := range artifacts {
		stats.TotalSize += artifact.SizeBytes

		if oldest == nil || artifact.ModifiedAt.Before(*oldest) {
			t := artifact.ModifiedAt
			oldest = &t
		}
		if newest == nil || artifact.ModifiedAt.After(*newest) {
			t := artifact.ModifiedAt
			newest = &t
		}
	}
	stats.OldestArtifact = oldest
	stats.NewestArtifact = newest

	if stat, err := safefs.Statfs(ctx, l.dir, l.fsTimeout); err != nil {
		l.logger.Debug("Local storage: statfs %s: %v", l.dir, err)
	} else {
		available := int64(stat.Bavail) * int64(stat.Bsize)
		total := int64(stat.Blocks) * int64(stat.Bsize)
		if available < 0 {
			available = 0
		}
		if total < 0 {
			total = 0
		}
		stats.AvailableSpace = available
		stats.TotalSpace = total
	}

	return stats, nil
}
