// Package transfer fetches the newest remote backup artifact using the
// system ssh and scp binaries. Remote paths are passed as quoted argument
// lists, never interpolated into a shell template.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sbl-ops/dumpguard/internal/config"
	"github.com/sbl-ops/dumpguard/internal/logging"
	"github.com/sbl-ops/dumpguard/internal/types"
	"github.com/sbl-ops/dumpguard/pkg/utils"
)

// ErrNoRemoteMatch reports that the remote listing succeeded but nothing
// matched the configured patterns. Callers must be able to tell this apart
// from a transport failure.
var ErrNoRemoteMatch = errors.New("no remote file matches the configured patterns")

// Fetcher downloads the newest matching artifact from the remote host.
type Fetcher struct {
	config      *config.Config
	logger      *logging.Logger
	execCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
	lookPath    func(string) (string, error)
}

// NewFetcher creates a fetcher bound to the remote settings in cfg.
func NewFetcher(cfg *config.Config, logger *logging.Logger) *Fetcher {
	return &Fetcher{
		config:      cfg,
		logger:      logger,
		execCommand: defaultExecCommand,
		lookPath:    exec.LookPath,
	}
}

func defaultExecCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// IsEnabled returns true if a remote host is configured.
func (f *Fetcher) IsEnabled() bool {
	return f.config.RemoteEnabled && strings.TrimSpace(f.config.RemoteHost) != ""
}

// FetchLatest lists the remote backup directory newest-first, copies the
// newest artifact matching the configured patterns into the local backup
// directory preserving its filename, and returns the local artifact.
func (f *Fetcher) FetchLatest(ctx context.Context) (types.Artifact, error) {
	done := logging.DebugStart(f.logger, "remote fetch", "%s@%s:%s",
		f.config.RemoteUser, f.config.RemoteHost, f.config.RemoteDir)
	artifact, err := f.fetchLatest(ctx)
	done(err)
	return artifact, err
}

func (f *Fetcher) fetchLatest(ctx context.Context) (types.Artifact, error) {
	var artifact types.Artifact

	if !f.IsEnabled() {
		return artifact, fmt.Errorf("remote fetch is not configured (set REMOTE_HOST)")
	}
	if _, err := f.lookPath(f.config.SSHBinary); err != nil {
		return artifact, fmt.Errorf("%s command not found in PATH", f.config.SSHBinary)
	}
	if _, err := f.lookPath(f.config.SCPBinary); err != nil {
		return artifact, fmt.Errorf("%s command not found in PATH", f.config.SCPBinary)
	}

	names, err := f.listRemote(ctx)
	if err != nil {
		return artifact, err
	}

	newest := ""
	for _, name := range names {
		if matchesAny(name, f.config.BackupPatterns) {
			newest = name
			break
		}
	}
	if newest == "" {
		return artifact, fmt.Errorf("%w in %s", ErrNoRemoteMatch, f.config.RemoteDir)
	}
	f.logger.Info("Newest remote artifact: %s", newest)

	if err := utils.EnsureDir(f.config.BackupDir); err != nil {
		return artifact, fmt.Errorf("cannot prepare backup directory: %w", err)
	}
	localPath := filepath.Join(f.config.BackupDir, newest)

	if err := f.copyRemote(ctx, newest, localPath); err != nil {
		return artifact, err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return artifact, fmt.Errorf("downloaded artifact not found at %s: %w", localPath, err)
	}

	artifact = types.Artifact{
		Path:       localPath,
		ModifiedAt: info.ModTime(),
		SizeBytes:  info.Size(),
	}
	f.logger.Info("Downloaded %s (%s)", artifact.Name(), utils.FormatBytes(artifact.SizeBytes))
	return artifact, nil
}

// listRemote returns the remote directory entries newest-first.
func (f *Fetcher) listRemote(ctx context.Context) ([]string, error) {
	args := f.sshArgs()
	args = append(args, "ls -1t -- "+shellQuote(f.config.RemoteDir))
	f.logger.Debug("Running remote listing: %s %s", f.config.SSHBinary, strings.Join(args, " "))

	output, err := f.execCommand(ctx, f.config.SSHBinary, args...)
	if err != nil {
		return nil, fmt.Errorf("remote listing failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	var names []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	f.logger.Debug("Remote listing returned %d entries", len(names))
	return names, nil
}

// copyRemote downloads one remote file to the given local path.
func (f *Fetcher) copyRemote(ctx context.Context, name, localPath string) error {
	remotePath := path.Join(f.config.RemoteDir, name)
	source := fmt.Sprintf("%s@%s:%s", f.config.RemoteUser, f.config.RemoteHost, shellQuote(remotePath))

	args := f.scpArgs()
	args = append(args, source, localPath)
	f.logger.Debug("Running remote copy: %s %s", f.config.SCPBinary, strings.Join(args, " "))

	output, err := f.execCommand(ctx, f.config.SCPBinary, args...)
	if err != nil {
		return fmt.Errorf("remote copy failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// sshArgs builds the common ssh argument list up to and including the
// user@host target.
func (f *Fetcher) sshArgs() []string {
	args := []string{
		"-o", "BatchMode=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", f.config.ConnectTimeoutSeconds),
		"-p", strconv.Itoa(f.config.RemotePort),
	}
	if f.config.SSHIdentityFile != "" {
		args = append(args, "-i", f.config.SSHIdentityFile)
	}
	return append(args, fmt.Sprintf("%s@%s", f.config.RemoteUser, f.config.RemoteHost))
}

// scpArgs builds the common scp argument list. scp takes the port as -P.
func (f *Fetcher) scpArgs() []string {
	args := []string{
		"-o", "BatchMode=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", f.config.ConnectTimeoutSeconds),
		"-P", strconv.Itoa(f.config.RemotePort),
	}
	if f.config.SSHIdentityFile != "" {
		args = append(args, "-i", f.config.SSHIdentityFile)
	}
	return args
}

func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// shellQuote single-quotes a string for the remote shell, so remote paths
// never go through metacharacter expansion.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
