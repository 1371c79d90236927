package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/sbl-ops/dumpguard/internal/logging"
)

// buildTime can be injected at link time:
//
//	go build -ldflags "-X main.buildTime=2026-01-15T10:30:00Z"
var buildTime = ""

// buildSignature describes the running binary: VCS revision, build time and
// a truncated hash of the executable itself.
func buildSignature() string {
	parts := make([]string, 0, 3)

	if info, ok := debug.ReadBuildInfo(); ok {
		var revision, modified string
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = setting.Value
			case "vcs.modified":
				modified = setting.Value
			}
		}
		if revision != "" {
			if len(revision) > 9 {
				revision = revision[:9]
			}
			if modified == "true" {
				revision += "*"
			}
			parts = append(parts, revision)
		}
	}

	if ts := executableBuildTime(); !ts.IsZero() {
		parts = append(parts, fmt.Sprintf("(%s)", ts.UTC().Format(time.RFC3339)))
	}

	if hash := executableHash(); hash != "" {
		parts = append(parts, "hash="+truncateHash(hash))
	}

	return strings.Join(parts, " ")
}

// executableBuildTime prefers the linker-injected timestamp and falls back to
// the modification time of the executable on disk.
func executableBuildTime() time.Time {
	if buildTime != "" {
		if ts, err := time.Parse(time.RFC3339, buildTime); err == nil {
			return ts
		}
	}

	path, err := os.Executable()
	if err != nil {
		return time.Time{}
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func executableHash() string {
	path, err := os.Executable()
	if err != nil {
		return ""
	}
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return ""
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

func truncateHash(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:16]
}

// resolveHostname prefers the FQDN so metrics and notifications from several
// hosts stay distinguishable.
func resolveHostname() string {
	if path, err := exec.LookPath("hostname"); err == nil {
		if out, err := exec.Command(path, "-f").Output(); err == nil {
			if fqdn := strings.TrimSpace(string(out)); fqdn != "" {
				return fqdn
			}
		}
	}

	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "unknown"
	}
	return strings.TrimSpace(host)
}

func ensureConfigExists(path string, logger *logging.BootstrapLogger) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("configuration path is empty")
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check configuration file %s: %w", path, err)
	}

	logger.Warning("Configuration file not found: %s", path)
	logger.Warning("Run 'dumpguard --init' to create it from the embedded template")
	return fmt.Errorf("configuration file is required to continue")
}

func ensureInteractiveStdin() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("this mode requires an interactive terminal (stdin is not a TTY)")
	}
	return nil
}
