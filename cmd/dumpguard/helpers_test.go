package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sbl-ops/dumpguard/internal/cli"
	"github.com/sbl-ops/dumpguard/internal/config"
	"github.com/sbl-ops/dumpguard/internal/logging"
	"github.com/sbl-ops/dumpguard/internal/storage"
	"github.com/sbl-ops/dumpguard/internal/types"
	"github.com/sbl-ops/dumpguard/internal/verify"
)

// ============================================================
// runtime_helpers.go tests
// ============================================================

func TestTruncateHash(t *testing.T) {
	tests := []struct {
		name string
		hash string
		want string
	}{
		{"empty", "", ""},
		{"short", "abc123", "abc123"},
		{"exact", "0123456789abcdef", "0123456789abcdef"},
		{"long", "0123456789abcdef0123456789abcdef", "0123456789abcdef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateHash(tt.hash); got != tt.want {
				t.Fatalf("truncateHash(%q) = %q, want %q", tt.hash, got, tt.want)
			}
		})
	}
}

func TestResolveHostnameNotEmpty(t *testing.T) {
	if got := resolveHostname(); strings.TrimSpace(got) == "" {
		t.Fatal("expected a non-empty hostname")
	}
}

func TestExecutableBuildTimeFallsBackToStat(t *testing.T) {
	// buildTime is not injected in tests, so the executable mtime is used.
	if ts := executableBuildTime(); ts.IsZero() {
		t.Fatal("expected a non-zero build time from the executable stat fallback")
	}
}

func TestEnsureConfigExists(t *testing.T) {
	bootstrap := logging.NewBootstrapLogger()

	t.Run("existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dumpguard.env")
		if err := os.WriteFile(path, []byte("KEEP_COUNT=3\n"), 0o600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if err := ensureConfigExists(path, bootstrap); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing.env")
		if err := ensureConfigExists(path, bootstrap); err == nil {
			t.Fatal("expected an error for a missing configuration file")
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if err := ensureConfigExists("  ", bootstrap); err == nil {
			t.Fatal("expected an error for an empty configuration path")
		}
	})
}

// ============================================================
// initconfig.go tests
// ============================================================

func TestRunInitConfigWritesLoadableTemplate(t *testing.T) {
	t.Setenv("BACKUP_DIR", "")
	t.Setenv("KEEP_COUNT", "")

	path := filepath.Join(t.TempDir(), "etc", "dumpguard.env")
	bootstrap := logging.NewBootstrapLogger()

	if err := runInitConfig(path, bootstrap); err != nil {
		t.Fatalf("runInitConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("template was not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected mode 0600, got %o", perm)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("written template does not load: %v", err)
	}
	if cfg.KeepCount != 7 {
		t.Fatalf("expected default keep count 7, got %d", cfg.KeepCount)
	}
	if cfg.BackupDir != "/var/backups/db" {
		t.Fatalf("expected default backup dir, got %q", cfg.BackupDir)
	}
}

func TestRunInitConfigRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dumpguard.env")
	if err := os.WriteFile(path, []byte("KEEP_COUNT=99\n"), 0o600); err != nil {
		t.Fatalf("failed to seed config: %v", err)
	}

	err := runInitConfig(path, logging.NewBootstrapLogger())
	if err == nil {
		t.Fatal("expected an error when the configuration already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("unexpected error: %v", err)
	}

	content, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("failed to read config back: %v", readErr)
	}
	if !strings.Contains(string(content), "KEEP_COUNT=99") {
		t.Fatal("existing configuration was modified")
	}
}

// ============================================================
// main.go helper tests
// ============================================================

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dumpguard.env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestApplyOverrides(t *testing.T) {
	t.Setenv("BACKUP_DIR", "")
	t.Setenv("BACKUP_PATTERNS", "")
	t.Setenv("KEEP_COUNT", "")
	t.Setenv("PROBE_FORMAT", "")
	t.Setenv("DECRYPT_OUTPUT_DIR", "")

	t.Run("directory override rederives restore dir", func(t *testing.T) {
		cfg, err := config.LoadConfig(writeConfigFile(t, "BACKUP_DIR=/orig\n"))
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}
		applyOverrides(cfg, &cli.Args{BackupDir: "/srv/new", BackupDirSet: true})
		if cfg.BackupDir != "/srv/new" {
			t.Fatalf("expected backup dir /srv/new, got %q", cfg.BackupDir)
		}
		if cfg.DecryptOutputDir != "/srv/new/restore" {
			t.Fatalf("expected derived restore dir, got %q", cfg.DecryptOutputDir)
		}
	})

	t.Run("directory override keeps pinned restore dir", func(t *testing.T) {
		cfg, err := config.LoadConfig(writeConfigFile(t, "BACKUP_DIR=/orig\nDECRYPT_OUTPUT_DIR=/custom/out\n"))
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}
		applyOverrides(cfg, &cli.Args{BackupDir: "/srv/new", BackupDirSet: true})
		if cfg.DecryptOutputDir != "/custom/out" {
			t.Fatalf("expected pinned restore dir, got %q", cfg.DecryptOutputDir)
		}
	})

	t.Run("patterns override", func(t *testing.T) {
		cfg, err := config.LoadConfig(writeConfigFile(t, "BACKUP_PATTERNS=*.sql.gz\n"))
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}
		applyOverrides(cfg, &cli.Args{Patterns: "*.dump, *.tar.gz", PatternsSet: true})
		want := []string{"*.dump", "*.tar.gz"}
		if len(cfg.BackupPatterns) != len(want) {
			t.Fatalf("expected %d patterns, got %v", len(want), cfg.BackupPatterns)
		}
		for i, p := range want {
			if cfg.BackupPatterns[i] != p {
				t.Fatalf("pattern %d: expected %q, got %q", i, p, cfg.BackupPatterns[i])
			}
		}
	})

	t.Run("blank patterns override is ignored", func(t *testing.T) {
		cfg, err := config.LoadConfig(writeConfigFile(t, "BACKUP_PATTERNS=*.sql.gz\n"))
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}
		applyOverrides(cfg, &cli.Args{Patterns: "   ", PatternsSet: true})
		if len(cfg.BackupPatterns) != 1 || cfg.BackupPatterns[0] != "*.sql.gz" {
			t.Fatalf("expected configured patterns to survive, got %v", cfg.BackupPatterns)
		}
	})

	t.Run("keep override", func(t *testing.T) {
		cfg, err := config.LoadConfig(writeConfigFile(t, "KEEP_COUNT=7\n"))
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}
		applyOverrides(cfg, &cli.Args{Keep: 14, KeepSet: true})
		if cfg.KeepCount != 14 {
			t.Fatalf("expected keep count 14, got %d", cfg.KeepCount)
		}
	})

	t.Run("probe flags", func(t *testing.T) {
		cfg, err := config.LoadConfig(writeConfigFile(t, "PROBE_FORMAT=true\n"))
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}
		applyOverrides(cfg, &cli.Args{NoProbe: true})
		if cfg.ProbeFormat {
			t.Fatal("expected --no-probe to disable the format probe")
		}
		applyOverrides(cfg, &cli.Args{Probe: true})
		if !cfg.ProbeFormat {
			t.Fatal("expected --probe to re-enable the format probe")
		}
	})

	t.Run("no flags leave config untouched", func(t *testing.T) {
		cfg, err := config.LoadConfig(writeConfigFile(t, "BACKUP_DIR=/orig\nKEEP_COUNT=5\n"))
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}
		applyOverrides(cfg, &cli.Args{})
		if cfg.BackupDir != "/orig" || cfg.KeepCount != 5 || !cfg.ProbeFormat {
			t.Fatalf("configuration changed without overrides: %+v", cfg)
		}
	})
}

func sampleReport() *verify.Report {
	modified := time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC)
	return &verify.Report{
		Results: []verify.Result{
			{
				Artifact: types.Artifact{Path: "/var/backups/db/app-2026-01-10.sql.gz", ModifiedAt: modified, SizeBytes: 2048},
				Outcome:  verify.OutcomeMatched,
				Computed: strings.Repeat("a", 64),
				Stored:   strings.Repeat("a", 64),
			},
			{
				Artifact: types.Artifact{Path: "/var/backups/db/app-2026-01-09.sql.gz", ModifiedAt: modified.Add(-24 * time.Hour), SizeBytes: 1024},
				Outcome:  verify.OutcomeMismatched,
				Computed: strings.Repeat("b", 64),
				Stored:   strings.Repeat("c", 64),
			},
			{
				Artifact: types.Artifact{Path: "/var/backups/db/app-2026-01-08.sql.gz", ModifiedAt: modified.Add(-48 * time.Hour), SizeBytes: 512},
				Outcome:  verify.OutcomeRecordCreated,
				Computed: strings.Repeat("d", 64),
			},
		},
		Failures: []verify.Failure{
			{
				Artifact: types.Artifact{Path: "/var/backups/db/app-2026-01-07.sql.gz", ModifiedAt: modified.Add(-72 * time.Hour)},
				Err:      errors.New("permission denied"),
			},
		},
		Overall: verify.OverallIntegrityFailure,
	}
}

func TestBuildRunMetrics(t *testing.T) {
	report := sampleReport()
	prune := storage.PruneResult{Attempted: 3, Removed: 2, RecordsRemoved: 2, Failures: []storage.PruneFailure{{Path: "/var/backups/db/old.sql.gz", Err: errors.New("busy")}}}
	stats := &storage.Stats{TotalArtifacts: 9, TotalSize: 4096, AvailableSpace: 1 << 30}
	start := time.Date(2026, 1, 10, 4, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	m := buildRunMetrics(report, prune, stats, "db01.example.com", "/var/backups/db", start, end, types.ExitIntegrityMismatch.Int())

	if m.Hostname != "db01.example.com" {
		t.Fatalf("unexpected hostname %q", m.Hostname)
	}
	if m.Version != version {
		t.Fatalf("expected version %q, got %q", version, m.Version)
	}
	if m.Duration != 90*time.Second {
		t.Fatalf("unexpected duration %s", m.Duration)
	}
	if m.ExitCode != types.ExitIntegrityMismatch.Int() {
		t.Fatalf("unexpected exit code %d", m.ExitCode)
	}
	if m.Result != int(verify.OverallIntegrityFailure) {
		t.Fatalf("unexpected result %d", m.Result)
	}
	// The hard failure counts as checked: the run attempted it.
	if m.ArtifactsChecked != 4 || m.Matched != 1 || m.Mismatched != 1 || m.RecordsCreated != 1 {
		t.Fatalf("unexpected outcome counts: %+v", m)
	}
	if m.HardFailures != 1 {
		t.Fatalf("expected 1 hard failure, got %d", m.HardFailures)
	}
	if m.PrunedRemoved != 2 || m.PruneFailures != 1 {
		t.Fatalf("unexpected prune counts: removed=%d failures=%d", m.PrunedRemoved, m.PruneFailures)
	}
	if m.ArtifactsOnDisk != 9 || m.ArtifactBytes != 4096 || m.AvailableBytes != 1<<30 {
		t.Fatalf("storage stats not carried over: %+v", m)
	}
}

func TestBuildRunMetricsWithoutStats(t *testing.T) {
	report := sampleReport()
	start := time.Now()

	m := buildRunMetrics(report, storage.PruneResult{}, nil, "db01", "/var/backups/db", start, start.Add(time.Second), 0)

	if m.ArtifactsOnDisk != 0 || m.ArtifactBytes != 0 || m.AvailableBytes != 0 {
		t.Fatalf("expected zero storage stats, got %+v", m)
	}
}

func TestBuildRunSummaryFindings(t *testing.T) {
	report := sampleReport()
	start := time.Date(2026, 1, 10, 4, 0, 0, 0, time.UTC)

	summary := buildRunSummary(report, storage.PruneResult{Removed: 1}, "db01", "/var/backups/db", start, time.Minute, types.ExitIntegrityMismatch.Int())

	if summary.Overall != verify.OverallIntegrityFailure {
		t.Fatalf("unexpected overall %v", summary.Overall)
	}
	if summary.ArtifactsChecked != 4 || summary.Matched != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.PrunedRemoved != 1 {
		t.Fatalf("expected 1 pruned artifact, got %d", summary.PrunedRemoved)
	}

	// Matched artifacts do not produce findings; the mismatch, the new
	// record and the hard failure do.
	if len(summary.Findings) != 3 {
		t.Fatalf("expected 3 findings, got %d: %+v", len(summary.Findings), summary.Findings)
	}
	for _, f := range summary.Findings {
		if f.Artifact == "app-2026-01-10.sql.gz" {
			t.Fatalf("matched artifact should not appear in findings: %+v", f)
		}
	}

	var mismatch, hardFailure bool
	for _, f := range summary.Findings {
		switch f.Artifact {
		case "app-2026-01-09.sql.gz":
			mismatch = true
			if !strings.Contains(f.Detail, "expected") {
				t.Fatalf("mismatch finding misses digests: %+v", f)
			}
		case "app-2026-01-07.sql.gz":
			hardFailure = true
			if f.Outcome != "failed" || f.Detail != "permission denied" {
				t.Fatalf("unexpected hard failure finding: %+v", f)
			}
		}
	}
	if !mismatch || !hardFailure {
		t.Fatalf("expected mismatch and hard failure findings, got %+v", summary.Findings)
	}
}
