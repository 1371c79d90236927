package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sbl-ops/dumpguard/internal/logging"
	"github.com/sbl-ops/dumpguard/internal/types"
)

func TestPrometheusExporterExport(t *testing.T) {
	dir := t.TempDir()
	logger := logging.New(types.LogLevelError, false)
	exporter := NewPrometheusExporter(dir, logger)

	metrics := &RunMetrics{
		Hostname:         "db-host",
		BackupDir:        "/var/backups/postgres",
		Version:          "1.0.0",
		StartTime:        time.Unix(1000, 0),
		EndTime:          time.Unix(1100, 0),
		Duration:         100 * time.Second,
		ExitCode:         4,
		Result:           4,
		ArtifactsChecked: 6,
		Matched:          4,
		RecordsCreated:   1,
		ProbeFailed:      0,
		Mismatched:       1,
		HardFailures:     0,
		PrunedRemoved:    3,
		PruneFailures:    1,
		ArtifactsOnDisk:  7,
		ArtifactBytes:    123456789,
		AvailableBytes:   987654321,
	}

	if err := exporter.Export(metrics); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	outputPath := filepath.Join(dir, "dumpguard.prom")
	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to read metrics file: %v", err)
	}

	content := string(data)
	for _, expected := range []string{
		"dumpguard_start_time_seconds 1000",
		"dumpguard_end_time_seconds 1100",
		"dumpguard_duration_seconds 100.00",
		"dumpguard_exit_code 4",
		"dumpguard_result 4",
		"dumpguard_artifacts_checked 6",
		"dumpguard_artifacts_total{outcome=\"matched\"} 4",
		"dumpguard_artifacts_total{outcome=\"record_created\"} 1",
		"dumpguard_artifacts_total{outcome=\"mismatched\"} 1",
		"dumpguard_pruned_total 3",
		"dumpguard_prune_failures_total 1",
		"dumpguard_backup_dir_artifacts 7",
		"dumpguard_backup_dir_bytes 123456789",
		"dumpguard_backup_dir_available_bytes 987654321",
		"dumpguard_info{hostname=\"db-host\",backup_dir=\"/var/backups/postgres\",version=\"1.0.0\"} 1",
	} {
		if !strings.Contains(content, expected) {
			t.Fatalf("metrics output missing %q\n%s", expected, content)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "dumpguard.prom.tmp")); !os.IsNotExist(err) {
		t.Fatalf("temporary metrics file still present after rename")
	}
}

func TestPrometheusExporterEndTimeFallback(t *testing.T) {
	dir := t.TempDir()
	exporter := NewPrometheusExporter(dir, nil)

	metrics := &RunMetrics{
		StartTime: time.Unix(2000, 0),
		Duration:  50 * time.Second,
	}

	if err := exporter.Export(metrics); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "dumpguard.prom"))
	if err != nil {
		t.Fatalf("Failed to read metrics file: %v", err)
	}

	if !strings.Contains(string(data), "dumpguard_end_time_seconds 2050") {
		t.Fatalf("end time not derived from start + duration:\n%s", data)
	}
}

func TestPrometheusExporterEmptyDir(t *testing.T) {
	exporter := NewPrometheusExporter("", nil)
	if err := exporter.Export(&RunMetrics{}); err == nil {
		t.Fatal("Export() with empty directory should fail")
	}
}

func TestPrometheusExporterNilMetrics(t *testing.T) {
	dir := t.TempDir()
	exporter := NewPrometheusExporter(dir, nil)
	if err := exporter.Export(nil); err != nil {
		t.Fatalf("Export(nil) error = %v", err)
	}
}
