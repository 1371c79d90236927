package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sbl-ops/dumpguard/internal/logging"
)

// RunMetrics represents the subset of verification run statistics exported as
// Prometheus metrics.
type RunMetrics struct {
	Hostname  string
	BackupDir string
	Version   string

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	ExitCode int
	Result   int

	ArtifactsChecked int
	Matched          int
	RecordsCreated   int
	ProbeFailed      int
	Mismatched       int
	HardFailures     int

	PrunedRemoved int
	PruneFailures int

	ArtifactsOnDisk int
	ArtifactBytes   int64
	AvailableBytes  int64
}

// PrometheusExporter writes run metrics in Prometheus textfile format for node_exporter.
type PrometheusExporter struct {
	textfileDir string
	logger      *logging.Logger
}

// NewPrometheusExporter creates a new PrometheusExporter using the provided directory.
func NewPrometheusExporter(textfileDir string, logger *logging.Logger) *PrometheusExporter {
	return &PrometheusExporter{
		textfileDir: strings.TrimRight(textfileDir, "/"),
		logger:      logger,
	}
}

// Export writes the given metrics snapshot to dumpguard.prom in textfileDir.
func (pe *PrometheusExporter) Export(m *RunMetrics) error {
	if pe == nil || m == nil {
		return nil
	}

	if pe.textfileDir == "" {
		return fmt.Errorf("metrics textfile directory is empty")
	}

	if err := os.MkdirAll(pe.textfileDir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory %s: %w", pe.textfileDir, err)
	}

	tmpPath := filepath.Join(pe.textfileDir, "dumpguard.prom.tmp")
	finalPath := filepath.Join(pe.textfileDir, "dumpguard.prom")

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create metrics file %s: %w", tmpPath, err)
	}
	defer f.Close()

	// Helper to write a single metric with HELP/TYPE
	writeMetric := func(name, mtype, help, value string) {
		fmt.Fprintf(f, "# HELP %s %s\n", name, help)
		fmt.Fprintf(f, "# TYPE %s %s\n", name, mtype)
		fmt.Fprintln(f, value)
	}

	// Timestamps
	startTs := float64(m.StartTime.Unix())
	endTs := float64(m.EndTime.Unix())
	if m.EndTime.IsZero() && !m.StartTime.IsZero() {
		endTs = float64(m.StartTime.Unix() + int64(m.Duration.Seconds()))
	}

	// Core metrics
	writeMetric(
		"dumpguard_start_time_seconds",
		"gauge",
		"Unix timestamp of verification run start",
		fmt.Sprintf("dumpguard_start_time_seconds %.0f", startTs),
	)

	writeMetric(
		"dumpguard_end_time_seconds",
		"gauge",
		"Unix timestamp of verification run end",
		fmt.Sprintf("dumpguard_end_time_seconds %.0f", endTs),
	)

	writeMetric(
		"dumpguard_duration_seconds",
		"gauge",
		"Duration of last verification run in seconds",
		fmt.Sprintf("dumpguard_duration_seconds %.2f", m.Duration.Seconds()),
	)

	writeMetric(
		"dumpguard_exit_code",
		"gauge",
		"Exit code of last verification run",
		fmt.Sprintf("dumpguard_exit_code %d", m.ExitCode),
	)

	writeMetric(
		"dumpguard_result",
		"gauge",
		"Overall result of last run (0=no artifacts,1=healthy,2=records initialized,3=format failure,4=integrity failure)",
		fmt.Sprintf("dumpguard_result %d", m.Result),
	)

	writeMetric(
		"dumpguard_artifacts_checked",
		"gauge",
		"Number of artifacts verified in last run",
		fmt.Sprintf("dumpguard_artifacts_checked %d", m.ArtifactsChecked),
	)

	// Per-outcome artifact counts
	fmt.Fprintf(f, "# HELP dumpguard_artifacts_total Number of artifacts per verification outcome\n")
	fmt.Fprintf(f, "# TYPE dumpguard_artifacts_total gauge\n")
	fmt.Fprintf(f, "dumpguard_artifacts_total{outcome=\"matched\"} %d\n", m.Matched)
	fmt.Fprintf(f, "dumpguard_artifacts_total{outcome=\"record_created\"} %d\n", m.RecordsCreated)
	fmt.Fprintf(f, "dumpguard_artifacts_total{outcome=\"probe_failed\"} %d\n", m.ProbeFailed)
	fmt.Fprintf(f, "dumpguard_artifacts_total{outcome=\"mismatched\"} %d\n", m.Mismatched)
	fmt.Fprintf(f, "dumpguard_artifacts_total{outcome=\"failed\"} %d\n", m.HardFailures)

	writeMetric(
		"dumpguard_pruned_total",
		"gauge",
		"Artifacts removed by retention in last run",
		fmt.Sprintf("dumpguard_pruned_total %d", m.PrunedRemoved),
	)

	writeMetric(
		"dumpguard_prune_failures_total",
		"gauge",
		"Retention deletions that failed in last run",
		fmt.Sprintf("dumpguard_prune_failures_total %d", m.PruneFailures),
	)

	writeMetric(
		"dumpguard_backup_dir_artifacts",
		"gauge",
		"Artifacts currently present in the backup directory",
		fmt.Sprintf("dumpguard_backup_dir_artifacts %d", m.ArtifactsOnDisk),
	)

	writeMetric(
		"dumpguard_backup_dir_bytes",
		"gauge",
		"Total size of artifacts in the backup directory in bytes",
		fmt.Sprintf("dumpguard_backup_dir_bytes %d", m.ArtifactBytes),
	)

	writeMetric(
		"dumpguard_backup_dir_available_bytes",
		"gauge",
		"Free space on the backup directory filesystem in bytes",
		fmt.Sprintf("dumpguard_backup_dir_available_bytes %d", m.AvailableBytes),
	)

	// Static info metric with labels
	fmt.Fprintf(f, "# HELP dumpguard_info Static information about this dumpguard instance\n")
	fmt.Fprintf(f, "# TYPE dumpguard_info gauge\n")
	fmt.Fprintf(
		f,
		"dumpguard_info{hostname=%q,backup_dir=%q,version=%q} 1\n",
		m.Hostname,
		m.BackupDir,
		m.Version,
	)

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync metrics file %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("rename metrics file to %s: %w", finalPath, err)
	}

	if pe.logger != nil {
		pe.logger.Debug("Prometheus metrics exported to %s", finalPath)
	}

	return nil
}
