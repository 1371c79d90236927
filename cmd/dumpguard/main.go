package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sbl-ops/dumpguard/internal/checks"
	"github.com/sbl-ops/dumpguard/internal/cli"
	"github.com/sbl-ops/dumpguard/internal/config"
	"github.com/sbl-ops/dumpguard/internal/identity"
	"github.com/sbl-ops/dumpguard/internal/logging"
	"github.com/sbl-ops/dumpguard/internal/metrics"
	"github.com/sbl-ops/dumpguard/internal/notify"
	"github.com/sbl-ops/dumpguard/internal/storage"
	"github.com/sbl-ops/dumpguard/internal/transfer"
	"github.com/sbl-ops/dumpguard/internal/tui"
	"github.com/sbl-ops/dumpguard/internal/types"
	"github.com/sbl-ops/dumpguard/internal/verify"
	"github.com/sbl-ops/dumpguard/pkg/utils"
)

const version = "0.3.0"

// closeStdinOnce guards stdin shutdown when a signal lands while a prompt is
// still blocked on a read.
var closeStdinOnce sync.Once

func main() {
	os.Exit(run())
}

func run() int {
	startTime := time.Now()

	bootstrap := logging.NewBootstrapLogger()

	defer func() {
		if r := recover(); r != nil {
			bootstrap.Error("PANIC: %v", r)
			fmt.Fprintf(os.Stderr, "%s\n", debug.Stack())
			os.Exit(types.ExitPanicError.Int())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		bootstrap.Warning("\nReceived signal %v, initiating graceful shutdown...", sig)
		cancel()
		closeStdinOnce.Do(func() {
			_ = os.Stdin.Close()
		})
	}()

	tui.SetAbortContext(ctx)

	args := cli.Parse()

	if args.ShowVersion {
		cli.ShowVersion(version, buildSignature())
	}
	if args.ShowHelp {
		cli.ShowHelp()
	}

	// The standalone modes skip the verification run and cannot be combined.
	modes := make([]string, 0, 4)
	if args.InitConfig {
		modes = append(modes, "--init")
	}
	if args.ForceNewKey {
		modes = append(modes, "--newkey")
	}
	if args.Decrypt {
		modes = append(modes, "--decrypt")
	}
	if args.Prune {
		modes = append(modes, "--prune")
	}
	if len(modes) > 1 {
		bootstrap.Error("Flags %s cannot be combined; pick one mode per invocation", strings.Join(modes, " and "))
		return types.ExitConfigError.Int()
	}
	if len(modes) == 1 && args.Fetch {
		bootstrap.Error("--fetch runs the verification pipeline and cannot be combined with %s", modes[0])
		return types.ExitConfigError.Int()
	}
	if args.Passphrase && !args.ForceNewKey {
		bootstrap.Error("--passphrase only applies together with --newkey")
		return types.ExitConfigError.Int()
	}
	if args.ForceCLI && !args.Decrypt {
		bootstrap.Error("--cli only applies to the --decrypt workflow")
		return types.ExitConfigError.Int()
	}
	if args.Probe && args.NoProbe {
		bootstrap.Error("--probe and --no-probe are mutually exclusive")
		return types.ExitConfigError.Int()
	}

	if args.InitConfig {
		if err := runInitConfig(args.ConfigPath, bootstrap); err != nil {
			bootstrap.Error("ERROR: %v", err)
			return types.ExitConfigError.Int()
		}
		return types.ExitSuccess.Int()
	}

	if args.ForceNewKey {
		if err := runNewKey(ctx, args, bootstrap); err != nil {
			if identity.IsAborted(err) {
				bootstrap.Warning("Key generation aborted")
				return types.ExitInterrupted.Int()
			}
			bootstrap.Error("ERROR: %v", err)
			return types.ExitGenericError.Int()
		}
		return types.ExitSuccess.Int()
	}

	if args.Decrypt {
		return runRestoreWorkflow(ctx, args, bootstrap)
	}

	if err := ensureConfigExists(args.ConfigPath, bootstrap); err != nil {
		bootstrap.Error("ERROR: %v", err)
		return types.ExitConfigError.Int()
	}

	bootstrap.Printf("Loading configuration from: %s (%s)", args.ConfigPath, args.ConfigPathSource)

	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		bootstrap.Error("ERROR: Failed to load configuration: %v", err)
		return types.ExitConfigError.Int()
	}
	applyOverrides(cfg, args)

	logLevel := cfg.LogLevel
	if args.LogLevel != types.LogLevelNone {
		logLevel = args.LogLevel
	}

	logger := logging.New(logLevel, cfg.UseColor)
	logging.SetDefaultLogger(logger)
	bootstrap.SetLevel(logLevel)
	bootstrap.Flush(logger)

	if cfg.LogFile != "" {
		logDir := filepath.Dir(cfg.LogFile)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			logger.Warning("Cannot create log directory %s: %v", logDir, err)
		} else if err := logger.OpenLogFile(cfg.LogFile); err != nil {
			logger.Warning("Cannot open log file %s: %v", cfg.LogFile, err)
		} else {
			defer func() { _ = logger.CloseLogFile() }()
			logger.Debug("Log file: %s", cfg.LogFile)
		}
	}

	hostname := resolveHostname()
	logger.Info("Dumpguard %s on %s", version, hostname)
	logger.Info("Backup directory: %s", cfg.BackupDir)
	logger.Debug("Patterns: %s", strings.Join(cfg.BackupPatterns, ", "))

	store := storage.NewLocalStore(cfg.BackupDir, logger)

	checker := checks.NewChecker(cfg.BackupDir, logger)
	if err := checker.RunPreflight(ctx); err != nil {
		logger.Error("Preflight failed: %v", err)
		return types.ExitGenericError.Int()
	}
	defer func() {
		if err := checker.ReleaseLock(); err != nil {
			logger.Warning("%v", err)
		}
	}()

	if args.Prune {
		return runPrune(ctx, cfg, logger, store)
	}

	return runVerifyPipeline(ctx, cfg, args, logger, store, hostname, startTime)
}

// runVerifyPipeline is the default flow: optional remote fetch, artifact
// discovery, integrity verification, retention, then metrics and
// notification fan-out.
func runVerifyPipeline(ctx context.Context, cfg *config.Config, args *cli.Args, logger *logging.Logger, store *storage.LocalStore, hostname string, startTime time.Time) int {
	// A degraded pipeline (failed fetch, failed prune) must never report
	// plain success, even when every local artifact verifies clean.
	degraded := false

	if args.Fetch {
		fetcher := transfer.NewFetcher(cfg, logger)
		if !fetcher.IsEnabled() {
			logger.Error("--fetch requires REMOTE_ENABLED=true and REMOTE_HOST in %s", cfg.ConfigPath)
			return types.ExitConfigError.Int()
		}
		logger.Step("Fetching newest remote artifact")
		artifact, err := fetcher.FetchLatest(ctx)
		switch {
		case err == nil:
			logger.Info("✓ Fetched %s (%s)", artifact.Name(), utils.FormatBytes(artifact.SizeBytes))
		case ctx.Err() != nil:
			logger.Warning("Fetch interrupted")
			return types.ExitInterrupted.Int()
		case errors.Is(err, transfer.ErrNoRemoteMatch):
			logger.Warning("Remote fetch: %v", err)
			degraded = true
		default:
			logger.Error("Remote fetch failed: %v", err)
			degraded = true
		}
	}

	logger.Step("Locating artifacts")
	artifacts, err := store.LocateAny(ctx, cfg.BackupPatterns, args.All)
	if err != nil {
		if ctx.Err() != nil {
			return types.ExitInterrupted.Int()
		}
		logger.Error("Scanning %s failed: %v", cfg.BackupDir, err)
		return types.ExitGenericError.Int()
	}
	switch {
	case len(artifacts) == 0:
		logger.Warning("No artifacts match [%s] in %s", strings.Join(cfg.BackupPatterns, ", "), cfg.BackupDir)
	case args.All:
		logger.Info("Found %d artifact(s)", len(artifacts))
	default:
		logger.Info("Selected newest artifact: %s", artifacts[0].Name())
	}

	verifier := verify.New(logger)
	loadProbeIdentities(cfg, logger, verifier)

	logger.Step("Verifying integrity")
	report := verifier.VerifyAll(ctx, artifacts, cfg.ProbeFormat)
	if ctx.Err() != nil {
		logger.Warning("Verification interrupted")
		return types.ExitInterrupted.Int()
	}

	var pruneResult storage.PruneResult
	if args.Fetch && cfg.KeepCount > 0 {
		logger.Step("Applying retention (keep %d)", cfg.KeepCount)
		all, err := store.LocateAny(ctx, cfg.BackupPatterns, true)
		if err != nil {
			logger.Warning("Retention scan failed: %v", err)
			degraded = true
		} else {
			pruneResult, err = store.Prune(ctx, all, cfg.KeepCount)
			if err != nil {
				logger.Warning("Prune stopped early: %v", err)
				degraded = true
			}
			if len(pruneResult.Failures) > 0 {
				degraded = true
			}
		}
		if ctx.Err() != nil {
			return types.ExitInterrupted.Int()
		}
	}

	exitCode := report.Overall.ExitCode()
	if degraded && exitCode == types.ExitSuccess {
		exitCode = types.ExitGenericError
	}

	printRunSummary(logger, report, pruneResult, startTime, exitCode)

	endTime := time.Now()
	publishMetrics(ctx, cfg, logger, store, report, pruneResult, hostname, startTime, endTime, exitCode)
	sendNotification(ctx, cfg, logger, report, pruneResult, hostname, startTime, endTime, exitCode)

	return exitCode.Int()
}

// runPrune applies the retention policy without verifying anything.
func runPrune(ctx context.Context, cfg *config.Config, logger *logging.Logger, store *storage.LocalStore) int {
	if cfg.KeepCount <= 0 {
		logger.Info("KEEP_COUNT=%d disables retention, nothing to do", cfg.KeepCount)
		return types.ExitSuccess.Int()
	}

	artifacts, err := store.LocateAny(ctx, cfg.BackupPatterns, true)
	if err != nil {
		if ctx.Err() != nil {
			return types.ExitInterrupted.Int()
		}
		logger.Error("Scanning %s failed: %v", cfg.BackupDir, err)
		return types.ExitGenericError.Int()
	}

	result, err := store.Prune(ctx, artifacts, cfg.KeepCount)
	if err != nil {
		if ctx.Err() != nil {
			return types.ExitInterrupted.Int()
		}
		logger.Error("Prune failed: %v", err)
		return types.ExitGenericError.Int()
	}

	if result.Attempted == 0 {
		logger.Info("✓ %d artifact(s) on disk, all within the retention limit of %d", len(artifacts), cfg.KeepCount)
		return types.ExitSuccess.Int()
	}

	logger.Info("Pruned %d of %d artifact(s), removed %d digest record(s)",
		result.Removed, result.Attempted, result.RecordsRemoved)
	if len(result.Failures) > 0 {
		logger.Error("Prune finished with %d failure(s)", len(result.Failures))
		return types.ExitGenericError.Int()
	}
	return types.ExitSuccess.Int()
}

// applyOverrides folds command line flags into the loaded configuration.
// Flags win over both the env file and environment variables.
func applyOverrides(cfg *config.Config, args *cli.Args) {
	if args.BackupDirSet && strings.TrimSpace(args.BackupDir) != "" {
		cfg.BackupDir = args.BackupDir
		// The restore target follows the directory override unless the
		// config pinned it explicitly.
		if _, ok := cfg.Get("DECRYPT_OUTPUT_DIR"); !ok {
			cfg.DecryptOutputDir = filepath.Join(cfg.BackupDir, "restore")
		}
	}
	if args.PatternsSet {
		if patterns := config.SplitPatterns(args.Patterns); len(patterns) > 0 {
			cfg.BackupPatterns = patterns
		}
	}
	if args.KeepSet {
		cfg.KeepCount = args.Keep
	}
	switch {
	case args.NoProbe:
		cfg.ProbeFormat = false
	case args.Probe:
		cfg.ProbeFormat = true
	}
}

// loadProbeIdentities hands the verifier the age identities it needs to look
// inside encrypted artifacts. A missing or unreadable identity file degrades
// the format probe, never the run.
func loadProbeIdentities(cfg *config.Config, logger *logging.Logger, verifier *verify.Verifier) {
	if cfg.AgeIdentityFile == "" {
		return
	}
	if !utils.FileExists(cfg.AgeIdentityFile) {
		logger.Debug("Identity file %s not present, encrypted artifacts stay unprobed", cfg.AgeIdentityFile)
		return
	}
	ids, err := identity.LoadFile(cfg.AgeIdentityFile)
	if err != nil {
		logger.Warning("Cannot read identities from %s: %v", cfg.AgeIdentityFile, err)
		return
	}
	verifier.SetIdentities(ids)
	logger.Debug("Loaded %d identities for the format probe", ids.Len())
}

func printRunSummary(logger *logging.Logger, report *verify.Report, prune storage.PruneResult, startTime time.Time, exitCode types.ExitCode) {
	counts := report.Counts()

	fmt.Println()
	logger.Info("Artifacts checked: %d", report.Checked())
	if n := counts[verify.OutcomeMatched]; n > 0 {
		logger.Info("Matched: %d", n)
	}
	if n := counts[verify.OutcomeRecordCreated]; n > 0 {
		logger.Info("Digest records created: %d", n)
	}
	if n := counts[verify.OutcomeFormatProbeFailed]; n > 0 {
		logger.Warning("Format probe failures: %d", n)
	}
	if n := counts[verify.OutcomeMismatched]; n > 0 {
		logger.Error("Checksum mismatches: %d", n)
	}
	if n := len(report.Failures); n > 0 {
		logger.Error("Hard failures: %d", n)
	}
	if prune.Attempted > 0 {
		logger.Info("Pruned: %d (failures: %d)", prune.Removed, len(prune.Failures))
	}
	logger.Info("Duration: %s", notify.FormatDuration(time.Since(startTime)))

	status := notify.StatusFromExitCode(exitCode.Int())
	logger.Info("Exit status: %s %s (code=%d)", notify.GetStatusEmoji(status), strings.ToUpper(status.String()), exitCode.Int())
}

func publishMetrics(ctx context.Context, cfg *config.Config, logger *logging.Logger, store *storage.LocalStore, report *verify.Report, prune storage.PruneResult, hostname string, start, end time.Time, exitCode types.ExitCode) {
	if cfg.MetricsPath == "" {
		logger.Skip("Metrics export disabled (METRICS_PATH not set)")
		return
	}

	var stats *storage.Stats
	if s, err := store.Stats(ctx, cfg.BackupPatterns); err != nil {
		logger.Debug("Storage stats unavailable: %v", err)
	} else {
		stats = s
	}

	m := buildRunMetrics(report, prune, stats, hostname, cfg.BackupDir, start, end, exitCode.Int())
	if err := metrics.NewPrometheusExporter(cfg.MetricsPath, logger).Export(m); err != nil {
		logger.Warning("Metrics export failed: %v", err)
		return
	}
	logger.Info("✓ Metrics exported to %s", cfg.MetricsPath)
}

func sendNotification(ctx context.Context, cfg *config.Config, logger *logging.Logger, report *verify.Report, prune storage.PruneResult, hostname string, start, end time.Time, exitCode types.ExitCode) {
	notifier := notify.NewWebhookNotifier(cfg, logger)
	if !notifier.IsEnabled() {
		logger.Skip("Webhook notification disabled (WEBHOOK_URL not set)")
		return
	}
	summary := buildRunSummary(report, prune, hostname, cfg.BackupDir, start, end.Sub(start), exitCode.Int())
	if err := notifier.Send(ctx, summary); err != nil {
		logger.Warning("Webhook notification failed: %v", err)
	}
}

func buildRunMetrics(report *verify.Report, prune storage.PruneResult, stats *storage.Stats, hostname, backupDir string, start, end time.Time, exitCode int) *metrics.RunMetrics {
	counts := report.Counts()
	m := &metrics.RunMetrics{
		Hostname:  hostname,
		BackupDir: backupDir,
		Version:   version,

		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),

		ExitCode: exitCode,
		Result:   int(report.Overall),

		ArtifactsChecked: report.Checked(),
		Matched:          counts[verify.OutcomeMatched],
		RecordsCreated:   counts[verify.OutcomeRecordCreated],
		ProbeFailed:      counts[verify.OutcomeFormatProbeFailed],
		Mismatched:       counts[verify.OutcomeMismatched],
		HardFailures:     len(report.Failures),

		PrunedRemoved: prune.Removed,
		PruneFailures: len(prune.Failures),
	}
	if stats != nil {
		m.ArtifactsOnDisk = stats.TotalArtifacts
		m.ArtifactBytes = stats.TotalSize
		m.AvailableBytes = stats.AvailableSpace
	}
	return m
}

func buildRunSummary(report *verify.Report, prune storage.PruneResult, hostname, backupDir string, start time.Time, duration time.Duration, exitCode int) *notify.RunSummary {
	counts := report.Counts()
	summary := &notify.RunSummary{
		Overall:  report.Overall,
		ExitCode: exitCode,

		Hostname:  hostname,
		BackupDir: backupDir,
		Version:   version,

		StartedAt: start,
		Duration:  duration,

		ArtifactsChecked: report.Checked(),
		Matched:          counts[verify.OutcomeMatched],
		RecordsCreated:   counts[verify.OutcomeRecordCreated],
		ProbeFailed:      counts[verify.OutcomeFormatProbeFailed],
		Mismatched:       counts[verify.OutcomeMismatched],
		HardFailures:     len(report.Failures),
		PrunedRemoved:    prune.Removed,
	}

	// Only non-clean outcomes become findings, the payload stays small on
	// healthy runs.
	for _, res := range report.Results {
		if res.Outcome == verify.OutcomeMatched {
			continue
		}
		finding := notify.Finding{
			Artifact: res.Artifact.Name(),
			Outcome:  res.Outcome.String(),
		}
		switch {
		case res.Outcome == verify.OutcomeMismatched && res.Stored != "":
			finding.Detail = fmt.Sprintf("expected %s, got %s", res.Stored, res.Computed)
		case res.ProbeErr != nil:
			finding.Detail = res.ProbeErr.Error()
		}
		summary.Findings = append(summary.Findings, finding)
	}
	for _, fail := range report.Failures {
		summary.Findings = append(summary.Findings, notify.Finding{
			Artifact: fail.Artifact.Name(),
			Outcome:  "failed",
			Detail:   fail.Err.Error(),
		})
	}
	return summary
}
