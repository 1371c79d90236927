package main

import (
	"context"
	"errors"

	"github.com/sbl-ops/dumpguard/internal/cli"
	"github.com/sbl-ops/dumpguard/internal/config"
	"github.com/sbl-ops/dumpguard/internal/logging"
	"github.com/sbl-ops/dumpguard/internal/restore"
	"github.com/sbl-ops/dumpguard/internal/types"
)

// runRestoreWorkflow drives the interactive decrypt flow: pick an encrypted
// artifact, obtain the identity, write the plaintext next to the originals.
func runRestoreWorkflow(ctx context.Context, args *cli.Args, bootstrap *logging.BootstrapLogger) int {
	if err := ensureConfigExists(args.ConfigPath, bootstrap); err != nil {
		bootstrap.Error("ERROR: %v", err)
		return types.ExitConfigError.Int()
	}

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

	// The restore flow gets its own session log so an operator can audit
	// what was decrypted and when.
	logger, sessionLogPath, closeSessionLog, err := logging.StartSessionLogger("restore", logLevel, cfg.UseColor)
	if err != nil {
		logger = logging.New(logLevel, cfg.UseColor)
		closeSessionLog = func() {}
	} else {
		bootstrap.Info("Restore log: %s", sessionLogPath)
	}
	defer closeSessionLog()

	logging.SetDefaultLogger(logger)
	bootstrap.SetLevel(logLevel)
	bootstrap.Flush(logger)

	workflow := restore.NewWorkflow(cfg, logger)
	if args.ForceCLI {
		workflow.ForceCLI()
	}

	if err := workflow.Run(ctx); err != nil {
		switch {
		case errors.Is(err, restore.ErrRestoreAborted):
			logger.Info("Restore aborted, nothing was written")
			return types.ExitSuccess.Int()
		case ctx.Err() != nil:
			logger.Warning("Restore interrupted")
			return types.ExitInterrupted.Int()
		default:
			logger.Error("Restore failed: %v", err)
			return types.ExitGenericError.Int()
		}
	}
	return types.ExitSuccess.Int()
}
