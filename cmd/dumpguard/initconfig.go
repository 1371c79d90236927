package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sbl-ops/dumpguard/internal/config"
	"github.com/sbl-ops/dumpguard/internal/logging"
)

// runInitConfig materializes the embedded configuration template at the
// configuration path. An existing file is never overwritten.
func runInitConfig(configPath string, bootstrap *logging.BootstrapLogger) error {
	if strings.TrimSpace(configPath) == "" {
		return fmt.Errorf("configuration path is empty")
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file %s already exists, refusing to overwrite", configPath)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check configuration file %s: %w", configPath, err)
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", configDir, err)
	}

	if err := os.WriteFile(configPath, []byte(config.DefaultEnvTemplate()), 0o600); err != nil {
		return fmt.Errorf("failed to write configuration template: %w", err)
	}

	bootstrap.Info("✓ Configuration template written to %s", configPath)
	bootstrap.Info("Edit it to match this host, then run dumpguard again.")
	return nil
}
