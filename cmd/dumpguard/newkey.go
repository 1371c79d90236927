package main

import (
	"context"
	"fmt"

	"github.com/sbl-ops/dumpguard/internal/cli"
	"github.com/sbl-ops/dumpguard/internal/config"
	"github.com/sbl-ops/dumpguard/internal/identity"
	"github.com/sbl-ops/dumpguard/internal/logging"
	"github.com/sbl-ops/dumpguard/pkg/utils"
)

// defaultIdentityPath is where --newkey stores the generated identity when
// the configuration does not name one.
const defaultIdentityPath = "/etc/dumpguard/identity.txt"

// runNewKey produces age key material for encrypting dumps. With
// --passphrase it derives a recipient from an interactive passphrase and
// stores nothing; otherwise it generates an X25519 identity file.
func runNewKey(ctx context.Context, args *cli.Args, bootstrap *logging.BootstrapLogger) error {
	identityPath := defaultIdentityPath
	if cfg, err := config.LoadConfig(args.ConfigPath); err == nil {
		if cfg.AgeIdentityFile != "" {
			identityPath = cfg.AgeIdentityFile
		}
	} else {
		bootstrap.Debug("Configuration not loaded for --newkey: %v", err)
	}

	if args.Passphrase {
		if err := ensureInteractiveStdin(); err != nil {
			return err
		}
		pass, err := identity.PromptNewPassphrase(ctx)
		if err != nil {
			return err
		}
		recipient, err := identity.DeriveRecipient(pass)
		if err != nil {
			return fmt.Errorf("failed to derive recipient from passphrase: %w", err)
		}
		bootstrap.Info("✓ Recipient derived from passphrase")
		bootstrap.Info("Recipient: %s", recipient)
		bootstrap.Info("Encrypt dumps to this recipient; --decrypt regenerates the key from the passphrase alone.")
		bootstrap.Info("IMPORTANT: Keep your passphrase offline and secure!")
		return nil
	}

	if utils.FileExists(identityPath) {
		return fmt.Errorf("identity file %s already exists, move it aside first", identityPath)
	}

	id, err := identity.Generate()
	if err != nil {
		return fmt.Errorf("failed to generate identity: %w", err)
	}
	if err := identity.WriteIdentityFile(identityPath, id); err != nil {
		return err
	}

	bootstrap.Info("✓ New age identity saved to %s", identityPath)
	bootstrap.Info("Recipient: %s", id.Recipient().String())
	bootstrap.Info("Encrypt dumps to this recipient and point AGE_IDENTITY_FILE at %s for --decrypt.", identityPath)
	bootstrap.Info("IMPORTANT: Keep the identity file offline and secure!")
	return nil
}
