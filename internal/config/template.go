package config

import (
	_ "embed"
)

//go:embed dumpguard.env.example
var embeddedEnvTemplate string

// DefaultEnvTemplate returns the configuration template embedded in the
// binary. --init materializes it at the configuration path on a fresh host.
func DefaultEnvTemplate() string {
	return embeddedEnvTemplate
}
