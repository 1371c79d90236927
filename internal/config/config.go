package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sbl-ops/dumpguard/internal/types"
	"github.com/sbl-ops/dumpguard/pkg/utils"
)

// DefaultPath is where the tool looks for its env file unless overridden
// by --config or the DUMPGUARD_CONFIG environment variable.
const DefaultPath = "/etc/dumpguard/dumpguard.env"

var (
	multiValueKeys = map[string]bool{
		"BACKUP_PATTERNS": true,
	}

	blockValueKeys = map[string]bool{
		"BACKUP_PATTERNS": true,
	}
)

// Config holds the whole tool configuration.
type Config struct {
	// General settings
	LogLevel types.LogLevel
	UseColor bool
	LogFile  string

	// Artifact selection and retention
	BackupDir      string
	BackupPatterns []string
	KeepCount      int
	ProbeFormat    bool

	// Remote fetch (ssh/scp)
	RemoteEnabled         bool
	RemoteHost            string
	RemoteUser            string
	RemotePort            int
	RemoteDir             string
	SSHIdentityFile       string
	SSHBinary             string
	SCPBinary             string
	ConnectTimeoutSeconds int

	// Encrypted artifacts
	AgeIdentityFile  string
	DecryptOutputDir string

	// Metrics (Prometheus textfile; empty path disables export)
	MetricsPath string

	// Webhook notification (empty URL disables delivery)
	WebhookURL            string
	WebhookTimeoutSeconds int

	ConfigPath string

	// raw configuration map
	raw map[string]string
}

// LoadConfig reads the dumpguard.env configuration file.
func LoadConfig(configPath string) (*Config, error) {
	if !utils.FileExists(configPath) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	rawValues, err := parseEnvFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ConfigPath: configPath,
		raw:        rawValues,
	}

	// Override with environment variables (env vars take precedence over file)
	cfg.loadEnvOverrides()

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	return cfg, nil
}

// loadEnvOverrides checks for environment variables and overrides config file values.
// This allows environment variables to take precedence over file configuration.
func (c *Config) loadEnvOverrides() {
	envKeys := []string{
		"LOG_LEVEL", "LOG_FILE", "USE_COLOR",
		"BACKUP_DIR", "BACKUP_PATTERNS", "KEEP_COUNT", "PROBE_FORMAT",
		"REMOTE_ENABLED", "REMOTE_HOST", "REMOTE_USER", "REMOTE_PORT", "REMOTE_DIR",
		"SSH_IDENTITY_FILE", "SSH_BINARY", "SCP_BINARY", "CONNECT_TIMEOUT_SECONDS",
		"AGE_IDENTITY_FILE", "DECRYPT_OUTPUT_DIR",
		"METRICS_PATH",
		"WEBHOOK_URL", "WEBHOOK_TIMEOUT_SECONDS",
	}

	for _, key := range envKeys {
		if envValue := os.Getenv(key); envValue != "" {
			c.raw[key] = envValue
		}
	}
}

// parse interprets the raw configuration values.
func (c *Config) parse() error {
	// Backup directory first: ${BACKUP_DIR} in later values expands to it.
	c.BackupDir = strings.TrimSpace(c.getString("BACKUP_DIR", ""))
	if c.BackupDir == "" {
		c.BackupDir = "/var/backups/db"
	}
	_ = os.Setenv("BACKUP_DIR", c.BackupDir)

	c.LogLevel = c.getLogLevel("LOG_LEVEL", types.LogLevelInfo)
	c.LogFile = strings.TrimSpace(c.getString("LOG_FILE", ""))

	// USE_COLOR vs DISABLE_COLORS (inverted)
	if disableColors, ok := c.raw["DISABLE_COLORS"]; ok {
		c.UseColor = !utils.ParseBool(disableColors)
	} else {
		c.UseColor = c.getBool("USE_COLOR", true)
	}

	c.BackupPatterns = normalizeList(c.getStringSlice("BACKUP_PATTERNS", nil))
	if len(c.BackupPatterns) == 0 {
		c.BackupPatterns = []string{"*.sql.gz"}
	}

	c.KeepCount = c.getInt("KEEP_COUNT", 7)
	c.ProbeFormat = c.getBool("PROBE_FORMAT", true)

	// Remote fetch
	c.RemoteEnabled = c.getBool("REMOTE_ENABLED", false)
	c.RemoteHost = strings.TrimSpace(c.getString("REMOTE_HOST", ""))
	c.RemoteUser = strings.TrimSpace(c.getString("REMOTE_USER", "root"))
	if c.RemoteUser == "" {
		c.RemoteUser = "root"
	}
	c.RemotePort = c.getInt("REMOTE_PORT", 22)
	if c.RemotePort < 1 || c.RemotePort > 65535 {
		return fmt.Errorf("invalid REMOTE_PORT: %d", c.RemotePort)
	}
	c.RemoteDir = strings.TrimSpace(c.getString("REMOTE_DIR", ""))
	c.SSHIdentityFile = strings.TrimSpace(c.getString("SSH_IDENTITY_FILE", ""))
	c.SSHBinary = strings.TrimSpace(c.getString("SSH_BINARY", "ssh"))
	if c.SSHBinary == "" {
		c.SSHBinary = "ssh"
	}
	c.SCPBinary = strings.TrimSpace(c.getString("SCP_BINARY", "scp"))
	if c.SCPBinary == "" {
		c.SCPBinary = "scp"
	}
	c.ConnectTimeoutSeconds = c.ensurePositiveInt("CONNECT_TIMEOUT_SECONDS", 15)

	// Encrypted artifacts
	c.AgeIdentityFile = strings.TrimSpace(c.getString("AGE_IDENTITY_FILE", ""))
	c.DecryptOutputDir = strings.TrimSpace(c.getString("DECRYPT_OUTPUT_DIR", ""))
	if c.DecryptOutputDir == "" {
		c.DecryptOutputDir = filepath.Join(c.BackupDir, "restore")
	}

	// Metrics: METRICS_PATH points at the node_exporter textfile directory;
	// empty disables export. PROMETHEUS_TEXTFILE_DIR is accepted as an alias.
	c.MetricsPath = strings.TrimSpace(c.getStringWithFallback([]string{"METRICS_PATH", "PROMETHEUS_TEXTFILE_DIR"}, ""))

	// Webhook: empty URL disables delivery.
	c.WebhookURL = strings.TrimSpace(c.getString("WEBHOOK_URL", ""))
	c.WebhookTimeoutSeconds = c.ensurePositiveInt("WEBHOOK_TIMEOUT_SECONDS", 10)

	return nil
}

// Helper methods for typed values

func (c *Config) getString(key, defaultValue string) string {
	if val, ok := c.raw[key]; ok {
		return expandEnvVars(val)
	}
	return defaultValue
}

func (c *Config) getBool(key string, defaultValue bool) bool {
	if val, ok := c.raw[key]; ok {
		return utils.ParseBool(val)
	}
	return defaultValue
}

func (c *Config) getInt(key string, defaultValue int) int {
	if val, ok := c.raw[key]; ok {
		if intVal, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func (c *Config) ensurePositiveInt(key string, defaultValue int) int {
	value := c.getInt(key, defaultValue)
	if value <= 0 {
		return defaultValue
	}
	return value
}

func (c *Config) getLogLevel(key string, defaultValue types.LogLevel) types.LogLevel {
	if val, ok := c.raw[key]; ok {
		// Try numeric first
		if intVal, err := strconv.Atoi(val); err == nil {
			return types.LogLevel(intVal)
		}
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "debug":
			return types.LogLevelDebug
		case "info":
			return types.LogLevelInfo
		case "warning", "warn":
			return types.LogLevelWarning
		case "error":
			return types.LogLevelError
		case "critical":
			return types.LogLevelCritical
		case "none":
			return types.LogLevelNone
		}
	}
	return defaultValue
}

func (c *Config) getStringSlice(key string, defaultValue []string) []string {
	val, ok := c.raw[key]
	if !ok {
		return defaultValue
	}
	return SplitPatterns(val)
}

// SplitPatterns splits a raw pattern list on commas, semicolons, pipes, or
// newlines, trimming whitespace and surrounding quotes from each entry. The
// --pattern flag and BACKUP_PATTERNS go through the same splitting.
func SplitPatterns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}
	}

	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', '|', '\n':
			return true
		default:
			return false
		}
	})

	var result []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			trimmed = strings.Trim(trimmed, `"'`)
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return []string{}
	}
	return result
}

func (c *Config) getStringWithFallback(keys []string, defaultValue string) string {
	for _, key := range keys {
		if val, ok := c.raw[key]; ok && val != "" {
			return expandEnvVars(val)
		}
	}
	return defaultValue
}

// expandEnvVars expands environment variables and special variables like ${BACKUP_DIR}
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		if key == "BACKUP_DIR" {
			if val := os.Getenv("BACKUP_DIR"); val != "" {
				return val
			}
			return "/var/backups/db"
		}
		return os.Getenv(key)
	})
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	clean := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		return []string{}
	}
	return clean
}

// Get returns a raw value from the configuration.
func (c *Config) Get(key string) (string, bool) {
	val, ok := c.raw[key]
	return val, ok
}

// Set stores a value in the configuration.
func (c *Config) Set(key, value string) {
	c.raw[key] = value
}

func parseEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open config file: %w", err)
	}
	defer file.Close()

	raw := make(map[string]string)
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if utils.IsComment(trimmed) {
			continue
		}

		key, value, ok := utils.SplitKeyValue(line)
		if !ok {
			continue
		}

		if blockValueKeys[key] && trimmed == fmt.Sprintf("%s=\"", key) {
			var blockLines []string
			terminated := false
			for scanner.Scan() {
				next := strings.TrimRight(scanner.Text(), "\r")
				if strings.TrimSpace(next) == "\"" {
					terminated = true
					break
				}
				blockLines = append(blockLines, next)
			}
			if !terminated {
				return nil, fmt.Errorf("unterminated multi-line value for %s", key)
			}
			raw[key] = strings.Join(blockLines, "\n")
			continue
		}

		if multiValueKeys[key] {
			if existing, ok := raw[key]; ok && existing != "" {
				raw[key] = existing + "\n" + value
			} else {
				raw[key] = value
			}
		} else {
			raw[key] = value
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return raw, nil
}
