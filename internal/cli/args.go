package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sbl-ops/dumpguard/internal/config"
	"github.com/sbl-ops/dumpguard/internal/types"
)

const (
	configEnvVar        = "DUMPGUARD_CONFIG"
	configSourceDefault = "default path"
	configSourceFlag    = "specified via --config/-c flag"
	configSourceEnv     = "from DUMPGUARD_CONFIG environment"
)

var osExit = os.Exit

// Args holds the parsed command-line arguments
type Args struct {
	ConfigPath       string
	ConfigPathSource string
	LogLevel         types.LogLevel
	All              bool
	Keep             int
	KeepSet          bool
	BackupDir        string
	BackupDirSet     bool
	Patterns         string
	PatternsSet      bool
	Probe            bool
	NoProbe          bool
	Fetch            bool
	Prune            bool
	Decrypt          bool
	ForceNewKey      bool
	Passphrase       bool
	InitConfig       bool
	ForceCLI         bool
	ShowVersion      bool
	ShowHelp         bool
}

// Parse parses command-line arguments and returns Args struct
func Parse() *Args {
	args := &Args{}

	configFlag := newStringFlag(config.DefaultPath)
	dirFlag := newStringFlag("")
	patternFlag := newStringFlag("")
	keepFlag := newIntFlag(0)

	// Define flags
	flag.Var(configFlag, "config", "Path to configuration file")
	flag.Var(configFlag, "c", "Path to configuration file (shorthand)")

	var logLevelStr string
	flag.StringVar(&logLevelStr, "log-level", "",
		"Log level (debug|info|warning|error|critical)")
	flag.StringVar(&logLevelStr, "l", "",
		"Log level (shorthand)")

	flag.BoolVar(&args.All, "all", false,
		"Verify every matching artifact instead of only the newest")
	flag.BoolVar(&args.All, "a", false,
		"Verify every matching artifact (shorthand)")

	flag.Var(dirFlag, "dir",
		"Backup directory to scan (overrides BACKUP_DIR)")
	flag.Var(patternFlag, "pattern",
		"Artifact name pattern(s), comma separated shell globs (overrides BACKUP_PATTERNS)")
	flag.Var(keepFlag, "keep",
		"How many newest artifacts to keep when pruning (overrides KEEP_COUNT)")

	flag.BoolVar(&args.Probe, "probe", false,
		"Force the gzip format probe on, regardless of PROBE_FORMAT")
	flag.BoolVar(&args.NoProbe, "no-probe", false,
		"Skip the gzip format probe for this run")

	flag.BoolVar(&args.Fetch, "fetch", false,
		"Fetch the newest remote dump over SSH before verifying")
	flag.BoolVar(&args.Prune, "prune", false,
		"Prune artifacts beyond the retention count and exit (no verification)")
	flag.BoolVar(&args.Decrypt, "decrypt", false,
		"Run the restore workflow (pick an encrypted dump and decrypt it)")

	flag.BoolVar(&args.ForceNewKey, "newkey", false,
		"Generate a new age identity for encrypting dumps and exit")
	flag.BoolVar(&args.Passphrase, "passphrase", false,
		"With --newkey, derive the recipient from a passphrase instead of generating a key file")
	flag.BoolVar(&args.InitConfig, "init", false,
		"Write the embedded configuration template to the config path (never overwrites)")

	flag.BoolVar(&args.ForceCLI, "cli", false,
		"Use CLI prompts instead of TUI for interactive workflows (works with --decrypt)")

	flag.BoolVar(&args.ShowVersion, "version", false,
		"Show version information")
	flag.BoolVar(&args.ShowVersion, "v", false,
		"Show version information (shorthand)")

	flag.BoolVar(&args.ShowHelp, "help", false,
		"Show help message")
	flag.BoolVar(&args.ShowHelp, "h", false,
		"Show help message (shorthand)")

	// Custom usage message
	flag.Usage = func() {
		printHelp(os.Stderr, os.Args[0])
	}

	// Parse flags
	flag.Parse()

	args.ConfigPath = configFlag.value
	switch {
	case configFlag.set:
		args.ConfigPathSource = configSourceFlag
	case os.Getenv(configEnvVar) != "":
		args.ConfigPath = os.Getenv(configEnvVar)
		args.ConfigPathSource = configSourceEnv
	default:
		args.ConfigPathSource = configSourceDefault
	}

	args.BackupDir = dirFlag.value
	args.BackupDirSet = dirFlag.set
	args.Patterns = patternFlag.value
	args.PatternsSet = patternFlag.set
	args.Keep = keepFlag.value
	args.KeepSet = keepFlag.set

	// Parse log level if provided
	if logLevelStr != "" {
		args.LogLevel = parseLogLevel(logLevelStr)
	} else {
		args.LogLevel = types.LogLevelNone // Will be overridden by config
	}

	return args
}

// parseLogLevel converts string to LogLevel
func parseLogLevel(s string) types.LogLevel {
	switch s {
	case "debug", "5":
		return types.LogLevelDebug
	case "info", "4":
		return types.LogLevelInfo
	case "warning", "3":
		return types.LogLevelWarning
	case "error", "2":
		return types.LogLevelError
	case "critical", "1":
		return types.LogLevelCritical
	case "none", "0":
		return types.LogLevelNone
	default:
		return types.LogLevelInfo
	}
}

// ShowHelp displays help message and exits
func ShowHelp() {
	printHelp(os.Stderr, os.Args[0])
	osExit(0)
}

// ShowVersion displays version information and exits
func ShowVersion(version, signature string) {
	printVersion(os.Stdout, version, signature)
	osExit(0)
}

func printHelp(w io.Writer, argv0 string) {
	fmt.Fprintf(w, "Usage: %s [options]\n\n", argv0)
	fmt.Fprintln(w, "Dumpguard - backup integrity verification and retention")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Options:")
	flag.PrintDefaults()
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s -c /etc/dumpguard/dumpguard.env\n", argv0)
	fmt.Fprintf(w, "  %s --all --log-level debug\n", argv0)
	fmt.Fprintf(w, "  %s --fetch --keep 14\n", argv0)
	fmt.Fprintf(w, "  %s --decrypt\n", argv0)
	fmt.Fprintf(w, "  %s --version\n", argv0)
}

func printVersion(w io.Writer, version, signature string) {
	fmt.Fprintln(w, "Dumpguard")
	fmt.Fprintf(w, "Version: %s\n", version)
	if signature != "" {
		fmt.Fprintf(w, "Build: %s\n", signature)
	}
}

type stringFlag struct {
	value string
	set   bool
}

func newStringFlag(defaultValue string) *stringFlag {
	return &stringFlag{value: defaultValue}
}

func (s *stringFlag) String() string {
	return s.value
}

func (s *stringFlag) Set(val string) error {
	s.value = val
	s.set = true
	return nil
}

type intFlag struct {
	value int
	set   bool
}

func newIntFlag(defaultValue int) *intFlag {
	return &intFlag{value: defaultValue}
}

func (i *intFlag) String() string {
	return strconv.Itoa(i.value)
}

func (i *intFlag) Set(val string) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid count %q", val)
	}
	i.value = n
	i.set = true
	return nil
}
