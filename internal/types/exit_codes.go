// Package types defines shared application data types.
package types

// ExitCode represents the application's exit codes.
type ExitCode int

const (
	// ExitSuccess - Execution completed successfully, all artifacts healthy.
	ExitSuccess ExitCode = 0

	// ExitGenericError - Unspecified generic error.
	ExitGenericError ExitCode = 1

	// ExitConfigError - Configuration or usage error.
	ExitConfigError ExitCode = 2

	// ExitRecordsInitialized - One or more digest records were created for
	// artifacts seen for the first time (informational, not a failure).
	ExitRecordsInitialized ExitCode = 3

	// ExitIntegrityMismatch - A computed digest disagrees with its stored
	// record, or a record exists but contains no valid digest.
	ExitIntegrityMismatch ExitCode = 4

	// ExitFormatProbeFailure - An artifact failed the compressed-container
	// probe (and no integrity mismatch was found for it).
	ExitFormatProbeFailure ExitCode = 5

	// ExitNoArtifacts - No artifact matched the configured pattern.
	ExitNoArtifacts ExitCode = 6

	// ExitPanicError - Unhandled panic caught.
	ExitPanicError ExitCode = 13

	// ExitInterrupted - Run terminated by SIGINT (128+2).
	ExitInterrupted ExitCode = 130
)

// String returns a human-readable description of the exit code.
func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitGenericError:
		return "generic error"
	case ExitConfigError:
		return "configuration error"
	case ExitRecordsInitialized:
		return "records initialized"
	case ExitIntegrityMismatch:
		return "integrity mismatch"
	case ExitFormatProbeFailure:
		return "format probe failure"
	case ExitNoArtifacts:
		return "no artifacts"
	case ExitPanicError:
		return "panic error"
	case ExitInterrupted:
		return "interrupted"
	default:
		return "unknown error"
	}
}

// Int returns the exit code as an integer.
func (e ExitCode) Int() int {
	return int(e)
}
