package types

import "time"

// Artifact is a backup file managed by dumpguard. The file itself is
// produced externally (pg_dump piped through gzip, optionally encrypted);
// dumpguard only reads it, verifies it and eventually deletes it.
type Artifact struct {
	// Full file path
	Path string

	// Modification time, used for recency ordering
	ModifiedAt time.Time

	// File size in bytes (informational)
	SizeBytes int64
}

// RecordSuffix is appended to an artifact path to name its digest record
// sidecar (dump.sql.gz -> dump.sql.gz.sha256).
const RecordSuffix = ".sha256"

// Name returns the base name of the artifact file.
func (a Artifact) Name() string {
	for i := len(a.Path) - 1; i >= 0; i-- {
		if a.Path[i] == '/' {
			return a.Path[i+1:]
		}
	}
	return a.Path
}

// RecordPath returns the path of the digest record sidecar for this artifact.
func (a Artifact) RecordPath() string {
	return a.Path + RecordSuffix
}

// LogLevel represents the logging level.
type LogLevel int

const (
	// LogLevelDebug - Debug logs (maximum detail)
	LogLevelDebug LogLevel = 5

	// LogLevelInfo - General information
	LogLevelInfo LogLevel = 4

	// LogLevelWarning - Warnings
	LogLevelWarning LogLevel = 3

	// LogLevelError - Errors
	LogLevelError LogLevel = 2

	// LogLevelCritical - Critical errors
	LogLevelCritical LogLevel = 1

	// LogLevelNone - No logs
	LogLevelNone LogLevel = 0
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelError:
		return "ERROR"
	case LogLevelCritical:
		return "CRITICAL"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}
