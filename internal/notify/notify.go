// Package notify delivers run results to an optional webhook endpoint.
// Delivery is best effort: a failed notification is logged as a warning
// and never changes the exit code of the run.
package notify

import (
	"time"

	"github.com/sbl-ops/dumpguard/internal/types"
	"github.com/sbl-ops/dumpguard/internal/verify"
)

// NotificationStatus represents the triage level of a verification run
type NotificationStatus int

const (
	StatusSuccess NotificationStatus = iota
	StatusWarning
	StatusFailure
)

// String returns the string representation of NotificationStatus
func (s NotificationStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusWarning:
		return "warning"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// StatusFromExitCode maps a process exit code to a notification status.
// This keeps webhook consumers in sync with the actual exit code emitted
// by the process: a fresh record initialization is worth a look but not
// an alert, everything else non-zero is a failure.
func StatusFromExitCode(exitCode int) NotificationStatus {
	switch types.ExitCode(exitCode) {
	case types.ExitSuccess:
		return StatusSuccess
	case types.ExitRecordsInitialized:
		return StatusWarning
	default:
		return StatusFailure
	}
}

// RunSummary contains all information to be sent in a notification
type RunSummary struct {
	// Overall status
	Overall  verify.Overall
	ExitCode int

	// System information
	Hostname  string
	BackupDir string
	Version   string

	// Run metadata
	StartedAt time.Time
	Duration  time.Duration

	// Verification counts
	ArtifactsChecked int
	Matched          int
	RecordsCreated   int
	ProbeFailed      int
	Mismatched       int
	HardFailures     int

	// Retention
	PrunedRemoved int

	// Per-artifact findings
	Findings []Finding
}

// Finding is one per-artifact entry of the webhook payload.
type Finding struct {
	Artifact string
	Outcome  string
	Detail   string
}

// GetStatusEmoji returns the emoji for a given status
func GetStatusEmoji(status NotificationStatus) string {
	switch status {
	case StatusSuccess:
		return "✅"
	case StatusWarning:
		return "⚠️"
	case StatusFailure:
		return "❌"
	default:
		return "❓"
	}
}

// FormatDuration formats a duration in human-readable form (e.g. "2h 15m 30s")
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	out := ""
	if hours > 0 {
		out = itoa(hours) + "h"
	}
	if minutes > 0 {
		if out != "" {
			out += " "
		}
		out += itoa(minutes) + "m"
	}
	if seconds > 0 {
		if out != "" {
			out += " "
		}
		out += itoa(seconds) + "s"
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
