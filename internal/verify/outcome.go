package verify

import (
	"github.com/sbl-ops/dumpguard/internal/types"
)

// Outcome classifies the verification of a single artifact. The constants
// are ordered by severity so a batch reduces to its maximum.
type Outcome int

const (
	// OutcomeMatched - the computed digest equals the stored record.
	OutcomeMatched Outcome = iota

	// OutcomeRecordCreated - no record existed; one was written with the
	// freshly computed digest.
	OutcomeRecordCreated

	// OutcomeFormatProbeFailed - the digest step passed but the artifact
	// failed the compressed-container probe.
	OutcomeFormatProbeFailed

	// OutcomeMismatched - the computed digest disagrees with the stored
	// record, or the record contains no usable digest.
	OutcomeMismatched
)

// String returns a human-readable description of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeRecordCreated:
		return "record created"
	case OutcomeFormatProbeFailed:
		return "format probe failed"
	case OutcomeMismatched:
		return "mismatched"
	default:
		return "unknown"
	}
}

// Overall is the aggregate result of a verification run.
type Overall int

const (
	// OverallNoArtifacts - the locator found nothing to verify.
	OverallNoArtifacts Overall = iota

	// OverallHealthy - every artifact matched its record.
	OverallHealthy

	// OverallRecordsInitialized - at least one record was created and
	// nothing worse happened.
	OverallRecordsInitialized

	// OverallFormatFailure - at least one probe failure or hard I/O
	// failure, and no mismatch.
	OverallFormatFailure

	// OverallIntegrityFailure - at least one digest mismatch.
	OverallIntegrityFailure
)

// String returns a human-readable description of the overall result.
func (o Overall) String() string {
	switch o {
	case OverallNoArtifacts:
		return "no artifacts found"
	case OverallHealthy:
		return "healthy"
	case OverallRecordsInitialized:
		return "records initialized"
	case OverallFormatFailure:
		return "format failure"
	case OverallIntegrityFailure:
		return "integrity failure"
	default:
		return "unknown"
	}
}

// ExitCode maps the overall result to the process exit code convention.
func (o Overall) ExitCode() types.ExitCode {
	switch o {
	case OverallHealthy:
		return types.ExitSuccess
	case OverallRecordsInitialized:
		return types.ExitRecordsInitialized
	case OverallIntegrityFailure:
		return types.ExitIntegrityMismatch
	case OverallFormatFailure:
		return types.ExitFormatProbeFailure
	case OverallNoArtifacts:
		return types.ExitNoArtifacts
	default:
		return types.ExitGenericError
	}
}

// Result carries the per-artifact detail behind an outcome: the stored and
// computed digests and, when the probe failed, the failing step.
type Result struct {
	Artifact types.Artifact
	Outcome  Outcome

	// Computed is the freshly calculated hex digest of the artifact.
	Computed string

	// Stored is the digest extracted from the record file, empty when no
	// record existed or none could be extracted.
	Stored string

	// ProbeErr is set when the format probe failed.
	ProbeErr error
}

// Failure records an artifact whose verification failed hard (unreadable
// artifact, unwritable record) rather than yielding an outcome.
type Failure struct {
	Artifact types.Artifact
	Err      error
}

// Report aggregates one verification run.
type Report struct {
	Results  []Result
	Failures []Failure
	Overall  Overall
}

// Counts returns how many artifacts ended in each outcome.
func (r *Report) Counts() map[Outcome]int {
	counts := make(map[Outcome]int, 4)
	for _, res := range r.Results {
		counts[res.Outcome]++
	}
	return counts
}

// Checked returns the number of artifacts the run attempted to verify.
func (r *Report) Checked() int {
	return len(r.Results) + len(r.Failures)
}
