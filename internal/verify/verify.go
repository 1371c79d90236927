// Package verify computes full-file SHA-256 digests of backup artifacts,
// reconciles them against sidecar digest records and probes the artifacts'
// container format. A record, once written, is authoritative: it is never
// overwritten, and disagreement is reported as a mismatch.
package verify

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/sbl-ops/dumpguard/internal/identity"
	"github.com/sbl-ops/dumpguard/internal/logging"
	"github.com/sbl-ops/dumpguard/internal/types"
)

// formatProbeBytes is how much of the decompressed stream the probe reads
// to confirm the header and at least one block decode.
const formatProbeBytes = 4 * 1024

// Verifier checks artifacts against their digest records.
type Verifier struct {
	logger     *logging.Logger
	identities *identity.Set
}

// New creates a verifier.
func New(logger *logging.Logger) *Verifier {
	return &Verifier{logger: logger}
}

// SetIdentities provides age identities so the format probe can look inside
// encrypted artifacts. Without identities, encrypted artifacts skip the
// probe.
func (v *Verifier) SetIdentities(ids *identity.Set) {
	v.identities = ids
}

// Verify computes the artifact digest, reconciles it with the sidecar
// record and optionally probes the container format. Errors are reserved
// for hard failures: an unreadable artifact, or an unwritable record
// location when no record existed yet.
func (v *Verifier) Verify(ctx context.Context, artifact types.Artifact, probeFormat bool) (Result, error) {
	result := Result{Artifact: artifact}

	computed, err := v.computeDigest(ctx, artifact.Path)
	if err != nil {
		return result, err
	}
	result.Computed = computed

	recordPath := artifact.RecordPath()
	data, err := os.ReadFile(recordPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := writeRecord(recordPath, computed); err != nil {
			return result, fmt.Errorf("cannot create digest record %s: %w", recordPath, err)
		}
		result.Outcome = OutcomeRecordCreated
		v.logger.Info("Created digest record for %s", artifact.Name())

	case err != nil:
		return result, fmt.Errorf("cannot read digest record %s: %w", recordPath, err)

	default:
		stored, ok := ExtractDigest(string(data))
		if !ok {
			result.Outcome = OutcomeMismatched
			v.logger.Warning("Digest record %s contains no 64-character digest", recordPath)
			break
		}
		result.Stored = stored
		if strings.EqualFold(stored, computed) {
			result.Outcome = OutcomeMatched
			v.logger.Debug("Checksum verification passed for %s", artifact.Name())
		} else {
			result.Outcome = OutcomeMismatched
			v.logger.Warning("Checksum mismatch for %s! Expected: %s, Got: %s",
				artifact.Name(), stored, computed)
		}
	}

	// A mismatch is the more actionable finding; the probe never
	// re-classifies it.
	if probeFormat && result.Outcome != OutcomeMismatched {
		if err := v.probeFormat(ctx, artifact.Path); err != nil {
			if errors.Is(err, errProbeSkipped) {
				v.logger.Debug("Format probe skipped for %s: %v", artifact.Name(), err)
			} else {
				result.Outcome = OutcomeFormatProbeFailed
				result.ProbeErr = err
				v.logger.Warning("Format probe failed for %s: %v", artifact.Name(), err)
			}
		}
	}

	return result, nil
}

// VerifyAll verifies every artifact independently, continuing past hard
// per-artifact failures, and folds the outcomes into the overall result. A
// hard failure ranks like a probe failure so the run is never reported
// healthy because a file could not be read.
func (v *Verifier) VerifyAll(ctx context.Context, artifacts []types.Artifact, probeFormat bool) *Report {
	report := &Report{}
	if len(artifacts) == 0 {
		report.Overall = OverallNoArtifacts
		return report
	}

	worst := OutcomeMatched
	for _, artifact := range artifacts {
		done := logging.DebugStart(v.logger, "verify", "%s", artifact.Name())
		result, err := v.Verify(ctx, artifact, probeFormat)
		done(err)
		if err != nil {
			v.logger.Error("Verification failed for %s: %v", artifact.Name(), err)
			report.Failures = append(report.Failures, Failure{Artifact: artifact, Err: err})
			if worst < OutcomeFormatProbeFailed {
				worst = OutcomeFormatProbeFailed
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			continue
		}

		report.Results = append(report.Results, result)
		if result.Outcome > worst {
			worst = result.Outcome
		}
	}

	switch worst {
	case OutcomeMismatched:
		report.Overall = OverallIntegrityFailure
	case OutcomeFormatProbeFailed:
		report.Overall = OverallFormatFailure
	case OutcomeRecordCreated:
		report.Overall = OverallRecordsInitialized
	default:
		report.Overall = OverallHealthy
	}

	return report
}

// computeDigest calculates the SHA-256 of the full file content.
func (v *Verifier) computeDigest(ctx context.Context, path string) (string, error) {
	v.logger.Debug("Generating SHA256 checksum for: %s", path)

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hash := sha256.New()

	// Copy file to hash in chunks with context checking
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := file.Read(buf)
		if n > 0 {
			if _, err := hash.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("failed to write to hash: %w", err)
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	v.logger.Debug("Generated checksum: %s", checksum)
	return checksum, nil
}

// writeRecord creates the digest record. O_EXCL guards the never-overwrite
// invariant at the write site.
func writeRecord(path, digest string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(digest + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ExtractDigest returns the first run of exactly 64 hexadecimal characters
// in a record's contents. Records may carry surrounding annotation text;
// runs longer than 64 characters do not qualify.
func ExtractDigest(content string) (string, bool) {
	for i := 0; i < len(content); {
		if !isHexChar(content[i]) {
			i++
			continue
		}
		j := i
		for j < len(content) && isHexChar(content[j]) {
			j++
		}
		if j-i == 64 {
			return content[i:j], true
		}
		i = j
	}
	return "", false
}

func isHexChar(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'a' && c <= 'f':
		return true
	case c >= 'A' && c <= 'F':
		return true
	}
	return false
}

// errProbeSkipped marks artifacts the probe cannot assess, such as
// encrypted files when no identity is configured.
var errProbeSkipped = errors.New("probe skipped")

// probeFormat opens the artifact as a gzip stream and reads a small
// initial chunk. Encrypted artifacts are decrypted on the fly when
// identities are available and skipped otherwise.
func (v *Verifier) probeFormat(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	var stream io.Reader = file

	if strings.HasSuffix(path, ".age") {
		if v.identities.Empty() {
			return fmt.Errorf("%w: encrypted artifact and no identity configured", errProbeSkipped)
		}
		decrypted, err := age.Decrypt(file, v.identities.Identities()...)
		if err != nil {
			return fmt.Errorf("decrypt artifact: %w", err)
		}
		stream = decrypted
	}

	gz, err := gzip.NewReader(stream)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	if _, err := io.CopyN(io.Discard, gz, formatProbeBytes); err != nil && err != io.EOF {
		return fmt.Errorf("read compressed stream: %w", err)
	}
	return nil
}
