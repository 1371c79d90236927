// Package restore drives the recovery workflow for encrypted backup
// artifacts: pick an encrypted dump, load an age identity, and decrypt
// it into the restore directory without clobbering existing output.
package restore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"filippo.io/age"
	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sbl-ops/dumpguard/internal/config"
	"github.com/sbl-ops/dumpguard/internal/identity"
	"github.com/sbl-ops/dumpguard/internal/input"
	"github.com/sbl-ops/dumpguard/internal/logging"
	"github.com/sbl-ops/dumpguard/internal/storage"
	"github.com/sbl-ops/dumpguard/internal/types"
	"github.com/sbl-ops/dumpguard/pkg/utils"
)

var ErrRestoreAborted = errors.New("restore workflow aborted by user")
var titleCaser = cases.Title(language.English)

// encryptedSuffix marks artifacts the backup producer uploaded through age.
const encryptedSuffix = ".age"

// Workflow holds the dependencies of an interactive restore run.
type Workflow struct {
	config *config.Config
	logger *logging.Logger
	store  *storage.LocalStore

	isTerminal   func(fd int) bool
	pickTUI      func(candidates []types.Artifact) (types.Artifact, error)
	promptSecret func(ctx context.Context) (string, error)
	stdin        *bufio.Reader
}

// NewWorkflow creates a restore workflow over the configured backup directory.
func NewWorkflow(cfg *config.Config, logger *logging.Logger) *Workflow {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &Workflow{
		config:       cfg,
		logger:       logger,
		store:        storage.NewLocalStore(cfg.BackupDir, logger),
		isTerminal:   term.IsTerminal,
		pickTUI:      pickArtifactTUI,
		promptSecret: identity.PromptSecret,
		stdin:        bufio.NewReader(os.Stdin),
	}
}

// ForceCLI makes the workflow use numbered CLI prompts even on a terminal.
func (w *Workflow) ForceCLI() {
	w.isTerminal = func(int) bool { return false }
}

// Run locates the encrypted artifacts, lets the operator pick one, and
// decrypts it into the output directory.
func (w *Workflow) Run(ctx context.Context) error {
	candidates, err := w.store.LocateAny(ctx, encryptedPatterns(w.config.BackupPatterns), true)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no encrypted artifacts found in %s", w.store.Dir())
	}

	artifact, err := w.selectArtifact(ctx, candidates)
	if err != nil {
		return err
	}
	w.logger.Info("Selected %s", describeArtifact(artifact))

	identities, err := w.loadIdentities(ctx)
	if err != nil {
		return err
	}

	output, err := w.decryptArtifact(artifact, identities)
	if err != nil {
		return err
	}

	if digest, err := utils.ComputeSHA256(output); err == nil {
		w.logger.Info("Decrypted artifact digest: sha256 %s", digest)
	}
	size, _ := utils.GetFileSize(output)
	w.logger.Info("Restored %s (%s)", output, utils.FormatBytes(size))
	return nil
}

func (w *Workflow) selectArtifact(ctx context.Context, candidates []types.Artifact) (types.Artifact, error) {
	if len(candidates) == 1 {
		w.logger.Debug("Single encrypted artifact, skipping selection")
		return candidates[0], nil
	}
	if w.isTerminal(int(os.Stdin.Fd())) {
		return w.pickTUI(candidates)
	}
	return promptArtifactSelection(ctx, w.stdin, candidates)
}

// loadIdentities prefers the configured identity file and falls back to an
// interactive secret prompt (private key or passphrase).
func (w *Workflow) loadIdentities(ctx context.Context) (*identity.Set, error) {
	if path := strings.TrimSpace(w.config.AgeIdentityFile); path != "" && utils.FileExists(path) {
		set, err := identity.LoadFile(path)
		if err != nil {
			return nil, err
		}
		w.logger.Info("Loaded %d identities from %s", set.Len(), path)
		return set, nil
	}

	secret, err := w.promptSecret(ctx)
	if err != nil {
		if identity.IsAborted(err) {
			return nil, ErrRestoreAborted
		}
		return nil, err
	}
	return identity.FromInput(secret)
}

// decryptArtifact writes the plaintext next to a temp file and renames it
// into place. An existing output is never overwritten.
func (w *Workflow) decryptArtifact(artifact types.Artifact, ids *identity.Set) (string, error) {
	if ids.Empty() {
		return "", fmt.Errorf("no identity available to decrypt %s", artifact.Name())
	}

	outDir := w.config.DecryptOutputDir
	if err := utils.EnsureDir(outDir); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	dest := filepath.Join(outDir, strings.TrimSuffix(artifact.Name(), encryptedSuffix))
	if utils.FileExists(dest) {
		return "", fmt.Errorf("decrypted output %s already exists (move it aside first)", dest)
	}
	logging.DebugStep(w.logger, "restore", "decrypting %s into %s", artifact.Name(), outDir)

	in, err := os.Open(artifact.Path)
	if err != nil {
		return "", fmt.Errorf("open encrypted artifact: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(outDir, ".restore-*")
	if err != nil {
		return "", fmt.Errorf("create temporary output: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	stream, err := age.Decrypt(in, ids.Identities()...)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", artifact.Name(), err)
	}

	if _, err := io.Copy(tmp, stream); err != nil {
		return "", fmt.Errorf("write decrypted output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close decrypted output: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o640); err != nil {
		return "", fmt.Errorf("set output permissions: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("move decrypted output into place: %w", err)
	}
	return dest, nil
}

func promptArtifactSelection(ctx context.Context, reader *bufio.Reader, candidates []types.Artifact) (types.Artifact, error) {
	for {
		fmt.Println("\nEncrypted artifacts:")
		for idx, cand := range candidates {
			fmt.Printf("  [%d] %s\n", idx+1, describeArtifact(cand))
		}
		fmt.Println("  [0] Exit")

		fmt.Print("Choice: ")
		choiceLine, err := input.ReadLineWithContext(ctx, reader)
		if err != nil {
			return types.Artifact{}, err
		}
		trimmed := strings.TrimSpace(choiceLine)
		if trimmed == "0" {
			return types.Artifact{}, ErrRestoreAborted
		}
		if trimmed == "" {
			continue
		}
		idx, err := parseMenuIndex(trimmed, len(candidates))
		if err != nil {
			fmt.Println(err)
			continue
		}
		return candidates[idx], nil
	}
}

func parseMenuIndex(input string, max int) (int, error) {
	idx, err := strconv.Atoi(input)
	if err != nil || idx < 1 || idx > max {
		return 0, fmt.Errorf("please enter a value between 1 and %d", max)
	}
	return idx - 1, nil
}

// encryptedPatterns widens the configured artifact patterns to their
// age-encrypted variants.
func encryptedPatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasSuffix(p, encryptedSuffix) {
			p += encryptedSuffix
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		out = []string{"*" + encryptedSuffix}
	}
	return out
}

func artifactState(a types.Artifact) string {
	if strings.HasSuffix(a.Name(), encryptedSuffix) {
		return "encrypted"
	}
	return "plain"
}

func describeArtifact(a types.Artifact) string {
	return fmt.Sprintf("%s • %s • %s • %s",
		a.Name(),
		a.ModifiedAt.Format("2006-01-02 15:04:05"),
		utils.FormatBytes(a.SizeBytes),
		titleCaser.String(artifactState(a)))
}
