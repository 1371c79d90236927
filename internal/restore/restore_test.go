package restore

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filippo.io/age"

	"github.com/sbl-ops/dumpguard/internal/config"
	"github.com/sbl-ops/dumpguard/internal/identity"
	"github.com/sbl-ops/dumpguard/internal/logging"
	"github.com/sbl-ops/dumpguard/internal/types"
)

func newTestWorkflow(t *testing.T) (*Workflow, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		BackupDir:        dir,
		BackupPatterns:   []string{"*.sql.gz"},
		DecryptOutputDir: filepath.Join(dir, "restore"),
	}
	w := NewWorkflow(cfg, logging.New(types.LogLevelNone, false))
	return w, cfg
}

func writeEncryptedArtifact(t *testing.T, dir, name string, payload []byte, rcpt age.Recipient, modTime time.Time) types.Artifact {
	t.Helper()

	var buf bytes.Buffer
	wc, err := age.Encrypt(&buf, rcpt)
	if err != nil {
		t.Fatalf("age.Encrypt: %v", err)
	}
	if _, err := wc.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	if err := wc.Close(); err != nil {
		t.Fatalf("close encryptor: %v", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat artifact: %v", err)
	}
	return types.Artifact{Path: path, ModifiedAt: info.ModTime(), SizeBytes: info.Size()}
}

func TestEncryptedPatterns(t *testing.T) {
	cases := []struct {
		in       []string
		expected []string
	}{
		{[]string{"*.sql.gz"}, []string{"*.sql.gz.age"}},
		{[]string{"db-*.sql.gz", "*.age"}, []string{"db-*.sql.gz.age", "*.age"}},
		{[]string{"  "}, []string{"*.age"}},
		{nil, []string{"*.age"}},
	}

	for _, tc := range cases {
		got := encryptedPatterns(tc.in)
		if len(got) != len(tc.expected) {
			t.Fatalf("encryptedPatterns(%v) = %v, want %v", tc.in, got, tc.expected)
		}
		for i := range got {
			if got[i] != tc.expected[i] {
				t.Fatalf("encryptedPatterns(%v) = %v, want %v", tc.in, got, tc.expected)
			}
		}
	}
}

func TestParseMenuIndex(t *testing.T) {
	if idx, err := parseMenuIndex("2", 3); err != nil || idx != 1 {
		t.Fatalf("parseMenuIndex(2, 3) = %d, %v; want 1, nil", idx, err)
	}
	for _, bad := range []string{"0", "4", "x", ""} {
		if _, err := parseMenuIndex(bad, 3); err == nil {
			t.Fatalf("parseMenuIndex(%q, 3) should fail", bad)
		}
	}
}

func TestDescribeArtifact(t *testing.T) {
	a := types.Artifact{
		Path:       "/backups/db-20250101.sql.gz.age",
		ModifiedAt: time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC),
		SizeBytes:  2048,
	}
	desc := describeArtifact(a)
	if !strings.Contains(desc, "db-20250101.sql.gz.age") {
		t.Fatalf("describeArtifact() = %q, want artifact name", desc)
	}
	if !strings.Contains(desc, "Encrypted") {
		t.Fatalf("describeArtifact() = %q, want Encrypted label", desc)
	}
	if !strings.Contains(desc, "2.0 KB") {
		t.Fatalf("describeArtifact() = %q, want formatted size", desc)
	}
}

func TestPromptArtifactSelection(t *testing.T) {
	candidates := []types.Artifact{
		{Path: "/backups/a.sql.gz.age", ModifiedAt: time.Now()},
		{Path: "/backups/b.sql.gz.age", ModifiedAt: time.Now()},
	}

	reader := bufio.NewReader(strings.NewReader("2\n"))
	got, err := promptArtifactSelection(context.Background(), reader, candidates)
	if err != nil {
		t.Fatalf("promptArtifactSelection() error = %v", err)
	}
	if got.Name() != "b.sql.gz.age" {
		t.Fatalf("selected %s, want b.sql.gz.age", got.Name())
	}

	reader = bufio.NewReader(strings.NewReader("0\n"))
	if _, err := promptArtifactSelection(context.Background(), reader, candidates); !errors.Is(err, ErrRestoreAborted) {
		t.Fatalf("choice 0 error = %v, want %v", err, ErrRestoreAborted)
	}

	// Invalid input retries until a valid choice arrives.
	reader = bufio.NewReader(strings.NewReader("nope\n9\n1\n"))
	got, err = promptArtifactSelection(context.Background(), reader, candidates)
	if err != nil {
		t.Fatalf("promptArtifactSelection() after retries error = %v", err)
	}
	if got.Name() != "a.sql.gz.age" {
		t.Fatalf("selected %s, want a.sql.gz.age", got.Name())
	}
}

func TestDecryptArtifactRoundTrip(t *testing.T) {
	w, cfg := newTestWorkflow(t)

	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	payload := []byte("-- PostgreSQL dump\nSELECT 1;\n")
	artifact := writeEncryptedArtifact(t, cfg.BackupDir, "db-20250101.sql.gz.age", payload, id.Recipient(), time.Now())

	output, err := w.decryptArtifact(artifact, identity.NewSet(id))
	if err != nil {
		t.Fatalf("decryptArtifact() error = %v", err)
	}
	if output != filepath.Join(cfg.DecryptOutputDir, "db-20250101.sql.gz") {
		t.Fatalf("output path = %s", output)
	}

	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("decrypted payload = %q, want %q", got, payload)
	}

	info, err := os.Stat(output)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Fatalf("output mode = %v, want 0640", info.Mode().Perm())
	}
}

func TestDecryptArtifactNeverClobbers(t *testing.T) {
	w, cfg := newTestWorkflow(t)

	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	artifact := writeEncryptedArtifact(t, cfg.BackupDir, "db.sql.gz.age", []byte("new"), id.Recipient(), time.Now())

	dest := filepath.Join(cfg.DecryptOutputDir, "db.sql.gz")
	if err := os.MkdirAll(cfg.DecryptOutputDir, 0o755); err != nil {
		t.Fatalf("mkdir output dir: %v", err)
	}
	if err := os.WriteFile(dest, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write existing output: %v", err)
	}

	if _, err := w.decryptArtifact(artifact, identity.NewSet(id)); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("decryptArtifact() error = %v, want already-exists refusal", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read existing output: %v", err)
	}
	if string(got) != "keep" {
		t.Fatalf("existing output was modified: %q", got)
	}
}

func TestDecryptArtifactWrongIdentity(t *testing.T) {
	w, cfg := newTestWorkflow(t)

	owner, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	other, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	artifact := writeEncryptedArtifact(t, cfg.BackupDir, "db.sql.gz.age", []byte("secret"), owner.Recipient(), time.Now())

	if _, err := w.decryptArtifact(artifact, identity.NewSet(other)); err == nil {
		t.Fatal("decryptArtifact() with wrong identity should fail")
	}

	if _, err := os.Stat(filepath.Join(cfg.DecryptOutputDir, "db.sql.gz")); !os.IsNotExist(err) {
		t.Fatalf("output should not exist after failed decrypt, stat err = %v", err)
	}
	leftovers, err := filepath.Glob(filepath.Join(cfg.DecryptOutputDir, ".restore-*"))
	if err != nil {
		t.Fatalf("glob temp files: %v", err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("temporary files left behind: %v", leftovers)
	}
}

func TestRunDecryptsSelectedArtifact(t *testing.T) {
	w, cfg := newTestWorkflow(t)

	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	now := time.Now()
	newest := []byte("newest dump")
	writeEncryptedArtifact(t, cfg.BackupDir, "db-20250102.sql.gz.age", newest, id.Recipient(), now)
	writeEncryptedArtifact(t, cfg.BackupDir, "db-20250101.sql.gz.age", []byte("older dump"), id.Recipient(), now.Add(-24*time.Hour))

	w.isTerminal = func(int) bool { return false }
	w.stdin = bufio.NewReader(strings.NewReader("1\n"))
	w.promptSecret = func(context.Context) (string, error) { return id.String(), nil }

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(cfg.DecryptOutputDir, "db-20250102.sql.gz"))
	if err != nil {
		t.Fatalf("read restored output: %v", err)
	}
	if !bytes.Equal(got, newest) {
		t.Fatalf("restored payload = %q, want %q", got, newest)
	}
}

func TestRunNoEncryptedArtifacts(t *testing.T) {
	w, _ := newTestWorkflow(t)
	err := w.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no encrypted artifacts") {
		t.Fatalf("Run() error = %v, want no-encrypted-artifacts failure", err)
	}
}

func TestLoadIdentitiesFromFile(t *testing.T) {
	w, cfg := newTestWorkflow(t)

	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	keyPath := filepath.Join(t.TempDir(), "identity.txt")
	if err := identity.WriteIdentityFile(keyPath, id); err != nil {
		t.Fatalf("WriteIdentityFile() error = %v", err)
	}
	cfg.AgeIdentityFile = keyPath
	w.promptSecret = func(context.Context) (string, error) {
		t.Fatal("promptSecret should not be called when an identity file exists")
		return "", nil
	}

	set, err := w.loadIdentities(context.Background())
	if err != nil {
		t.Fatalf("loadIdentities() error = %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("loaded %d identities, want 1", set.Len())
	}
}
