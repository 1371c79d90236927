// Package identity manages the age identities used to open encrypted backup
// artifacts and to mint new key pairs for the backup producer.
package identity

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"filippo.io/age"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/term"

	"github.com/sbl-ops/dumpguard/internal/input"
	"github.com/sbl-ops/dumpguard/pkg/bech32"
)

const (
	passphraseSalt      = "dumpguard/age-passphrase/v1"
	passphraseScryptN   = 1 << 15
	passphraseScryptR   = 8
	passphraseScryptP   = 1
	minPassphraseLength = 12
)

var weakPassphraseList = []string{
	"password",
	"123456",
	"123456789",
	"qwerty",
	"letmein",
	"admin",
	"welcome",
	"iloveyou",
	"monkey",
}

// readPassword is swapped in tests that simulate passphrase entry.
var readPassword = term.ReadPassword

// Set holds the identities available for decrypting artifacts. It is built
// once per run and passed explicitly to the code that needs it.
type Set struct {
	identities []age.Identity
}

// NewSet returns a Set over the given identities.
func NewSet(ids ...age.Identity) *Set {
	return &Set{identities: append([]age.Identity(nil), ids...)}
}

// Identities returns the identities in the order they were added.
func (s *Set) Identities() []age.Identity {
	if s == nil {
		return nil
	}
	return s.identities
}

// Add appends identities to the set.
func (s *Set) Add(ids ...age.Identity) {
	s.identities = append(s.identities, ids...)
}

// Empty reports whether the set contains no identities.
func (s *Set) Empty() bool {
	return s == nil || len(s.identities) == 0
}

// Len returns the number of identities in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.identities)
}

// LoadFile reads an identities file: one AGE-SECRET-KEY per line, blank
// lines and # comments ignored (the format age-keygen writes).
func LoadFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identity file: %w", err)
	}
	defer f.Close()

	set := &Set{}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := age.ParseX25519Identity(strings.ToUpper(line))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid identity: %w", path, lineNo, err)
		}
		set.Add(id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	if set.Empty() {
		return nil, fmt.Errorf("no identities found in %s", path)
	}
	return set, nil
}

// FromInput interprets interactive secret input: an AGE-SECRET-KEY is parsed
// directly, anything else is treated as a passphrase and derived.
func FromInput(secret string) (*Set, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("secret cannot be empty")
	}
	if strings.HasPrefix(strings.ToUpper(secret), "AGE-SECRET-KEY-") {
		id, err := age.ParseX25519Identity(strings.ToUpper(secret))
		if err != nil {
			return nil, fmt.Errorf("invalid age private key: %w", err)
		}
		return NewSet(id), nil
	}
	return FromPassphrase(secret)
}

// FromPassphrase derives the deterministic identity for a passphrase.
func FromPassphrase(passphrase string) (*Set, error) {
	id, err := deriveIdentityFromPassphrase(passphrase)
	if err != nil {
		return nil, err
	}
	return NewSet(id), nil
}

// DeriveRecipient derives the age recipient matching FromPassphrase, so the
// backup producer can encrypt to a passphrase-derived key.
func DeriveRecipient(passphrase string) (string, error) {
	key, err := derivePassphraseScalar(passphrase)
	if err != nil {
		return "", err
	}
	public, err := curve25519.X25519(key, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("derive X25519 public key: %w", err)
	}
	recipient, err := bech32.Encode("age", public)
	if err != nil {
		return "", fmt.Errorf("encode recipient: %w", err)
	}
	return recipient, nil
}

func derivePassphraseScalar(passphrase string) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), []byte(passphraseSalt),
		passphraseScryptN, passphraseScryptR, passphraseScryptP, curve25519.ScalarSize)
	if err != nil {
		return nil, fmt.Errorf("derive key from passphrase: %w", err)
	}
	clampCurve25519Scalar(key)
	return key, nil
}

func clampCurve25519Scalar(k []byte) {
	if len(k) != curve25519.ScalarSize {
		return
	}
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

func deriveIdentityFromPassphrase(passphrase string) (age.Identity, error) {
	key, err := derivePassphraseScalar(passphrase)
	if err != nil {
		return nil, err
	}
	secret, err := bech32.Encode("AGE-SECRET-KEY-", key)
	if err != nil {
		return nil, fmt.Errorf("encode secret key: %w", err)
	}
	secret = strings.ToUpper(secret)
	return age.ParseX25519Identity(secret)
}

// Generate creates a fresh random X25519 identity.
func Generate() (*age.X25519Identity, error) {
	return age.GenerateX25519Identity()
}

// WriteIdentityFile persists a generated identity with the age-keygen header
// layout. The file is created 0600 and never overwritten.
func WriteIdentityFile(path string, id *age.X25519Identity) error {
	if id == nil {
		return fmt.Errorf("identity is nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create identity directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("identity file already exists: %s (move it aside first)", path)
		}
		return fmt.Errorf("create identity file: %w", err)
	}
	defer f.Close()

	content := fmt.Sprintf("# created: %s\n# public key: %s\n%s\n",
		time.Now().Format(time.RFC3339), id.Recipient().String(), id.String())
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return nil
}

// ValidatePassphraseStrength enforces a minimum length, three of four
// character classes, and rejects a short list of notoriously weak choices.
func ValidatePassphraseStrength(pass []byte) error {
	passStr := string(pass)
	if len(passStr) < minPassphraseLength {
		return fmt.Errorf("passphrase too short; use at least %d characters", minPassphraseLength)
	}

	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range passStr {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}

	classes := 0
	for _, flag := range []bool{hasLower, hasUpper, hasDigit, hasSymbol} {
		if flag {
			classes++
		}
	}
	if classes < 3 {
		return fmt.Errorf("passphrase must include characters from at least three categories (uppercase, lowercase, digits, symbols)")
	}

	lower := strings.ToLower(passStr)
	for _, weak := range weakPassphraseList {
		if lower == weak {
			return fmt.Errorf("passphrase is too common; choose a more unique phrase")
		}
	}
	return nil
}

// PromptSecret reads a private key or passphrase without echo, for the
// decrypt workflow. A closed stdin surfaces as input.ErrInputAborted.
func PromptSecret(ctx context.Context) (string, error) {
	fmt.Print("Enter the age private key or passphrase (input is not echoed). Press Enter when done: ")
	secretBytes, err := input.ReadPasswordWithContext(ctx, readPassword, int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	defer zeroBytes(secretBytes)

	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}
	return secret, nil
}

// PromptNewPassphrase asks for a passphrase twice, checking strength, for
// deterministic key derivation.
func PromptNewPassphrase(ctx context.Context) (string, error) {
	fmt.Print("Enter the passphrase to derive the key pair (input is not echoed). Press Enter when done: ")
	passBytes, err := input.ReadPasswordWithContext(ctx, readPassword, int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	defer zeroBytes(passBytes)

	trimmed := bytes.TrimSpace(passBytes)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("passphrase cannot be empty")
	}
	if err := ValidatePassphraseStrength(trimmed); err != nil {
		return "", err
	}
	pass := string(trimmed)
	zeroBytes(trimmed)

	fmt.Print("Re-enter the passphrase to confirm: ")
	confirmBytes, err := input.ReadPasswordWithContext(ctx, readPassword, int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		resetString(&pass)
		return "", err
	}
	defer zeroBytes(confirmBytes)

	confirmTrimmed := bytes.TrimSpace(confirmBytes)
	if string(confirmTrimmed) != pass {
		resetString(&pass)
		zeroBytes(confirmTrimmed)
		return "", fmt.Errorf("passphrases do not match")
	}
	zeroBytes(confirmTrimmed)

	return pass, nil
}

// IsAborted reports whether the error came from the user cancelling a prompt.
func IsAborted(err error) bool {
	return input.IsAborted(err) || errors.Is(err, context.Canceled)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func resetString(s *string) {
	*s = ""
}
