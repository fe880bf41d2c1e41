// Package keys loads, validates and generates the watcher's ed25519 signing
// keypair. Key material is supplied as standard base64 strings and is never
// rendered by String or slog.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// SecretKeySize is the length of a secret key (seed + public half).
	SecretKeySize = ed25519.PrivateKeySize
	// PublicKeySize is the length of a public key.
	PublicKeySize = ed25519.PublicKeySize
)

// ErrKeyMismatch is returned when the public key does not belong to the secret key.
var ErrKeyMismatch = errors.New("keys: public key does not match secret key")

// LengthError reports a decoded key of the wrong size.
type LengthError struct {
	Which string // "secret" or "public"
	Want  int
	Got   int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("keys: %s key must be %d bytes, got %d", e.Which, e.Want, e.Got)
}

// KeyPair is the watcher's signing identity.
type KeyPair struct {
	Secret ed25519.PrivateKey
	Public ed25519.PublicKey
}

// Generate creates a fresh keypair from crypto/rand.
func Generate() (*KeyPair, error) {
	pub, sec, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	return &KeyPair{Secret: sec, Public: pub}, nil
}

// Load decodes and validates a base64 keypair. An empty public key is
// derived from the secret key.
func Load(secretB64, publicB64 string) (*KeyPair, error) {
	sec, err := decode("secret", secretB64, SecretKeySize)
	if err != nil {
		return nil, err
	}
	derived := ed25519.PrivateKey(sec).Public().(ed25519.PublicKey)
	if strings.TrimSpace(publicB64) == "" {
		return &KeyPair{Secret: sec, Public: derived}, nil
	}
	pub, err := decode("public", publicB64, PublicKeySize)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(pub, derived) != 1 {
		return nil, ErrKeyMismatch
	}
	return &KeyPair{Secret: sec, Public: pub}, nil
}

// DecodePublic decodes and length-checks a base64 public key.
func DecodePublic(publicB64 string) (ed25519.PublicKey, error) {
	pub, err := decode("public", publicB64, PublicKeySize)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(pub), nil
}

func decode(which, b64 string, want int) ([]byte, error) {
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return nil, fmt.Errorf("keys: %s key is empty", which)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("keys: decode %s key: %w", which, err)
	}
	if len(raw) != want {
		return nil, &LengthError{Which: which, Want: want, Got: len(raw)}
	}
	return raw, nil
}

// PublicKeyB64 returns the public key in the form verifiers consume.
func (k *KeyPair) PublicKeyB64() string {
	return base64.StdEncoding.EncodeToString(k.Public)
}

// Fingerprint is a short hex digest of the public key for logs.
func (k *KeyPair) Fingerprint() string {
	sum := sha256.Sum256(k.Public)
	return hex.EncodeToString(sum[:8])
}

// String never includes the secret key.
func (k *KeyPair) String() string {
	return "ed25519:" + k.Fingerprint()
}

// LogValue implements slog.LogValuer.
func (k *KeyPair) LogValue() slog.Value {
	return slog.GroupValue(slog.String("fingerprint", k.Fingerprint()))
}

// File is the on-disk key file layout.
type File struct {
	SecretKey string `yaml:"secret_key"`
	PublicKey string `yaml:"public_key"`
}

// LoadFile reads a YAML key file written by WriteFile.
func LoadFile(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keys: read key file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("keys: parse key file: %w", err)
	}
	return Load(f.SecretKey, f.PublicKey)
}

// WriteFile stores the keypair as YAML with owner-only permissions.
func (k *KeyPair) WriteFile(path string) error {
	data, err := yaml.Marshal(File{
		SecretKey: base64.StdEncoding.EncodeToString(k.Secret),
		PublicKey: k.PublicKeyB64(),
	})
	if err != nil {
		return fmt.Errorf("keys: encode key file: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("keys: create key dir: %w", err)
		}
	}
	// CreateTemp opens 0600; renaming over path replaces any looser mode.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".keys-*")
	if err != nil {
		return fmt.Errorf("keys: write key file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("keys: write key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("keys: write key file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("keys: write key file: %w", err)
	}
	return nil
}
