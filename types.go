package encfs

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/absfs/absfs"
	"github.com/sirupsen/logrus"
)

// CipherSuite represents the encryption algorithm to use
type CipherSuite uint8

const (
	// CipherAESSIV uses AES-SIV for deterministic authenticated encryption
	CipherAESSIV CipherSuite = iota
	// CipherAES256GCM uses AES-256 with Galois/Counter Mode
	CipherAES256GCM
	// CipherChaCha20Poly1305 uses ChaCha20 stream cipher with Poly1305 MAC
	CipherChaCha20Poly1305
)

// String returns the string representation of the cipher suite
func (c CipherSuite) String() string {
	switch c {
	case CipherAESSIV:
		return "aes-siv"
	case CipherAES256GCM:
		return "aes-256-gcm"
	case CipherChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return "unknown"
	}
}

// Deterministic reports whether encrypting the same plaintext twice with the
// same passphrase yields identical ciphertext.
func (c CipherSuite) Deterministic() bool {
	return c == CipherAESSIV
}

func (c CipherSuite) valid() bool {
	return c == CipherAESSIV || c == CipherAES256GCM || c == CipherChaCha20Poly1305
}

// ParseCipherSuite parses the names returned by CipherSuite.String.
func ParseCipherSuite(name string) (CipherSuite, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "aes-siv", "siv":
		return CipherAESSIV, nil
	case "aes-256-gcm", "aes-gcm", "gcm":
		return CipherAES256GCM, nil
	case "chacha20-poly1305", "chacha20", "chacha":
		return CipherChaCha20Poly1305, nil
	}
	return 0, NewValidationError("cipher", name, "unknown cipher suite")
}

// Direction selects what a Transform does with its input.
type Direction uint8

const (
	Decrypt Direction = iota
	Encrypt
)

func (d Direction) String() string {
	switch d {
	case Decrypt:
		return "decrypt"
	case Encrypt:
		return "encrypt"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// HashFunc represents hash function types for PBKDF2
type HashFunc uint8

const (
	// SHA256 hash function
	SHA256 HashFunc = iota
	// SHA512 hash function
	SHA512
)

// PBKDF2Params contains parameters for PBKDF2 key derivation
type PBKDF2Params struct {
	Iterations int      // Number of iterations (minimum 100,000 recommended)
	HashFunc   HashFunc // Hash function to use
	SaltSize   int      // Salt size in bytes (default 32)
}

// Argon2idParams contains parameters for Argon2id key derivation
type Argon2idParams struct {
	Memory      uint32 // Memory in KiB (e.g., 64*1024 for 64MB)
	Iterations  uint32 // Number of iterations (time parameter)
	Parallelism uint8  // Degree of parallelism
	SaltSize    int    // Salt size in bytes (default 32)
}

// KeyDerivation turns a passphrase and salt into key material.
type KeyDerivation interface {
	// DeriveKey derives size bytes of key material
	DeriveKey(passphrase, salt []byte, size int) ([]byte, error)

	// SaltSize returns the salt length new files are written with
	SaltSize() int
}

// Config contains configuration for the encryption engine. It is read once
// by New; later changes have no effect.
type Config struct {
	// Root is the absolute path of the backing directory tree
	Root string

	// Passphrase is used for every encrypt and decrypt during the mount
	Passphrase []byte

	// Cipher suite used when (re-)encrypting files. Files are always
	// decrypted with the suite recorded in their header.
	Cipher CipherSuite

	// KDF derives keys from Passphrase. Defaults to Argon2id.
	KDF KeyDerivation

	// StrictMarkers makes marker read failures other than "not set" or
	// "not supported" surface as errors instead of meaning "plaintext".
	StrictMarkers bool

	// Markers overrides the marker store. Defaults to extended attributes.
	Markers MarkerStore

	// Base is the filesystem content I/O goes through. Defaults to the
	// host filesystem.
	Base absfs.FileSystem

	// Transform overrides the crypto transform built from Cipher and KDF.
	Transform Transform

	// Logger receives diagnostics. Defaults to a discarding logger.
	Logger logrus.FieldLogger

	// Metrics records operation counters. May be nil.
	Metrics *Metrics
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if c.Root == "" {
		return NewValidationError("root", c.Root, "root directory cannot be empty")
	}
	if !filepath.IsAbs(c.Root) {
		return NewValidationError("root", c.Root, "root directory must be absolute")
	}
	if err := ValidatePassphrase(c.Passphrase); err != nil {
		return err
	}
	if !c.Cipher.valid() {
		return NewValidationError("cipher", c.Cipher, "unsupported cipher suite")
	}
	return nil
}
