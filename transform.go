package encfs

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru"
)

// Transform encrypts or decrypts a whole stream with a passphrase.
//
// Implementations must satisfy the round-trip law: decrypting the output of
// an encryption with the same passphrase yields the original input.
type Transform interface {
	Transform(dir Direction, passphrase []byte, in io.Reader, out io.Writer) error
}

// Sizer is implemented by transforms that can tell the plaintext size of a
// ciphertext stream from its prefix, without decrypting it.
type Sizer interface {
	PlaintextSize(in io.Reader, ciphertextSize int64) (int64, error)
}

// Resealer is implemented by transforms that can encrypt a new version of a
// file with the key material of its previous ciphertext, so rewriting a file
// does not cost a key derivation.
type Resealer interface {
	Reseal(passphrase, prior, plaintext []byte, out io.Writer) error
}

// keyCacheSize bounds the derived keys kept by a CipherTransform. A mount
// with a deterministic suite uses a single salt; randomized suites use one
// per file version.
const keyCacheSize = 256

// CipherTransform is the Transform used by the overlay. Output is a
// FileHeader followed by the ciphertext of the configured CipherSuite.
type CipherTransform struct {
	cipher CipherSuite
	kdf    KeyDerivation
	keys   *lru.Cache
}

// NewCipherTransform creates a transform writing suite and deriving keys
// with kdf. A nil kdf selects Argon2id with default parameters.
func NewCipherTransform(suite CipherSuite, kdf KeyDerivation) (*CipherTransform, error) {
	if !suite.valid() {
		return nil, ErrUnsupportedCipher
	}
	if kdf == nil {
		kdf = NewArgon2idKDF(Argon2idParams{})
	}
	if kdf.SaltSize() <= 0 || kdf.SaltSize() > 0xffff {
		return nil, NewValidationError("salt_size", kdf.SaltSize(), "salt size out of range")
	}

	keys, err := lru.New(keyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create key cache: %w", err)
	}

	return &CipherTransform{cipher: suite, kdf: kdf, keys: keys}, nil
}

// Cipher returns the suite used for encryption.
func (t *CipherTransform) Cipher() CipherSuite {
	return t.cipher
}

// Transform reads all of in, encrypts or decrypts it and writes the result
// to out. Nothing is written to out unless the whole transformation
// succeeded. Decrypting an empty input yields an empty output.
func (t *CipherTransform) Transform(dir Direction, passphrase []byte, in io.Reader, out io.Writer) error {
	if err := ValidatePassphrase(passphrase); err != nil {
		return NewEncryptionError(dir.String(), "", err)
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return NewEncryptionError(dir.String(), "", fmt.Errorf("failed to read input: %w", err))
	}

	var result []byte
	switch dir {
	case Encrypt:
		result, err = t.seal(passphrase, data)
	case Decrypt:
		result, err = t.open(passphrase, data)
	default:
		err = fmt.Errorf("unknown direction %v", dir)
	}
	if err != nil {
		return NewEncryptionError(dir.String(), "", err)
	}

	if _, err := out.Write(result); err != nil {
		return NewEncryptionError(dir.String(), "", fmt.Errorf("failed to write output: %w", err))
	}
	return nil
}

// Reseal encrypts plaintext like Transform, but with randomized suites it
// keeps the salt of prior when prior was written with the same suite and
// salt size. The nonce is always fresh.
func (t *CipherTransform) Reseal(passphrase, prior, plaintext []byte, out io.Writer) error {
	if err := ValidatePassphrase(passphrase); err != nil {
		return NewEncryptionError("encrypt", "", err)
	}

	salt, err := t.salt(passphrase)
	if err != nil {
		return NewEncryptionError("encrypt", "", err)
	}

	var header FileHeader
	if !t.cipher.Deterministic() {
		if _, err := header.ReadFrom(bytes.NewReader(prior)); err == nil &&
			header.Validate() == nil &&
			header.Cipher == t.cipher &&
			len(header.Salt) == t.kdf.SaltSize() {
			salt = header.Salt
		}
	}

	result, err := t.sealWith(passphrase, salt, plaintext)
	if err != nil {
		return NewEncryptionError("encrypt", "", err)
	}
	if _, err := out.Write(result); err != nil {
		return NewEncryptionError("encrypt", "", fmt.Errorf("failed to write output: %w", err))
	}
	return nil
}

// salt returns the salt for a new file: derived from the passphrase for a
// deterministic suite, random otherwise.
func (t *CipherTransform) salt(passphrase []byte) ([]byte, error) {
	if t.cipher.Deterministic() {
		return passphraseSalt(passphrase, t.kdf.SaltSize()), nil
	}
	salt := make([]byte, t.kdf.SaltSize())
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

func (t *CipherTransform) seal(passphrase, plaintext []byte) ([]byte, error) {
	salt, err := t.salt(passphrase)
	if err != nil {
		return nil, err
	}
	return t.sealWith(passphrase, salt, plaintext)
}

func (t *CipherTransform) sealWith(passphrase, salt, plaintext []byte) ([]byte, error) {
	nonce, err := GenerateNonce(t.cipher)
	if err != nil {
		return nil, err
	}

	header, err := NewFileHeader(t.cipher, salt, nonce).MarshalBinary()
	if err != nil {
		return nil, err
	}

	engine, err := t.engine(t.cipher, passphrase, salt)
	if err != nil {
		return nil, err
	}

	ciphertext, err := engine.Encrypt(nonce, plaintext, header)
	if err != nil {
		return nil, err
	}
	return append(header, ciphertext...), nil
}

func (t *CipherTransform) open(passphrase, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	var header FileHeader
	n, err := header.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := header.Validate(); err != nil {
		return nil, err
	}

	engine, err := t.engine(header.Cipher, passphrase, header.Salt)
	if err != nil {
		return nil, err
	}
	return engine.Decrypt(header.Nonce, data[n:], data[:n])
}

// PlaintextSize implements Sizer from the header and the suite's overhead.
func (t *CipherTransform) PlaintextSize(in io.Reader, ciphertextSize int64) (int64, error) {
	if ciphertextSize == 0 {
		return 0, nil
	}

	var header FileHeader
	n, err := header.ReadFrom(in)
	if err != nil {
		return 0, NewEncryptionError("decrypt", "", err)
	}
	if err := header.Validate(); err != nil {
		return 0, NewEncryptionError("decrypt", "", err)
	}

	overhead, err := Overhead(header.Cipher)
	if err != nil {
		return 0, NewEncryptionError("decrypt", "", err)
	}

	size := ciphertextSize - n - int64(overhead)
	if size < 0 {
		return 0, NewEncryptionError("decrypt", "", ErrTruncated)
	}
	return size, nil
}

// engine returns a cipher engine keyed from passphrase and salt, deriving the
// key only on a cache miss.
func (t *CipherTransform) engine(suite CipherSuite, passphrase, salt []byte) (CipherEngine, error) {
	size, err := KeySize(suite)
	if err != nil {
		return nil, err
	}

	h := sha256.New()
	fmt.Fprintf(h, "%d:%d:", size, len(passphrase))
	h.Write(passphrase)
	h.Write(salt)
	var id [sha256.Size]byte
	copy(id[:], h.Sum(nil))

	if key, ok := t.keys.Get(id); ok {
		return NewCipherEngine(suite, key.([]byte))
	}

	key, err := t.kdf.DeriveKey(passphrase, salt, size)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	t.keys.Add(id, key)

	return NewCipherEngine(suite, key)
}
