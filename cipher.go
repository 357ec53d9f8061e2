package encfs

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherEngine seals and opens a whole message. The associated data is
// authenticated but not encrypted; the file header is passed here.
type CipherEngine interface {
	// Encrypt encrypts plaintext with the given nonce
	Encrypt(nonce, plaintext, ad []byte) ([]byte, error)

	// Decrypt decrypts ciphertext with the given nonce
	Decrypt(nonce, ciphertext, ad []byte) ([]byte, error)

	// NonceSize returns the size of nonces in bytes
	NonceSize() int

	// Overhead returns how many bytes the ciphertext is longer than the plaintext
	Overhead() int
}

// AEADEngine implements CipherEngine on top of a standard cipher.AEAD
type AEADEngine struct {
	aead cipher.AEAD
}

// NewAESGCMEngine creates a new AES-256-GCM cipher engine
func NewAESGCMEngine(key []byte) (*AEADEngine, error) {
	if err := ValidateKey(key, 32); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AEADEngine{aead: aead}, nil
}

// NewChaCha20Poly1305Engine creates a new ChaCha20-Poly1305 cipher engine
func NewChaCha20Poly1305Engine(key []byte) (*AEADEngine, error) {
	if err := ValidateKey(key, chacha20poly1305.KeySize); err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
	}

	return &AEADEngine{aead: aead}, nil
}

func (e *AEADEngine) Encrypt(nonce, plaintext, ad []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	return e.aead.Seal(nil, nonce, plaintext, ad), nil
}

func (e *AEADEngine) Decrypt(nonce, ciphertext, ad []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}

	plaintext, err := e.aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func (e *AEADEngine) NonceSize() int {
	return e.aead.NonceSize()
}

func (e *AEADEngine) Overhead() int {
	return e.aead.Overhead()
}

// KeySize returns the key length a cipher suite needs
func KeySize(suite CipherSuite) (int, error) {
	switch suite {
	case CipherAESSIV:
		return sivKeySize, nil
	case CipherAES256GCM:
		return 32, nil
	case CipherChaCha20Poly1305:
		return chacha20poly1305.KeySize, nil
	default:
		return 0, ErrUnsupportedCipher
	}
}

// NonceSize returns the nonce length a cipher suite needs
func NonceSize(suite CipherSuite) (int, error) {
	switch suite {
	case CipherAESSIV:
		return 0, nil
	case CipherAES256GCM:
		return 12, nil // GCM standard nonce size
	case CipherChaCha20Poly1305:
		return chacha20poly1305.NonceSize, nil
	default:
		return 0, ErrUnsupportedCipher
	}
}

// Overhead returns the ciphertext expansion of a cipher suite, not counting
// the file header
func Overhead(suite CipherSuite) (int, error) {
	switch suite {
	case CipherAESSIV:
		return sivTagSize, nil
	case CipherAES256GCM, CipherChaCha20Poly1305:
		return 16, nil
	default:
		return 0, ErrUnsupportedCipher
	}
}

// NewCipherEngine creates a new cipher engine based on the cipher suite
func NewCipherEngine(suite CipherSuite, key []byte) (CipherEngine, error) {
	switch suite {
	case CipherAESSIV:
		return NewSIVEngine(key)
	case CipherAES256GCM:
		return NewAESGCMEngine(key)
	case CipherChaCha20Poly1305:
		return NewChaCha20Poly1305Engine(key)
	default:
		return nil, ErrUnsupportedCipher
	}
}

// GenerateNonce generates a random nonce for the given cipher. AES-SIV takes
// no nonce and gets an empty one.
func GenerateNonce(suite CipherSuite) ([]byte, error) {
	size, err := NonceSize(suite)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, size)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}
