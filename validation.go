package encfs

import (
	"fmt"
)

// ValidateOffset checks if a file offset is valid
func ValidateOffset(offset int64, name string) error {
	if offset < 0 {
		return &ValidationError{
			Field:   name,
			Value:   offset,
			Message: "offset cannot be negative",
			Err:     ErrNegativeOffset,
		}
	}
	return nil
}

// ValidateSize checks if a size parameter is valid
func ValidateSize(size int64, name string) error {
	if size < 0 {
		return &ValidationError{
			Field:   name,
			Value:   size,
			Message: "size cannot be negative",
		}
	}
	return nil
}

// ValidatePassphrase rejects empty passphrases.
func ValidatePassphrase(passphrase []byte) error {
	if len(passphrase) == 0 {
		return &ValidationError{
			Field:   "passphrase",
			Message: "passphrase cannot be empty",
			Err:     ErrEmptyPassphrase,
		}
	}
	return nil
}

// ValidateKey checks if a key has the correct size
func ValidateKey(key []byte, expectedSize int) error {
	if key == nil {
		return &ValidationError{
			Field:   "key",
			Message: "key cannot be nil",
		}
	}

	if len(key) != expectedSize {
		return &ValidationError{
			Field:   "key",
			Value:   len(key),
			Message: fmt.Sprintf("invalid key size: got %d bytes, expected %d bytes", len(key), expectedSize),
		}
	}

	return nil
}

// ValidateNonce checks if a nonce has the correct size for a cipher
func ValidateNonce(nonce []byte, cipher CipherSuite) error {
	expectedSize, err := NonceSize(cipher)
	if err != nil {
		return &ValidationError{
			Field:   "cipher",
			Value:   cipher,
			Message: "unsupported cipher suite for nonce validation",
			Err:     err,
		}
	}

	if len(nonce) != expectedSize {
		return &ValidationError{
			Field:   "nonce",
			Value:   len(nonce),
			Message: fmt.Sprintf("invalid nonce size: got %d bytes, expected %d bytes for %s", len(nonce), expectedSize, cipher),
		}
	}

	return nil
}
