package encfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// MagicBytes identifies encrypted files (ASCII: "ENCR")
	MagicBytes = uint32(0x454E4352)

	// CurrentVersion is the current file format version
	CurrentVersion = uint8(1)

	// MinHeaderSize is the size of a header with empty salt and nonce:
	// 4 (magic) + 1 (version) + 1 (cipher) + 2 (salt size) + 2 (nonce size)
	MinHeaderSize = 10
)

// FileHeader prefixes the ciphertext of every encrypted file. Its encoding
// is authenticated as associated data, so a header cannot be swapped between
// files without decryption failing.
type FileHeader struct {
	Magic     uint32      // Magic bytes to identify encrypted files
	Version   uint8       // File format version
	Cipher    CipherSuite // Cipher suite used for encryption
	SaltSize  uint16      // Size of the salt in bytes
	Salt      []byte      // Salt for key derivation
	NonceSize uint16      // Size of the nonce in bytes
	Nonce     []byte      // Nonce/IV for encryption, empty for AES-SIV
}

// NewFileHeader creates a new file header with the given parameters
func NewFileHeader(cipher CipherSuite, salt, nonce []byte) *FileHeader {
	return &FileHeader{
		Magic:     MagicBytes,
		Version:   CurrentVersion,
		Cipher:    cipher,
		SaltSize:  uint16(len(salt)),
		Salt:      salt,
		NonceSize: uint16(len(nonce)),
		Nonce:     nonce,
	}
}

// Size returns the total size of the header in bytes
func (h *FileHeader) Size() int {
	return MinHeaderSize + len(h.Salt) + len(h.Nonce)
}

// MarshalBinary encodes the header in its on-disk form.
func (h *FileHeader) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, h.Size()))

	fixed := []any{h.Magic, h.Version, h.Cipher, h.SaltSize}
	for _, v := range fixed {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("failed to write header field: %w", err)
		}
	}
	buf.Write(h.Salt)

	if err := binary.Write(buf, binary.LittleEndian, h.NonceSize); err != nil {
		return nil, fmt.Errorf("failed to write nonce size: %w", err)
	}
	buf.Write(h.Nonce)

	return buf.Bytes(), nil
}

// WriteTo writes the header to the given writer
func (h *FileHeader) WriteTo(w io.Writer) (int64, error) {
	b, err := h.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// ReadFrom reads the header from the given reader
func (h *FileHeader) ReadFrom(r io.Reader) (int64, error) {
	var totalRead int64

	if err := binary.Read(r, binary.LittleEndian, &h.Magic); err != nil {
		return totalRead, fmt.Errorf("failed to read magic bytes: %w", err)
	}
	totalRead += 4

	if h.Magic != MagicBytes {
		return totalRead, ErrInvalidHeader
	}

	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return totalRead, fmt.Errorf("failed to read version: %w", err)
	}
	totalRead++

	if h.Version > CurrentVersion {
		return totalRead, ErrUnsupportedVersion
	}

	if err := binary.Read(r, binary.LittleEndian, &h.Cipher); err != nil {
		return totalRead, fmt.Errorf("failed to read cipher: %w", err)
	}
	totalRead++

	if err := binary.Read(r, binary.LittleEndian, &h.SaltSize); err != nil {
		return totalRead, fmt.Errorf("failed to read salt size: %w", err)
	}
	totalRead += 2

	h.Salt = make([]byte, h.SaltSize)
	n, err := io.ReadFull(r, h.Salt)
	totalRead += int64(n)
	if err != nil {
		return totalRead, fmt.Errorf("failed to read salt: %w", err)
	}

	if err := binary.Read(r, binary.LittleEndian, &h.NonceSize); err != nil {
		return totalRead, fmt.Errorf("failed to read nonce size: %w", err)
	}
	totalRead += 2

	h.Nonce = make([]byte, h.NonceSize)
	n, err = io.ReadFull(r, h.Nonce)
	totalRead += int64(n)
	if err != nil {
		return totalRead, fmt.Errorf("failed to read nonce: %w", err)
	}

	return totalRead, nil
}

// Validate checks if the header is valid
func (h *FileHeader) Validate() error {
	if h.Magic != MagicBytes {
		return ErrInvalidHeader
	}
	if h.Version > CurrentVersion {
		return ErrUnsupportedVersion
	}
	if !h.Cipher.valid() {
		return ErrUnsupportedCipher
	}
	if len(h.Salt) == 0 {
		return fmt.Errorf("%w: salt cannot be empty", ErrInvalidHeader)
	}
	return ValidateNonce(h.Nonce, h.Cipher)
}
