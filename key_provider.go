package encfs

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// PasswordKDF implements KeyDerivation with Argon2id or PBKDF2
type PasswordKDF struct {
	useArgon2id  bool
	pbkdf2Params PBKDF2Params
	argon2Params Argon2idParams
}

// NewPBKDF2KDF creates a PBKDF2 key derivation
func NewPBKDF2KDF(params PBKDF2Params) *PasswordKDF {
	if params.Iterations == 0 {
		params.Iterations = 100000
	}
	if params.SaltSize == 0 {
		params.SaltSize = 32
	}

	return &PasswordKDF{
		useArgon2id:  false,
		pbkdf2Params: params,
	}
}

// NewArgon2idKDF creates an Argon2id key derivation (recommended)
func NewArgon2idKDF(params Argon2idParams) *PasswordKDF {
	if params.Memory == 0 {
		params.Memory = 64 * 1024 // 64 MB
	}
	if params.Iterations == 0 {
		params.Iterations = 3
	}
	if params.Parallelism == 0 {
		params.Parallelism = 4
	}
	if params.SaltSize == 0 {
		params.SaltSize = 32
	}

	return &PasswordKDF{
		useArgon2id:  true,
		argon2Params: params,
	}
}

// DeriveKey derives an encryption key from the passphrase and salt
func (p *PasswordKDF) DeriveKey(passphrase, salt []byte, size int) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	if len(salt) == 0 {
		return nil, errors.New("salt cannot be empty")
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid key size %d", size)
	}

	if p.useArgon2id {
		return argon2.IDKey(
			passphrase,
			salt,
			p.argon2Params.Iterations,
			p.argon2Params.Memory,
			p.argon2Params.Parallelism,
			uint32(size),
		), nil
	}

	var hashFunc func() hash.Hash
	switch p.pbkdf2Params.HashFunc {
	case SHA256:
		hashFunc = sha256.New
	case SHA512:
		hashFunc = sha512.New
	default:
		return nil, fmt.Errorf("unsupported hash function: %v", p.pbkdf2Params.HashFunc)
	}

	return pbkdf2.Key(passphrase, salt, p.pbkdf2Params.Iterations, size, hashFunc), nil
}

// SaltSize returns the configured salt length
func (p *PasswordKDF) SaltSize() int {
	if p.useArgon2id {
		return p.argon2Params.SaltSize
	}
	return p.pbkdf2Params.SaltSize
}

// passphraseSalt derives a salt from the passphrase alone. Deterministic
// suites need it: a random salt would make every encryption differ.
func passphraseSalt(passphrase []byte, size int) []byte {
	salt := make([]byte, 0, size)
	var ctr [4]byte
	for i := uint32(0); len(salt) < size; i++ {
		mac := hmac.New(sha256.New, passphrase)
		mac.Write([]byte("encfs/salt"))
		binary.BigEndian.PutUint32(ctr[:], i)
		mac.Write(ctr[:])
		salt = mac.Sum(salt)
	}
	return salt[:size]
}
