package encfs

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

const (
	sivKeySize = 64
	sivTagSize = 16
)

// SIVEngine implements AES-SIV (RFC 5297). The synthetic IV is computed from
// the plaintext and associated data, which makes encryption deterministic:
// the same key, header and plaintext always give the same ciphertext.
//
// Ciphertext layout: SIV (16 bytes) || CTR(plaintext).
type SIVEngine struct {
	mac cipher.Block // keyed with the first half, used for S2V
	ctr cipher.Block // keyed with the second half, used for CTR
}

// NewSIVEngine creates a new AES-SIV cipher engine. The 64-byte key is split
// into a 32-byte MAC key and a 32-byte encryption key.
func NewSIVEngine(key []byte) (*SIVEngine, error) {
	if len(key) != sivKeySize {
		return nil, fmt.Errorf("AES-SIV requires a %d-byte key, got %d bytes", sivKeySize, len(key))
	}

	mac, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	ctr, err := aes.NewCipher(key[32:])
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	return &SIVEngine{mac: mac, ctr: ctr}, nil
}

// Seal encrypts plaintext, authenticating every ad component.
func (e *SIVEngine) Seal(plaintext []byte, ad ...[]byte) []byte {
	iv := e.s2v(plaintext, ad...)

	out := make([]byte, sivTagSize+len(plaintext))
	copy(out, iv)
	e.xorCTR(iv, plaintext, out[sivTagSize:])
	return out
}

// Open decrypts ciphertext produced by Seal with the same ad components.
func (e *SIVEngine) Open(ciphertext []byte, ad ...[]byte) ([]byte, error) {
	if len(ciphertext) < sivTagSize {
		return nil, ErrTruncated
	}

	iv := ciphertext[:sivTagSize]
	plaintext := make([]byte, len(ciphertext)-sivTagSize)
	e.xorCTR(iv, ciphertext[sivTagSize:], plaintext)

	if subtle.ConstantTimeCompare(iv, e.s2v(plaintext, ad...)) != 1 {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// Encrypt implements CipherEngine. SIV takes no nonce; the header passed as
// ad is its only context.
func (e *SIVEngine) Encrypt(nonce, plaintext, ad []byte) ([]byte, error) {
	if len(nonce) != 0 {
		return nil, fmt.Errorf("AES-SIV takes no nonce, got %d bytes", len(nonce))
	}
	return e.Seal(plaintext, ad), nil
}

// Decrypt implements CipherEngine.
func (e *SIVEngine) Decrypt(nonce, ciphertext, ad []byte) ([]byte, error) {
	if len(nonce) != 0 {
		return nil, fmt.Errorf("AES-SIV takes no nonce, got %d bytes", len(nonce))
	}
	return e.Open(ciphertext, ad)
}

// NonceSize returns 0 since SIV doesn't use nonces
func (e *SIVEngine) NonceSize() int {
	return 0
}

// Overhead returns the SIV size (16 bytes)
func (e *SIVEngine) Overhead() int {
	return sivTagSize
}

// s2v implements the S2V construction of RFC 5297 section 2.4.
func (e *SIVEngine) s2v(plaintext []byte, ad ...[]byte) []byte {
	d := e.cmac(make([]byte, 16))
	for _, a := range ad {
		d = xor(dbl(d), e.cmac(a))
	}

	var t []byte
	if len(plaintext) >= 16 {
		// xorend
		t = make([]byte, len(plaintext))
		copy(t, plaintext)
		xorBytes(t[len(t)-16:], d)
	} else {
		t = xor(dbl(d), pad(plaintext))
	}
	return e.cmac(t)
}

// cmac computes AES-CMAC (RFC 4493) under the MAC key.
func (e *SIVEngine) cmac(data []byte) []byte {
	k1, k2 := generateSubkeys(e.mac)

	n := (len(data) + 15) / 16
	if n == 0 {
		n = 1
	}

	var last []byte
	if len(data) == 0 || len(data)%16 != 0 {
		last = pad(data[16*(n-1):])
		xorBytes(last, k2)
	} else {
		last = make([]byte, 16)
		copy(last, data[16*(n-1):])
		xorBytes(last, k1)
	}

	mac := make([]byte, 16)
	for i := 0; i < n-1; i++ {
		xorBytes(mac, data[i*16:(i+1)*16])
		e.mac.Encrypt(mac, mac)
	}
	xorBytes(mac, last)
	e.mac.Encrypt(mac, mac)
	return mac
}

// xorCTR runs AES-CTR with the SIV as counter, bits 31 and 63 cleared
// (RFC 5297 section 2.5).
func (e *SIVEngine) xorCTR(iv, src, dst []byte) {
	ctr := make([]byte, 16)
	copy(ctr, iv)
	ctr[8] &= 0x7f
	ctr[12] &= 0x7f

	cipher.NewCTR(e.ctr, ctr).XORKeyStream(dst, src)
}

// dbl multiplies by x in GF(2^128).
func dbl(block []byte) []byte {
	hi := binary.BigEndian.Uint64(block[:8])
	lo := binary.BigEndian.Uint64(block[8:])

	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[:8], hi<<1|lo>>63)
	binary.BigEndian.PutUint64(out[8:], lo<<1)
	if hi>>63 != 0 {
		out[15] ^= 0x87
	}
	return out
}

// pad applies 10* padding to a partial block.
func pad(data []byte) []byte {
	out := make([]byte, 16)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

func xor(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := 0; i < len(a) && i < len(b); i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// xorBytes XORs b into a in place
func xorBytes(a, b []byte) {
	for i := 0; i < len(a) && i < len(b); i++ {
		a[i] ^= b[i]
	}
}

// generateSubkeys derives the CMAC subkeys K1 and K2.
func generateSubkeys(block cipher.Block) ([]byte, []byte) {
	l := make([]byte, 16)
	block.Encrypt(l, l)

	k1 := dbl(l)
	return k1, dbl(k1)
}
