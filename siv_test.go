package encfs

import (
	"bytes"
	"crypto/aes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"testing"
)

func mustHex(t testing.TB, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

// newSIV128 builds an engine with AES-128 halves so the RFC vectors apply.
func newSIV128(t *testing.T, key []byte) *SIVEngine {
	t.Helper()
	mac, err := aes.NewCipher(key[:16])
	if err != nil {
		t.Fatal(err)
	}
	ctr, err := aes.NewCipher(key[16:])
	if err != nil {
		t.Fatal(err)
	}
	return &SIVEngine{mac: mac, ctr: ctr}
}

func TestSIVEngine_RFC5297Vector(t *testing.T) {
	key := mustHex(t, "fffefdfcfbfaf9f8f7f6f5f4f3f2f1f0f0f1f2f3f4f5f6f7f8f9fafbfcfdfeff")
	ad := mustHex(t, "101112131415161718191a1b1c1d1e1f2021222324252627")
	plaintext := mustHex(t, "112233445566778899aabbccddee")
	want := mustHex(t, "85632d07c6e8f37f950acd320a2ecc9340c02b9690c4dc04daef7f6afe5c")

	siv := newSIV128(t, key)

	got := siv.Seal(plaintext, ad)
	if !bytes.Equal(got, want) {
		t.Fatalf("Seal() = %x, want %x", got, want)
	}

	opened, err := siv.Open(got, ad)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %x, want %x", opened, plaintext)
	}
}

func TestSIVEngine_CMAC(t *testing.T) {
	// RFC 4493 section 4
	mac, err := aes.NewCipher(mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c"))
	if err != nil {
		t.Fatal(err)
	}
	siv := &SIVEngine{mac: mac}

	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"empty", "", "bb1d6929e95937287fa37d129b756746"},
		{"one block", "6bc1bee22e409f96e93d7e117393172a", "070a16b46b4d4144f79bdd9dd04a287c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := siv.cmac(mustHex(t, tt.msg))
			if hex.EncodeToString(got) != tt.want {
				t.Errorf("cmac() = %x, want %s", got, tt.want)
			}
		})
	}
}

func TestDbl(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"shift", "00000000000000000000000000000001", "00000000000000000000000000000002"},
		{"carry across words", "00000000000000008000000000000000", "00000000000000010000000000000000"},
		{"reduction", "80000000000000000000000000000000", "00000000000000000000000000000087"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dbl(mustHex(t, tt.in))
			if hex.EncodeToString(got) != tt.want {
				t.Errorf("dbl(%s) = %x, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestSIVEngine_SealOpen(t *testing.T) {
	key := make([]byte, 64)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	siv, err := NewSIVEngine(key)
	if err != nil {
		t.Fatalf("Failed to create SIV engine: %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
		ad        [][]byte
	}{
		{"simple text", []byte("Hello, World!"), nil},
		{"empty plaintext", []byte(""), nil},
		{"with AD", []byte("secret message"), [][]byte{[]byte("context1"), []byte("context2")}},
		{"long plaintext", bytes.Repeat([]byte("A"), 1000), nil},
		{"exact block", bytes.Repeat([]byte("B"), 16), nil},
		{"short plaintext", []byte("x"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext := siv.Seal(tt.plaintext, tt.ad...)
			if len(ciphertext) != len(tt.plaintext)+sivTagSize {
				t.Errorf("ciphertext length = %d, want %d", len(ciphertext), len(tt.plaintext)+sivTagSize)
			}

			decrypted, err := siv.Open(ciphertext, tt.ad...)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if !bytes.Equal(decrypted, tt.plaintext) {
				t.Errorf("Decrypted plaintext doesn't match:\ngot:  %q\nwant: %q", decrypted, tt.plaintext)
			}
		})
	}
}

func TestSIVEngine_Deterministic(t *testing.T) {
	key := make([]byte, 64)
	rand.Read(key)

	siv, err := NewSIVEngine(key)
	if err != nil {
		t.Fatalf("Failed to create SIV engine: %v", err)
	}

	plaintext := []byte("deterministic test")
	header := []byte("header")

	first, err := siv.Encrypt(nil, plaintext, header)
	if err != nil {
		t.Fatalf("First encryption failed: %v", err)
	}
	second, err := siv.Encrypt(nil, plaintext, header)
	if err != nil {
		t.Fatalf("Second encryption failed: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("SIV is not deterministic:\nfirst:  %x\nsecond: %x", first, second)
	}
}

func TestSIVEngine_ADMismatch(t *testing.T) {
	key := make([]byte, 64)
	rand.Read(key)

	siv, _ := NewSIVEngine(key)

	ciphertext, err := siv.Encrypt(nil, []byte("test message"), []byte("context1"))
	if err != nil {
		t.Fatalf("Encryption failed: %v", err)
	}

	if _, err := siv.Decrypt(nil, ciphertext, []byte("context2")); err != ErrAuthFailed {
		t.Errorf("Expected ErrAuthFailed, got: %v", err)
	}

	if _, err := siv.Decrypt(nil, ciphertext, []byte("context1")); err != nil {
		t.Errorf("Decrypt with correct AD failed: %v", err)
	}
}

func TestSIVEngine_Tampering(t *testing.T) {
	key := make([]byte, 64)
	rand.Read(key)

	siv, _ := NewSIVEngine(key)
	ciphertext := siv.Seal([]byte("important message"))

	for _, i := range []int{0, sivTagSize, len(ciphertext) - 1} {
		tampered := append([]byte(nil), ciphertext...)
		tampered[i] ^= 0x01

		if _, err := siv.Open(tampered); err != ErrAuthFailed {
			t.Errorf("flipping byte %d: expected ErrAuthFailed, got: %v", i, err)
		}
	}
}

func TestSIVEngine_RejectsNonce(t *testing.T) {
	key := make([]byte, 64)
	siv, _ := NewSIVEngine(key)

	if _, err := siv.Encrypt([]byte{1}, []byte("x"), nil); err == nil {
		t.Error("Encrypt should reject a nonce")
	}
	if _, err := siv.Decrypt([]byte{1}, make([]byte, 32), nil); err == nil {
		t.Error("Decrypt should reject a nonce")
	}
}

func TestSIVEngine_InvalidKey(t *testing.T) {
	for _, size := range []int{0, 32, 96} {
		t.Run(fmt.Sprintf("%d bytes", size), func(t *testing.T) {
			if _, err := NewSIVEngine(make([]byte, size)); err == nil {
				t.Error("NewSIVEngine should have failed with invalid key size")
			}
		})
	}
}

func TestSIVEngine_ShortCiphertext(t *testing.T) {
	key := make([]byte, 64)
	siv, _ := NewSIVEngine(key)

	if _, err := siv.Open([]byte("short")); err != ErrTruncated {
		t.Errorf("Expected ErrTruncated, got: %v", err)
	}
}

func BenchmarkSIVEngine_Seal(b *testing.B) {
	key := make([]byte, 64)
	rand.Read(key)

	siv, _ := NewSIVEngine(key)

	for _, size := range []int{16, 256, 4096, 64 * 1024} {
		b.Run(formatSize(size), func(b *testing.B) {
			plaintext := make([]byte, size)
			rand.Read(plaintext)

			b.ResetTimer()
			b.SetBytes(int64(size))

			for i := 0; i < b.N; i++ {
				siv.Seal(plaintext)
			}
		})
	}
}
