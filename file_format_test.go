package encfs

import (
	"bytes"
	"errors"
	"testing"
)

func TestFileHeader_Encoding(t *testing.T) {
	salt := bytes.Repeat([]byte{0xaa}, 32)
	nonce := bytes.Repeat([]byte{0xbb}, 12)

	h := NewFileHeader(CipherAES256GCM, salt, nonce)
	if h.Size() != MinHeaderSize+32+12 {
		t.Errorf("Size() = %d, want %d", h.Size(), MinHeaderSize+32+12)
	}

	b, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	if len(b) != h.Size() {
		t.Errorf("encoded length = %d, want %d", len(b), h.Size())
	}
	if string(b[:4]) != "RCNE" {
		t.Errorf("magic bytes = %q, want little endian %q", b[:4], "RCNE")
	}
	if b[4] != CurrentVersion || b[5] != byte(CipherAES256GCM) {
		t.Errorf("version/cipher bytes = %d/%d", b[4], b[5])
	}

	var buf bytes.Buffer
	n, err := h.WriteTo(&buf)
	if err != nil || n != int64(len(b)) || !bytes.Equal(buf.Bytes(), b) {
		t.Errorf("WriteTo = %d, %v; differs from MarshalBinary", n, err)
	}

	var decoded FileHeader
	read, err := decoded.ReadFrom(bytes.NewReader(append(b, "trailing ciphertext"...)))
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if read != int64(len(b)) {
		t.Errorf("ReadFrom consumed %d bytes, want %d", read, len(b))
	}
	if decoded.Cipher != CipherAES256GCM || !bytes.Equal(decoded.Salt, salt) || !bytes.Equal(decoded.Nonce, nonce) {
		t.Errorf("decoded header = %+v", decoded)
	}
	if err := decoded.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestFileHeader_SIVHasNoNonce(t *testing.T) {
	h := NewFileHeader(CipherAESSIV, []byte("salt"), nil)
	if err := h.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	b, _ := h.MarshalBinary()
	var decoded FileHeader
	if _, err := decoded.ReadFrom(bytes.NewReader(b)); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Nonce) != 0 {
		t.Errorf("nonce = %x, want empty", decoded.Nonce)
	}
}

func TestFileHeader_ReadFromErrors(t *testing.T) {
	valid, _ := NewFileHeader(CipherAESSIV, []byte("salt"), nil).MarshalBinary()

	future := append([]byte(nil), valid...)
	future[4] = CurrentVersion + 1

	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"wrong magic", []byte("PLAINTEXT!"), ErrInvalidHeader},
		{"future version", future, ErrUnsupportedVersion},
		{"empty", nil, nil},
		{"cut in salt", valid[:10], nil},
		{"cut before nonce size", valid[:len(valid)-1], nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h FileHeader
			_, err := h.ReadFrom(bytes.NewReader(tt.input))
			if err == nil {
				t.Fatal("ReadFrom should fail")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("ReadFrom = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFileHeader_Validate(t *testing.T) {
	tests := []struct {
		name    string
		header  *FileHeader
		wantErr bool
	}{
		{"gcm", NewFileHeader(CipherAES256GCM, []byte("s"), make([]byte, 12)), false},
		{"chacha", NewFileHeader(CipherChaCha20Poly1305, []byte("s"), make([]byte, 12)), false},
		{"siv", NewFileHeader(CipherAESSIV, []byte("s"), nil), false},
		{"empty salt", NewFileHeader(CipherAESSIV, nil, nil), true},
		{"gcm without nonce", NewFileHeader(CipherAES256GCM, []byte("s"), nil), true},
		{"siv with nonce", NewFileHeader(CipherAESSIV, []byte("s"), make([]byte, 12)), true},
		{"unknown cipher", NewFileHeader(CipherSuite(42), []byte("s"), nil), true},
		{"bad magic", &FileHeader{Magic: 1, Salt: []byte("s")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.header.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
