package encfs

import (
	"bytes"
	"errors"
	"io"
	"math"
	"syscall"
	"testing"
)

func TestOverlay(t *testing.T) {
	tests := []struct {
		name string
		buf  string
		p    string
		off  int64
		want string
	}{
		{"inside", "hello", "XY", 3, "helXY"},
		{"extends", "hello", "XYZ", 4, "hellXYZ"},
		{"gap", "hi", "!", 4, "hi\x00\x00!"},
		{"empty buffer", "", "abc", 0, "abc"},
		{"empty write past end", "ab", "", 5, "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := overlay([]byte(tt.buf), []byte(tt.p), tt.off)
			if string(got) != tt.want {
				t.Errorf("overlay = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResize(t *testing.T) {
	if got := resize([]byte("hello"), 2); string(got) != "he" {
		t.Errorf("shrink = %q", got)
	}
	if got := resize([]byte("hi"), 4); !bytes.Equal(got, []byte("hi\x00\x00")) {
		t.Errorf("grow = %q", got)
	}
	if got := resize(nil, 0); len(got) != 0 {
		t.Errorf("empty = %q", got)
	}
}

// fakeFile records what writeStaged does to it.
type fakeFile struct {
	data   []byte
	short  bool
	synced bool
	closed bool
	failOn string
}

func (f *fakeFile) Write(p []byte) (int, error) {
	if f.failOn == "write" {
		return 0, errors.New("write failed")
	}
	if f.short {
		p = p[:len(p)/2]
	}
	f.data = append(f.data, p...)
	return len(p), nil
}

func (f *fakeFile) Sync() error {
	if f.failOn == "sync" {
		return errors.New("sync failed")
	}
	f.synced = true
	return nil
}

func (f *fakeFile) Close() error {
	f.closed = true
	if f.failOn == "close" {
		return errors.New("close failed")
	}
	return nil
}

func TestWriteStaged(t *testing.T) {
	f := &fakeFile{}
	if err := writeStaged(f, []byte("new")); err != nil {
		t.Fatal(err)
	}
	if string(f.data) != "new" || !f.synced || !f.closed {
		t.Errorf("file = %+v, want written, synced and closed", f)
	}

	for _, step := range []string{"write", "sync", "close"} {
		f := &fakeFile{failOn: step}
		if err := writeStaged(f, []byte("x")); err == nil {
			t.Errorf("writeStaged should fail when %s fails", step)
		}
		if !f.closed {
			t.Errorf("file left open when %s fails", step)
		}
	}

	f = &fakeFile{short: true}
	if err := writeStaged(f, []byte("abcd")); !errors.Is(err, io.ErrShortWrite) {
		t.Errorf("short write = %v, want io.ErrShortWrite", err)
	}
}

func TestExtentCheck(t *testing.T) {
	tests := []struct {
		off  int64
		n    int
		fits bool
	}{
		{0, 0, true},
		{MaxEncryptedSize, 0, true},
		{MaxEncryptedSize - 1, 1, true},
		{MaxEncryptedSize, 1, false},
		{math.MaxInt64, 1, false},
		{1, int(MaxEncryptedSize), false},
	}

	for _, tt := range tests {
		err := extentCheck("write", "/f", tt.off, tt.n)
		if fits := err == nil; fits != tt.fits {
			t.Errorf("extentCheck(%d, %d) = %v, want fits=%v", tt.off, tt.n, err, tt.fits)
		}
		if err != nil && !errors.Is(err, syscall.EFBIG) {
			t.Errorf("extentCheck(%d, %d) = %v, want EFBIG", tt.off, tt.n, err)
		}
	}
}
