package encfs

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
)

// MaxEncryptedSize is the largest plaintext an encrypted file may grow to.
// Encrypted content is held in memory as a whole while it is rewritten.
const MaxEncryptedSize int64 = 1<<31 - 1

// stagingPrefix starts the name of the sibling file new ciphertext is
// written to before it replaces the backing file.
const stagingPrefix = ".encfs-"

// load reads and decrypts the whole backing file. It returns the plaintext,
// which belongs to the caller, and the raw ciphertext it was decrypted from.
func (e *Engine) load(real string) (plaintext, raw []byte, err error) {
	f, err := e.base.Open(real)
	if err != nil {
		return nil, nil, NewIOError("open", real, err)
	}
	defer f.Close()

	raw, err = io.ReadAll(f)
	if err != nil {
		return nil, nil, NewIOError("read", real, err)
	}

	plaintext, err = e.decrypt(real, bytes.NewReader(raw))
	if err != nil {
		return nil, nil, err
	}
	return plaintext, raw, nil
}

// store encrypts plaintext and atomically replaces real with the result.
// prior is the ciphertext plaintext was decrypted from. The backing file is
// not touched unless encryption and staging both succeeded.
func (e *Engine) store(real string, plaintext, prior []byte) error {
	var staged bytes.Buffer
	if err := e.seal(plaintext, prior, &staged); err != nil {
		e.cryptoFailed(real, Encrypt, err)
		return NewEncryptionError("encrypt", real, err)
	}
	e.metrics.bytesTransformed(Encrypt, len(plaintext))

	return e.replace(real, staged.Bytes())
}

func (e *Engine) seal(plaintext, prior []byte, out io.Writer) error {
	if r, ok := e.transform.(Resealer); ok && len(prior) > 0 {
		return r.Reseal(e.passphrase, prior, plaintext, out)
	}
	return e.transform.Transform(Encrypt, e.passphrase, bytes.NewReader(plaintext), out)
}

// extentCheck rejects a rewrite that would grow an encrypted file past
// MaxEncryptedSize.
func extentCheck(op, real string, off int64, n int) error {
	if off > MaxEncryptedSize-int64(n) {
		return NewIOErrorAt(op, real, off, syscall.EFBIG)
	}
	return nil
}

// replace writes content to a fresh sibling of real, gives it the mode,
// owner and extended attributes of real, and renames it over real. On
// failure the sibling is removed and real keeps its old content.
//
// The rename gives real a new inode: hard links to the old one keep the
// old content.
func (e *Engine) replace(real string, content []byte) error {
	info, err := e.base.Stat(real)
	if err != nil {
		return NewIOError("stat", real, err)
	}

	tmp := filepath.Join(filepath.Dir(real), stagingPrefix+uuid.NewString())
	f, err := e.base.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return NewIOError("create", tmp, err)
	}

	if err = writeStaged(f, content); err != nil {
		err = NewIOError("write", tmp, err)
	}
	if err == nil {
		err = e.adopt(real, tmp, info)
	}
	if err == nil {
		if rerr := e.base.Rename(tmp, real); rerr != nil {
			err = NewIOError("rename", real, rerr)
		}
	}
	if err != nil {
		e.discard(tmp)
		return err
	}

	if m, ok := e.markers.(markerForgetter); ok {
		m.forget(tmp)
	}
	return nil
}

type stagedFile interface {
	io.WriteCloser
	Sync() error
}

// writeStaged writes content to f, syncs and closes it.
func writeStaged(f stagedFile, content []byte) error {
	n, err := f.Write(content)
	if err == nil && n < len(content) {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// adopt makes tmp a stand-in for real: same permission bits, owner and
// extended attributes, plus the encryption marker.
func (e *Engine) adopt(real, tmp string, info os.FileInfo) error {
	mode := info.Mode() & (os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky)
	if err := e.base.Chmod(tmp, mode); err != nil {
		return NewIOError("chmod", tmp, err)
	}

	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		if err := e.chownLike(tmp, int(st.Uid), int(st.Gid)); err != nil {
			return err
		}
	}

	if c, ok := e.markers.(attrCopier); ok {
		if err := c.copyAttrs(real, tmp); err != nil {
			return err
		}
	}
	return e.markers.MarkEncrypted(tmp)
}

// chownLike gives tmp the owner uid:gid unless it already has it.
func (e *Engine) chownLike(tmp string, uid, gid int) error {
	tinfo, err := e.base.Stat(tmp)
	if err != nil {
		return NewIOError("stat", tmp, err)
	}
	if st, ok := tinfo.Sys().(*syscall.Stat_t); ok && int(st.Uid) == uid && int(st.Gid) == gid {
		return nil
	}
	if err := e.base.Chown(tmp, uid, gid); err != nil {
		return NewIOError("chown", tmp, err)
	}
	return nil
}

func (e *Engine) discard(tmp string) {
	if err := e.base.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.log.WithError(err).WithField("path", tmp).Warn("failed to remove staged file")
	}
	if m, ok := e.markers.(markerForgetter); ok {
		m.forget(tmp)
	}
}

// overlay returns buf with p written at off. The result is a new slice when
// buf has to grow; any gap between the old end and off is zero. Callers
// bound off+len(p) with extentCheck.
func overlay(buf, p []byte, off int64) []byte {
	if len(p) == 0 {
		return buf
	}
	end := off + int64(len(p))
	if end > int64(len(buf)) {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[off:], p)
	return buf
}

// resize cuts buf to size or extends it with zeros.
func resize(buf []byte, size int64) []byte {
	if size <= int64(len(buf)) {
		return buf[:size]
	}
	grown := make([]byte, size)
	copy(grown, buf)
	return grown
}
