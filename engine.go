package encfs

import (
	"bytes"
	"errors"
	"io"
	"os"
	"syscall"

	"github.com/absfs/absfs"
	"github.com/sirupsen/logrus"
)

// Engine is the encryption-aware content path of a mount. It owns the mount
// context: root, passphrase, marker store and transform are fixed at New and
// shared read-only by every request.
type Engine struct {
	base       absfs.FileSystem
	resolver   *Resolver
	markers    MarkerStore
	transform  Transform
	passphrase []byte
	strict     bool
	locks      *pathLocks
	log        logrus.FieldLogger
	metrics    *Metrics
}

// New creates an engine from config. Unset optional fields get defaults:
// the host filesystem, xattr markers and an AES-SIV/Argon2id transform.
func New(config *Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	resolver, err := NewResolver(config.Root)
	if err != nil {
		return nil, err
	}

	base := config.Base
	if base == nil {
		base = NewOSFS()
	}

	markers := config.Markers
	if markers == nil {
		markers = NewXattrMarkers(config.StrictMarkers)
	}

	transform := config.Transform
	if transform == nil {
		t, err := NewCipherTransform(config.Cipher, config.KDF)
		if err != nil {
			return nil, err
		}
		transform = t
	}

	log := config.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	return &Engine{
		base:       base,
		resolver:   resolver,
		markers:    markers,
		transform:  transform,
		passphrase: append([]byte(nil), config.Passphrase...),
		strict:     config.StrictMarkers,
		locks:      newPathLocks(),
		log:        log,
		metrics:    config.Metrics,
	}, nil
}

// Root returns the backing directory.
func (e *Engine) Root() string {
	return e.resolver.Root()
}

// Resolve maps a mount-relative path onto the backing tree.
func (e *Engine) Resolve(virtual string) (string, error) {
	return e.resolver.Resolve(virtual)
}

// IsEncrypted reports whether the backing file holds ciphertext.
func (e *Engine) IsEncrypted(real string) (bool, error) {
	encrypted, err := e.markers.IsEncrypted(real)
	if err != nil {
		if e.strict {
			return false, err
		}
		e.log.WithError(err).WithField("path", real).Debug("marker unreadable, treating file as plaintext")
		return false, nil
	}
	return encrypted, nil
}

// ReadAt fills p from the plaintext of real starting at off. Reads at or
// past the end return a short count, not io.EOF.
func (e *Engine) ReadAt(real string, p []byte, off int64) (int, error) {
	if err := ValidateOffset(off, "offset"); err != nil {
		return 0, err
	}

	unlock := e.locks.Lock(real)
	defer unlock()

	encrypted, err := e.IsEncrypted(real)
	if err != nil {
		return 0, err
	}
	e.metrics.read(encrypted)

	if !encrypted {
		return e.readPlain(real, p, off)
	}

	plaintext, _, err := e.load(real)
	if err != nil {
		return 0, err
	}
	if off >= int64(len(plaintext)) {
		return 0, nil
	}
	return copy(p, plaintext[off:]), nil
}

// WriteAt writes p at off into the plaintext of real. For encrypted files
// the backing content is only replaced once the new ciphertext is complete,
// and a write ending past MaxEncryptedSize fails with EFBIG.
func (e *Engine) WriteAt(real string, p []byte, off int64) (int, error) {
	if err := ValidateOffset(off, "offset"); err != nil {
		return 0, err
	}

	unlock := e.locks.Lock(real)
	defer unlock()

	encrypted, err := e.IsEncrypted(real)
	if err != nil {
		return 0, err
	}
	e.metrics.write(encrypted)

	if !encrypted {
		return e.writePlain(real, p, off)
	}

	if err := extentCheck("write", real, off, len(p)); err != nil {
		return 0, err
	}

	plaintext, prior, err := e.load(real)
	if err != nil {
		return 0, err
	}
	if err := e.store(real, overlay(plaintext, p, off), prior); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Create makes a new, empty, encrypted file. It fails if real exists. A file
// whose marker could not be set is removed again.
func (e *Engine) Create(real string, perm os.FileMode) error {
	unlock := e.locks.Lock(real)
	defer unlock()

	f, err := e.base.OpenFile(real, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return NewIOError("create", real, err)
	}
	if err := f.Close(); err != nil {
		e.base.Remove(real)
		return NewIOError("create", real, err)
	}

	if err := e.markers.MarkEncrypted(real); err != nil {
		if rmErr := e.base.Remove(real); rmErr != nil {
			e.log.WithError(rmErr).WithField("path", real).Warn("failed to remove unmarked file")
		}
		return err
	}
	return nil
}

// Truncate sets the plaintext length of real, cutting or zero-extending.
// Encrypted files cannot be extended past MaxEncryptedSize.
func (e *Engine) Truncate(real string, size int64) error {
	if err := ValidateSize(size, "size"); err != nil {
		return err
	}

	unlock := e.locks.Lock(real)
	defer unlock()

	encrypted, err := e.IsEncrypted(real)
	if err != nil {
		return err
	}

	if !encrypted {
		if err := e.base.Truncate(real, size); err != nil {
			return NewIOError("truncate", real, err)
		}
		return nil
	}

	if size > MaxEncryptedSize {
		return NewIOErrorAt("truncate", real, size, syscall.EFBIG)
	}

	plaintext, prior, err := e.load(real)
	if err != nil {
		return err
	}
	return e.store(real, resize(plaintext, size), prior)
}

// Size returns the plaintext length of real.
func (e *Engine) Size(real string) (int64, error) {
	unlock := e.locks.Lock(real)
	defer unlock()

	info, err := e.base.Stat(real)
	if err != nil {
		return 0, NewIOError("stat", real, err)
	}

	encrypted, err := e.IsEncrypted(real)
	if err != nil {
		return 0, err
	}
	if !encrypted || info.IsDir() {
		return info.Size(), nil
	}
	if info.Size() == 0 {
		return 0, nil
	}

	if sizer, ok := e.transform.(Sizer); ok {
		f, err := e.base.Open(real)
		if err != nil {
			return 0, NewIOError("open", real, err)
		}
		defer f.Close()

		size, err := sizer.PlaintextSize(f, info.Size())
		if err != nil {
			e.cryptoFailed(real, Decrypt, err)
			return 0, NewEncryptionError("decrypt", real, err)
		}
		return size, nil
	}

	plaintext, _, err := e.load(real)
	if err != nil {
		return 0, err
	}
	return int64(len(plaintext)), nil
}

func (e *Engine) readPlain(real string, p []byte, off int64) (int, error) {
	f, err := e.base.Open(real)
	if err != nil {
		return 0, NewIOError("open", real, err)
	}
	defer f.Close()

	n, err := f.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, NewIOErrorAt("read", real, off, err)
	}
	return n, nil
}

func (e *Engine) writePlain(real string, p []byte, off int64) (int, error) {
	f, err := e.base.OpenFile(real, os.O_WRONLY, 0)
	if err != nil {
		return 0, NewIOError("open", real, err)
	}

	n, err := f.WriteAt(p, off)
	if err != nil {
		f.Close()
		return n, NewIOErrorAt("write", real, off, err)
	}
	if err := f.Close(); err != nil {
		return n, NewIOError("close", real, err)
	}
	return n, nil
}

func (e *Engine) cryptoFailed(real string, dir Direction, err error) {
	e.metrics.cryptoFailure(dir)
	e.log.WithError(err).WithFields(logrus.Fields{
		"path":      real,
		"direction": dir.String(),
	}).Warn("crypto transform failed")
}

// decrypt runs the transform over the raw content of real.
func (e *Engine) decrypt(real string, in io.Reader) ([]byte, error) {
	var out bytes.Buffer
	if err := e.transform.Transform(Decrypt, e.passphrase, in, &out); err != nil {
		e.cryptoFailed(real, Decrypt, err)
		return nil, NewEncryptionError("decrypt", real, err)
	}
	e.metrics.bytesTransformed(Decrypt, out.Len())
	return out.Bytes(), nil
}
