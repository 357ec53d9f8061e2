package encfs

import (
	"bytes"
	"errors"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	// MarkerName is the extended attribute flagging encrypted content
	MarkerName = "user.encfs.encrypted"

	markerValue = "true"
)

// MarkerStore records which backing files hold ciphertext.
type MarkerStore interface {
	// IsEncrypted reports whether realPath carries the marker. A missing
	// marker means plaintext.
	IsEncrypted(realPath string) (bool, error)

	// MarkEncrypted sets the marker. It is only called when a file is
	// created through the overlay.
	MarkEncrypted(realPath string) error
}

// attrCopier is implemented by stores that keep markers in extended
// attributes, which must move to the file that replaces a rewritten one.
type attrCopier interface {
	copyAttrs(from, to string) error
}

// markerForgetter is implemented by stores that key markers by path and
// must drop the entry of a staged file once it is gone.
type markerForgetter interface {
	forget(realPath string)
}

// markerSet reports whether an attribute value means "encrypted". Older
// mounts stored the value with its C string terminator.
func markerSet(value []byte) bool {
	return string(bytes.TrimRight(value, "\x00")) == markerValue
}

// XattrMarkers keeps the marker in a user extended attribute of the backing
// file, so it travels with the file independently of its content.
type XattrMarkers struct {
	strict bool
}

// NewXattrMarkers creates an xattr marker store. With strict unset, any
// failure to read the attribute is treated as "not encrypted".
func NewXattrMarkers(strict bool) *XattrMarkers {
	return &XattrMarkers{strict: strict}
}

// IsEncrypted reads the marker attribute without following symlinks.
func (x *XattrMarkers) IsEncrypted(realPath string) (bool, error) {
	buf := make([]byte, len(markerValue)+1)
	n, err := unix.Lgetxattr(realPath, MarkerName, buf)
	if err != nil {
		switch {
		case !x.strict:
			return false, nil
		case errors.Is(err, unix.ENODATA), errors.Is(err, unix.ENOTSUP), errors.Is(err, unix.ERANGE):
			// absent, unsupported, or a value too long to be ours
			return false, nil
		default:
			return false, NewIOError("getxattr", realPath, err)
		}
	}
	return markerSet(buf[:n]), nil
}

// MarkEncrypted sets the marker attribute to "true".
func (x *XattrMarkers) MarkEncrypted(realPath string) error {
	if err := unix.Lsetxattr(realPath, MarkerName, []byte(markerValue), 0); err != nil {
		return NewIOError("setxattr", realPath, err)
	}
	return nil
}

// copyAttrs copies every user extended attribute of from onto to.
func (x *XattrMarkers) copyAttrs(from, to string) error {
	names, err := listXattrs(from)
	if err != nil {
		return NewIOError("listxattr", from, err)
	}

	for _, name := range names {
		if !strings.HasPrefix(name, "user.") {
			continue
		}
		value, err := getXattr(from, name)
		if err != nil {
			return NewIOError("getxattr", from, err)
		}
		if err := unix.Lsetxattr(to, name, value, 0); err != nil {
			return NewIOError("setxattr", to, err)
		}
	}
	return nil
}

func listXattrs(path string) ([]string, error) {
	size, err := unix.Llistxattr(path, nil)
	if errors.Is(err, unix.ENOTSUP) {
		return nil, nil
	}
	if err != nil || size == 0 {
		return nil, err
	}

	buf := make([]byte, size)
	n, err := unix.Llistxattr(path, buf)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, name := range bytes.Split(buf[:n], []byte{0}) {
		if len(name) > 0 {
			names = append(names, string(name))
		}
	}
	return names, nil
}

func getXattr(path, name string) ([]byte, error) {
	size, err := unix.Lgetxattr(path, name, nil)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := unix.Lgetxattr(path, name, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// MemoryMarkers keeps markers in memory. It backs overlays whose Base has no
// extended attributes, such as an in-memory filesystem.
type MemoryMarkers struct {
	mu      sync.RWMutex
	markers map[string]bool
}

// NewMemoryMarkers creates an empty in-memory marker store.
func NewMemoryMarkers() *MemoryMarkers {
	return &MemoryMarkers{markers: make(map[string]bool)}
}

func (m *MemoryMarkers) IsEncrypted(realPath string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.markers[realPath], nil
}

func (m *MemoryMarkers) MarkEncrypted(realPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[realPath] = true
	return nil
}

func (m *MemoryMarkers) forget(realPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, realPath)
}
