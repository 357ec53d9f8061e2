package encfs

import (
	"strings"
)

// PathMax is the platform path limit including the terminating NUL, so a
// resolved path may be at most PathMax-1 bytes long.
const PathMax = 4096

// Resolver maps mount-relative paths onto the backing directory.
//
// No canonicalization happens: ".." components are passed through as-is.
// The kernel never hands them to a FUSE filesystem, so callers outside the
// mount are responsible for supplying clean paths.
type Resolver struct {
	root string
}

// NewResolver creates a resolver for the given backing root.
func NewResolver(root string) (*Resolver, error) {
	if root == "" {
		return nil, NewValidationError("root", root, "root directory cannot be empty")
	}
	return &Resolver{root: strings.TrimRight(root, "/")}, nil
}

// Root returns the backing root as given, without a trailing slash. The
// filesystem root "/" is returned as "/".
func (r *Resolver) Root() string {
	if r.root == "" {
		return "/"
	}
	return r.root
}

// Resolve returns the backing path for virtual. A missing leading slash is
// added. Paths that would exceed PathMax fail with a *PathError.
func (r *Resolver) Resolve(virtual string) (string, error) {
	if !strings.HasPrefix(virtual, "/") {
		virtual = "/" + virtual
	}
	if virtual == "/" {
		return r.Root(), nil
	}

	real := r.root + virtual
	if len(real) >= PathMax {
		return "", &PathError{Path: virtual, Length: len(real)}
	}
	return real, nil
}
