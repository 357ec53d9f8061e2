package fusefs

import (
	"context"
	"syscall"

	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Handle is an open file. It keeps no descriptor: each read and write goes
// through the engine on the node's current path.
type Handle struct {
	node *Node
	id   uuid.UUID
}

var _ = (fs.FileReader)((*Handle)(nil))
var _ = (fs.FileWriter)((*Handle)(nil))
var _ = (fs.FileReleaser)((*Handle)(nil))
var _ = (fs.FileFlusher)((*Handle)(nil))
var _ = (fs.FileFsyncer)((*Handle)(nil))
var _ = (fs.FileGetattrer)((*Handle)(nil))

// ID identifies the handle in log output.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

func (h *Handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, errno := h.node.d.Read(h.node.path(), dest, off)
	if errno != 0 {
		return nil, errno
	}
	return fuse.ReadResultData(dest[:n]), fs.OK
}

func (h *Handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, errno := h.node.d.Write(h.node.path(), data, off)
	return uint32(n), errno
}

func (h *Handle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	return h.node.d.Getattr(h.node.path(), &out.Attr)
}

// Flush is a no-op: writes reach the backing file before Write returns.
func (h *Handle) Flush(ctx context.Context) syscall.Errno {
	return fs.OK
}

func (h *Handle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return h.node.d.Fsync(h.node.path())
}

func (h *Handle) Release(ctx context.Context) syscall.Errno {
	h.node.d.log.WithField("handle", h.id.String()).Debug("handle released")
	return h.node.d.Release(h.node.path())
}
