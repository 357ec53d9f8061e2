package fusefs

import (
	"context"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Node is a file or directory in the mount. It holds no path of its own: the
// virtual path is computed from the inode tree on every call, so renames are
// picked up without bookkeeping.
type Node struct {
	fs.Inode
	d *Dispatcher
}

// NewRoot returns the root node of a mount served by d.
func NewRoot(d *Dispatcher) *Node {
	return &Node{d: d}
}

var _ = (fs.NodeGetattrer)((*Node)(nil))
var _ = (fs.NodeSetattrer)((*Node)(nil))
var _ = (fs.NodeAccesser)((*Node)(nil))
var _ = (fs.NodeReadlinker)((*Node)(nil))
var _ = (fs.NodeLookuper)((*Node)(nil))
var _ = (fs.NodeReaddirer)((*Node)(nil))
var _ = (fs.NodeMknoder)((*Node)(nil))
var _ = (fs.NodeMkdirer)((*Node)(nil))
var _ = (fs.NodeUnlinker)((*Node)(nil))
var _ = (fs.NodeRmdirer)((*Node)(nil))
var _ = (fs.NodeSymlinker)((*Node)(nil))
var _ = (fs.NodeRenamer)((*Node)(nil))
var _ = (fs.NodeLinker)((*Node)(nil))
var _ = (fs.NodeOpener)((*Node)(nil))
var _ = (fs.NodeCreater)((*Node)(nil))
var _ = (fs.NodeStatfser)((*Node)(nil))
var _ = (fs.NodeSetxattrer)((*Node)(nil))
var _ = (fs.NodeGetxattrer)((*Node)(nil))
var _ = (fs.NodeListxattrer)((*Node)(nil))
var _ = (fs.NodeRemovexattrer)((*Node)(nil))

// path returns the virtual path of n, "/" for the root.
func (n *Node) path() string {
	return "/" + n.Path(n.Root())
}

func (n *Node) childPath(name string) string {
	return filepath.Join(n.path(), name)
}

// newChild stats the freshly created or looked up entry at name and links
// a node for it into the tree.
func (n *Node) newChild(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if errno := n.d.Getattr(n.childPath(name), &out.Attr); errno != 0 {
		return nil, errno
	}

	stable := fs.StableAttr{
		Mode: out.Attr.Mode & syscall.S_IFMT,
		Ino:  out.Attr.Ino,
	}
	return n.NewInode(ctx, &Node{d: n.d}, stable), fs.OK
}

func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return n.d.Getattr(n.path(), &out.Attr)
}

// Setattr applies mode, ownership, size and times in that order and reports
// the resulting attributes.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	path := n.path()

	if mode, ok := in.GetMode(); ok {
		if errno := n.d.Chmod(path, mode); errno != 0 {
			return errno
		}
	}

	uid, uok := in.GetUID()
	gid, gok := in.GetGID()
	if uok || gok {
		suid, sgid := -1, -1
		if uok {
			suid = int(uid)
		}
		if gok {
			sgid = int(gid)
		}
		if errno := n.d.Chown(path, suid, sgid); errno != 0 {
			return errno
		}
	}

	if size, ok := in.GetSize(); ok {
		if errno := n.d.Truncate(path, size); errno != 0 {
			return errno
		}
	}

	atime, aok := in.GetATime()
	mtime, mok := in.GetMTime()
	if aok || mok {
		var ap, mp = &atime, &mtime
		if !aok {
			ap = nil
		}
		if !mok {
			mp = nil
		}
		if errno := n.d.Utimens(path, ap, mp); errno != 0 {
			return errno
		}
	}

	return n.d.Getattr(path, &out.Attr)
}

func (n *Node) Access(ctx context.Context, mask uint32) syscall.Errno {
	return n.d.Access(n.path(), mask)
}

func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	return n.d.Readlink(n.path())
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return n.newChild(ctx, name, out)
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, errno := n.d.Readdir(n.path())
	if errno != 0 {
		return nil, errno
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (n *Node) Mknod(ctx context.Context, name string, mode, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if errno := n.d.Mknod(n.childPath(name), mode, dev); errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, name, out)
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if errno := n.d.Mkdir(n.childPath(name), mode); errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, name, out)
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.d.Unlink(n.childPath(name))
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.d.Rmdir(n.childPath(name))
}

func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if errno := n.d.Symlink(target, n.childPath(name)); errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, name, out)
}

// Rename moves the backing entry; the bridge updates the inode tree after
// a successful return.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	to := filepath.Join("/"+newParent.EmbeddedInode().Path(n.Root()), newName)
	return n.d.Rename(n.childPath(name), to, flags)
}

func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	from := "/" + target.EmbeddedInode().Path(n.Root())
	if errno := n.d.Link(from, n.childPath(name)); errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, name, out)
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if errno := n.d.Open(n.path(), flags); errno != 0 {
		return nil, 0, errno
	}
	return n.newHandle("open"), 0, fs.OK
}

// Create makes an encrypted file. The kernel only sends it for names that
// do not exist yet, so flags carry nothing the engine needs.
func (n *Node) Create(ctx context.Context, name string, flags, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if errno := n.d.Create(n.childPath(name), mode); errno != 0 {
		return nil, nil, 0, errno
	}

	inode, errno := n.newChild(ctx, name, out)
	if errno != 0 {
		return nil, nil, 0, errno
	}
	return inode, inode.Operations().(*Node).newHandle("create"), 0, fs.OK
}

func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	return n.d.Statfs(n.path(), out)
}

func (n *Node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	return n.d.Setxattr(n.path(), attr, data, flags)
}

func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	return n.d.Getxattr(n.path(), attr, dest)
}

func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	return n.d.Listxattr(n.path(), dest)
}

func (n *Node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	return n.d.Removexattr(n.path(), attr)
}

func (n *Node) newHandle(op string) *Handle {
	h := &Handle{node: n, id: uuid.New()}
	n.d.log.WithField("handle", h.id.String()).WithField("path", n.path()).Debugf("%s: handle opened", op)
	return h
}
