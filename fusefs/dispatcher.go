package fusefs

import (
	"errors"
	"io"
	"math"
	"os"
	"syscall"
	"time"

	"github.com/absfs/encfs"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Dispatcher implements the filesystem operations on mount-relative paths.
// Every method resolves its path against the backing root and forwards to
// the equivalent system call; content, size and creation of regular files go
// through the engine. Failures are returned as errno values.
type Dispatcher struct {
	engine *encfs.Engine
	log    logrus.FieldLogger
}

// NewDispatcher creates a dispatcher for engine. A nil log discards output.
func NewDispatcher(engine *encfs.Engine, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Dispatcher{engine: engine, log: log}
}

// Engine returns the content engine the dispatcher forwards to.
func (d *Dispatcher) Engine() *encfs.Engine {
	return d.engine
}

func (d *Dispatcher) fail(op, path string, err error) syscall.Errno {
	errno := ToErrno(err)
	d.log.WithError(err).WithFields(logrus.Fields{
		"op":    op,
		"path":  path,
		"errno": errno.Error(),
	}).Debug("operation failed")
	return errno
}

// Getattr fills out from the backing file without following symlinks. The
// size of an encrypted regular file is its plaintext size.
func (d *Dispatcher) Getattr(path string, out *fuse.Attr) syscall.Errno {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("getattr", path, err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(real, &st); err != nil {
		return d.fail("getattr", path, err)
	}
	out.FromStat(&st)

	if st.Mode&syscall.S_IFMT == syscall.S_IFREG {
		size, err := d.engine.Size(real)
		if err != nil {
			return d.fail("getattr", path, err)
		}
		out.Size = uint64(size)
	}
	return fs.OK
}

// Access checks mask against the backing file.
func (d *Dispatcher) Access(path string, mask uint32) syscall.Errno {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("access", path, err)
	}
	if err := unix.Access(real, mask); err != nil {
		return d.fail("access", path, err)
	}
	return fs.OK
}

// Readlink returns the stored symlink target.
func (d *Dispatcher) Readlink(path string) ([]byte, syscall.Errno) {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return nil, d.fail("readlink", path, err)
	}
	target, err := os.Readlink(real)
	if err != nil {
		return nil, d.fail("readlink", path, err)
	}
	return []byte(target), fs.OK
}

// Readdir lists a directory with the type of every entry.
func (d *Dispatcher) Readdir(path string) ([]fuse.DirEntry, syscall.Errno) {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return nil, d.fail("readdir", path, err)
	}

	entries, err := os.ReadDir(real)
	if err != nil {
		return nil, d.fail("readdir", path, err)
	}

	result := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		result = append(result, fuse.DirEntry{
			Name: e.Name(),
			Mode: typeBits(e.Type()),
		})
	}
	return result, fs.OK
}

// typeBits converts the type bits of an os.FileMode to S_IF* form.
func typeBits(mode os.FileMode) uint32 {
	switch {
	case mode&os.ModeDir != 0:
		return syscall.S_IFDIR
	case mode&os.ModeSymlink != 0:
		return syscall.S_IFLNK
	case mode&os.ModeNamedPipe != 0:
		return syscall.S_IFIFO
	case mode&os.ModeSocket != 0:
		return syscall.S_IFSOCK
	case mode&os.ModeCharDevice != 0:
		return syscall.S_IFCHR
	case mode&os.ModeDevice != 0:
		return syscall.S_IFBLK
	default:
		return syscall.S_IFREG
	}
}

// Mknod creates a special file. Regular files made this way are plaintext;
// only Create encrypts.
func (d *Dispatcher) Mknod(path string, mode, dev uint32) syscall.Errno {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("mknod", path, err)
	}

	switch mode & syscall.S_IFMT {
	case syscall.S_IFREG:
		var fd int
		fd, err = unix.Open(real, unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY, mode&07777)
		if err == nil {
			err = unix.Close(fd)
		}
	case syscall.S_IFIFO:
		err = unix.Mkfifo(real, mode&07777)
	default:
		err = unix.Mknod(real, mode, int(dev))
	}
	if err != nil {
		return d.fail("mknod", path, err)
	}
	return fs.OK
}

// Mkdir creates a directory with mode.
func (d *Dispatcher) Mkdir(path string, mode uint32) syscall.Errno {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("mkdir", path, err)
	}
	if err := unix.Mkdir(real, mode); err != nil {
		return d.fail("mkdir", path, err)
	}
	return fs.OK
}

// Unlink removes a non-directory.
func (d *Dispatcher) Unlink(path string) syscall.Errno {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("unlink", path, err)
	}
	if err := unix.Unlink(real); err != nil {
		return d.fail("unlink", path, err)
	}
	return fs.OK
}

// Rmdir removes an empty directory.
func (d *Dispatcher) Rmdir(path string) syscall.Errno {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("rmdir", path, err)
	}
	if err := unix.Rmdir(real); err != nil {
		return d.fail("rmdir", path, err)
	}
	return fs.OK
}

// Symlink creates path pointing at target. The target is stored as given.
func (d *Dispatcher) Symlink(target, path string) syscall.Errno {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("symlink", path, err)
	}
	if err := unix.Symlink(target, real); err != nil {
		return d.fail("symlink", path, err)
	}
	return fs.OK
}

// Rename moves from to to. Non-zero flags are passed to renameat2.
func (d *Dispatcher) Rename(from, to string, flags uint32) syscall.Errno {
	realFrom, err := d.engine.Resolve(from)
	if err != nil {
		return d.fail("rename", from, err)
	}
	realTo, err := d.engine.Resolve(to)
	if err != nil {
		return d.fail("rename", to, err)
	}

	if flags == 0 {
		err = unix.Rename(realFrom, realTo)
	} else {
		err = unix.Renameat2(unix.AT_FDCWD, realFrom, unix.AT_FDCWD, realTo, uint(flags))
	}
	if err != nil {
		return d.fail("rename", from, err)
	}
	return fs.OK
}

// Link creates a hard link to from at to. Both names share the marker. An
// encrypted write through either name replaces that name's inode, which
// detaches it from the other.
func (d *Dispatcher) Link(from, to string) syscall.Errno {
	realFrom, err := d.engine.Resolve(from)
	if err != nil {
		return d.fail("link", from, err)
	}
	realTo, err := d.engine.Resolve(to)
	if err != nil {
		return d.fail("link", to, err)
	}
	if err := unix.Link(realFrom, realTo); err != nil {
		return d.fail("link", to, err)
	}
	return fs.OK
}

// Chmod sets the permission bits of path.
func (d *Dispatcher) Chmod(path string, mode uint32) syscall.Errno {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("chmod", path, err)
	}
	if err := unix.Chmod(real, mode); err != nil {
		return d.fail("chmod", path, err)
	}
	return fs.OK
}

// Chown changes owner and group without following symlinks. -1 leaves the
// respective id unchanged.
func (d *Dispatcher) Chown(path string, uid, gid int) syscall.Errno {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("chown", path, err)
	}
	if err := unix.Lchown(real, uid, gid); err != nil {
		return d.fail("chown", path, err)
	}
	return fs.OK
}

// Truncate sets the plaintext size of path.
func (d *Dispatcher) Truncate(path string, size uint64) syscall.Errno {
	if size > math.MaxInt64 {
		return syscall.EFBIG
	}
	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("truncate", path, err)
	}
	if err := d.engine.Truncate(real, int64(size)); err != nil {
		return d.fail("truncate", path, err)
	}
	return fs.OK
}

// Utimens sets access and modification time. A nil time is left unchanged.
func (d *Dispatcher) Utimens(path string, atime, mtime *time.Time) syscall.Errno {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("utimens", path, err)
	}

	ts := []unix.Timespec{timespec(atime), timespec(mtime)}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, real, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return d.fail("utimens", path, err)
	}
	return fs.OK
}

func timespec(t *time.Time) unix.Timespec {
	if t == nil {
		return unix.Timespec{Nsec: unix.UTIME_OMIT}
	}
	return unix.NsecToTimespec(t.UnixNano())
}

// Open checks that the backing file can be opened with flags. No state is
// kept: every read and write reopens the backing file.
func (d *Dispatcher) Open(path string, flags uint32) syscall.Errno {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("open", path, err)
	}

	f, err := os.OpenFile(real, int(flags)&^(os.O_CREATE|os.O_EXCL), 0)
	if err != nil {
		return d.fail("open", path, err)
	}
	if err := f.Close(); err != nil {
		return d.fail("open", path, err)
	}
	return fs.OK
}

// Read reads plaintext of path at off into dest and returns the count.
func (d *Dispatcher) Read(path string, dest []byte, off int64) (int, syscall.Errno) {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return 0, d.fail("read", path, err)
	}
	n, err := d.engine.ReadAt(real, dest, off)
	if err != nil {
		return 0, d.fail("read", path, err)
	}
	return n, fs.OK
}

// Write writes data at off into the plaintext of path.
func (d *Dispatcher) Write(path string, data []byte, off int64) (int, syscall.Errno) {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return 0, d.fail("write", path, err)
	}
	n, err := d.engine.WriteAt(real, data, off)
	if err != nil {
		return 0, d.fail("write", path, err)
	}
	return n, fs.OK
}

// Statfs reports the statistics of the filesystem holding path.
func (d *Dispatcher) Statfs(path string, out *fuse.StatfsOut) syscall.Errno {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("statfs", path, err)
	}

	var st syscall.Statfs_t
	if err := syscall.Statfs(real, &st); err != nil {
		return d.fail("statfs", path, err)
	}
	out.FromStatfsT(&st)
	return fs.OK
}

// Create makes a new encrypted file at path. It fails with EEXIST if path
// already exists.
func (d *Dispatcher) Create(path string, mode uint32) syscall.Errno {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("create", path, err)
	}
	if err := d.engine.Create(real, fileMode(mode)); err != nil {
		return d.fail("create", path, err)
	}
	return fs.OK
}

// fileMode converts the permission and special bits of a unix mode.
func fileMode(mode uint32) os.FileMode {
	m := os.FileMode(mode & 0777)
	if mode&unix.S_ISUID != 0 {
		m |= os.ModeSetuid
	}
	if mode&unix.S_ISGID != 0 {
		m |= os.ModeSetgid
	}
	if mode&unix.S_ISVTX != 0 {
		m |= os.ModeSticky
	}
	return m
}

// Release has nothing to free; handles carry no backing descriptor.
func (d *Dispatcher) Release(path string) syscall.Errno {
	return fs.OK
}

// Fsync flushes the backing file of path to stable storage.
func (d *Dispatcher) Fsync(path string) syscall.Errno {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("fsync", path, err)
	}

	f, err := os.Open(real)
	if err != nil {
		return d.fail("fsync", path, err)
	}
	defer f.Close()

	if err := f.Sync(); err != nil {
		return d.fail("fsync", path, err)
	}
	return fs.OK
}

// Setxattr sets an extended attribute. The encryption marker cannot be set
// or changed through the mount.
func (d *Dispatcher) Setxattr(path, name string, value []byte, flags uint32) syscall.Errno {
	if name == encfs.MarkerName {
		return syscall.EPERM
	}

	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("setxattr", path, err)
	}
	if err := unix.Lsetxattr(real, name, value, int(flags)); err != nil {
		return d.fail("setxattr", path, err)
	}
	return fs.OK
}

// Getxattr copies the attribute value into dest. An empty dest queries the
// size; a dest too small yields ERANGE together with the needed size.
func (d *Dispatcher) Getxattr(path, name string, dest []byte) (uint32, syscall.Errno) {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return 0, d.fail("getxattr", path, err)
	}

	sz, err := unix.Lgetxattr(real, name, dest)
	if errors.Is(err, unix.ERANGE) {
		if sz, err = unix.Lgetxattr(real, name, nil); err == nil {
			return uint32(sz), syscall.ERANGE
		}
	}
	if err != nil {
		return 0, d.fail("getxattr", path, err)
	}
	return uint32(sz), fs.OK
}

// Listxattr copies the NUL-separated attribute names into dest, with the
// same sizing rules as Getxattr.
func (d *Dispatcher) Listxattr(path string, dest []byte) (uint32, syscall.Errno) {
	real, err := d.engine.Resolve(path)
	if err != nil {
		return 0, d.fail("listxattr", path, err)
	}

	sz, err := unix.Llistxattr(real, dest)
	if errors.Is(err, unix.ERANGE) {
		if sz, err = unix.Llistxattr(real, nil); err == nil {
			return uint32(sz), syscall.ERANGE
		}
	}
	if err != nil {
		return 0, d.fail("listxattr", path, err)
	}
	return uint32(sz), fs.OK
}

// Removexattr removes an extended attribute. Removing the encryption marker
// is refused.
func (d *Dispatcher) Removexattr(path, name string) syscall.Errno {
	if name == encfs.MarkerName {
		return syscall.EPERM
	}

	real, err := d.engine.Resolve(path)
	if err != nil {
		return d.fail("removexattr", path, err)
	}
	if err := unix.Lremovexattr(real, name); err != nil {
		return d.fail("removexattr", path, err)
	}
	return fs.OK
}
