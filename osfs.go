package encfs

import (
	"os"
	"time"

	"github.com/absfs/absfs"
)

// OSFS is an absfs.FileSystem over the host filesystem. Paths are used as
// given; the engine always passes absolute backing paths.
type OSFS struct{}

var _ absfs.FileSystem = (*OSFS)(nil)

// NewOSFS returns the host filesystem.
func NewOSFS() *OSFS {
	return &OSFS{}
}

func (fs *OSFS) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	return os.OpenFile(name, flag, perm)
}

func (fs *OSFS) Mkdir(name string, perm os.FileMode) error {
	return os.Mkdir(name, perm)
}

func (fs *OSFS) MkdirAll(name string, perm os.FileMode) error {
	return os.MkdirAll(name, perm)
}

func (fs *OSFS) Remove(name string) error {
	return os.Remove(name)
}

func (fs *OSFS) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (fs *OSFS) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// Stat does not follow a final symlink, matching what the overlay reports
// through getattr.
func (fs *OSFS) Stat(name string) (os.FileInfo, error) {
	return os.Lstat(name)
}

func (fs *OSFS) Chmod(name string, mode os.FileMode) error {
	return os.Chmod(name, mode)
}

func (fs *OSFS) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(name, atime, mtime)
}

func (fs *OSFS) Chown(name string, uid, gid int) error {
	return os.Lchown(name, uid, gid)
}

func (fs *OSFS) Separator() uint8 {
	return os.PathSeparator
}

func (fs *OSFS) ListSeparator() uint8 {
	return os.PathListSeparator
}

func (fs *OSFS) Chdir(dir string) error {
	return os.Chdir(dir)
}

func (fs *OSFS) Getwd() (string, error) {
	return os.Getwd()
}

func (fs *OSFS) TempDir() string {
	return os.TempDir()
}

func (fs *OSFS) Open(name string) (absfs.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

func (fs *OSFS) Create(name string) (absfs.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (fs *OSFS) Truncate(name string, size int64) error {
	return os.Truncate(name, size)
}
