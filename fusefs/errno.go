package fusefs

import (
	"errors"
	"syscall"

	"github.com/absfs/encfs"
	"github.com/hanwen/go-fuse/v2/fs"
)

// ToErrno converts an engine or syscall error into the errno returned to the
// kernel. Crypto failures always become EIO, so a wrong passphrase cannot be
// told apart from corrupted content.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return fs.OK
	}

	switch encfs.KindOf(err) {
	case encfs.KindCryptoFailure:
		return syscall.EIO
	case encfs.KindPathTooLong:
		return syscall.ENAMETOOLONG
	}

	if encfs.IsValidationError(err) {
		return syscall.EINVAL
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	switch encfs.KindOf(err) {
	case encfs.KindNotFound:
		return syscall.ENOENT
	case encfs.KindPermissionDenied:
		return syscall.EACCES
	default:
		return syscall.EIO
	}
}
