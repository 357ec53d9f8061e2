package fusefs

import (
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// MountOptions are the kernel-facing options of a mount.
type MountOptions struct {
	// AllowOther lets users other than the mounting one access the mount
	AllowOther bool

	// Debug logs every FUSE request and reply
	Debug bool

	// FsName is shown as the source in the mount table. Defaults to the
	// backing root.
	FsName string
}

// Mount serves d at mountpoint. The returned server is already running;
// callers Wait on it and Unmount to stop.
func Mount(mountpoint string, d *Dispatcher, opts MountOptions) (*fuse.Server, error) {
	fsName := opts.FsName
	if fsName == "" {
		fsName = d.Engine().Root()
	}

	return fs.Mount(mountpoint, NewRoot(d), &fs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther: opts.AllowOther,
			Debug:      opts.Debug,
			FsName:     fsName,
			Name:       "encfs",
		},
	})
}
