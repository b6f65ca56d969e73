package vfuse

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/voluta-fs/voluta/pkg/vvolume"
)

// Mount attaches volume's root directory at dir and starts serving FUSE
// requests, the same Mount-wraps-NewNodeFS-wraps-fuse.NewServer shape
// NewLoopbackRoot's caller uses.
func Mount(dir string, volume *vvolume.Volume, debug bool) (*fuse.Server, error) {
	root := &Root{Volume: volume}
	rootNode := root.newNode(vvolume.RootIno)

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Debug:      debug,
			FsName:     "voluta",
			Name:       "voluta",
			AllowOther: false,
		},
		EntryTimeout: durationPtr(time.Second),
		AttrTimeout:  durationPtr(time.Second),
	}
	return fs.Mount(dir, rootNode, opts)
}

func durationPtr(d time.Duration) *time.Duration { return &d }
