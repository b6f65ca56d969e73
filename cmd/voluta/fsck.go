package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voluta-fs/voluta/pkg/vtype"
	"github.com/voluta-fs/voluta/pkg/vvolume"
)

var flagFsckPassphrase string

var fsckCmd = &cobra.Command{
	Use:   "fsck <path>",
	Short: "Walk a volume's reachable inodes and verify hardlink/size invariants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := vvolume.OpenReadOnly(args[0], passphraseFor(flagFsckPassphrase))
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer v.Close()

		c := newFsckState()
		root, err := v.RootInode()
		if err != nil {
			return fmt.Errorf("loading root inode: %w", err)
		}
		c.linkCount[root.Ino]++
		c.parentOf[root.Ino] = root.Ino
		if err := c.walk(v, root); err != nil {
			return fmt.Errorf("walk: %w", err)
		}
		c.checkInode(root)
		for _, n := range c.nonDirs {
			c.checkInode(n)
		}

		free, total, err := v.StatFree()
		if err != nil {
			return fmt.Errorf("statfree: %w", err)
		}
		if free < 0 || free > total {
			c.violations = append(c.violations, fmt.Sprintf("allocator: free=%d out of range for total=%d", free, total))
		}

		if len(c.violations) == 0 {
			log.Infof("fsck: %d inodes visited, no violations", c.visited)
			return nil
		}
		for _, msg := range c.violations {
			log.Errorf("fsck: %s", msg)
		}
		return fmt.Errorf("fsck found %d violation(s)", len(c.violations))
	},
}

type fsckState struct {
	visited    int
	linkCount  map[uint64]int // dentries found pointing at this ino
	childDirs  map[uint64]int // subdirectories found inside this dir ino
	parentOf   map[uint64]uint64 // directory ino -> the parent ino it was found under
	nonDirs    map[uint64]*vvolume.Inode
	violations []string
}

func newFsckState() *fsckState {
	return &fsckState{
		linkCount: make(map[uint64]int),
		childDirs: make(map[uint64]int),
		parentOf:  make(map[uint64]uint64),
		nonDirs:   make(map[uint64]*vvolume.Inode),
	}
}

// walk descends n's directory tree (n must be a directory), recording a
// link-count observation for every entry found and recursing into
// subdirectories, the same shape dump.go's walk uses but accumulating
// fsck state instead of printing.
func (c *fsckState) walk(v *vvolume.Volume, n *vvolume.Inode) error {
	c.visited++

	dir := v.Dir(n)
	var after uint64
	for {
		entries, err := dir.Readdir(after)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			c.linkCount[e.Ino]++
			if e.DType == vtype.InoKindDir {
				c.childDirs[n.Ino]++
				child, err := v.LoadInode(e.Ino)
				if err != nil {
					c.violations = append(c.violations, fmt.Sprintf("ino %d: entry %q -> ino %d: %v", n.Ino, e.Name, e.Ino, err))
					continue
				}
				if child.Kind != vtype.InoKindDir {
					c.violations = append(c.violations, fmt.Sprintf("ino %d: entry %q claims dir but target ino %d has kind %v", n.Ino, e.Name, e.Ino, child.Kind))
					continue
				}
				c.parentOf[child.Ino] = n.Ino
				if err := c.walk(v, child); err != nil {
					return err
				}
				c.checkInode(child)
			} else if child, err := v.LoadInode(e.Ino); err != nil {
				c.violations = append(c.violations, fmt.Sprintf("ino %d: entry %q -> ino %d: %v", n.Ino, e.Name, e.Ino, err))
			} else {
				c.nonDirs[e.Ino] = child
			}
			after = e.Cookie
		}
	}
	return nil
}

// checkInode verifies n's recorded Nlink against what the walk actually
// observed, and that its Size is non-negative.
func (c *fsckState) checkInode(n *vvolume.Inode) {
	if n.Size < 0 {
		c.violations = append(c.violations, fmt.Sprintf("ino %d: negative size %d", n.Ino, n.Size))
	}

	switch n.Kind {
	case vtype.InoKindDir:
		want := uint32(2 + c.childDirs[n.Ino])
		if n.Nlink != want {
			c.violations = append(c.violations, fmt.Sprintf("ino %d: dir nlink=%d, want %d (2 + %d subdirectories)", n.Ino, n.Nlink, want, c.childDirs[n.Ino]))
		}
		if wantParent, ok := c.parentOf[n.Ino]; ok && n.ParentIno != wantParent {
			c.violations = append(c.violations, fmt.Sprintf("ino %d: parent-ino=%d, want %d (observed containing directory)", n.Ino, n.ParentIno, wantParent))
		}
	default:
		want := uint32(c.linkCount[n.Ino])
		if n.Nlink != want {
			c.violations = append(c.violations, fmt.Sprintf("ino %d: nlink=%d, want %d (observed directory entries)", n.Ino, n.Nlink, want))
		}
	}
}

func init() {
	fsckCmd.Flags().StringVar(&flagFsckPassphrase, "passphrase", "", "passphrase for an encrypted volume (falls back to $VOLUTA_PASSPHRASE)")
}
