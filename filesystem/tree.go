package filesystem

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/cndeng/ramfs"
	"github.com/cndeng/ramfs/config"
	"github.com/cndeng/ramfs/internal/util"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/puzpuzpuz/xsync/v4"
)

// FileSystem owns the root of the node tree and resolves absolute,
// slash-rooted paths against it. It is the single shared state object:
// constructed once at startup with the initial owner identity from cfg
// and passed to every consumer, never a package-level global.
type FileSystem struct {
	cfg          *config.Config
	root         *Node
	lastIno      atomic.Uint64             // Last fuse Attr.Ino assigned; incremented when new nodes are created
	nodeRegistry *xsync.Map[uint64, *Node] // maps inode numbers to live Nodes for the FUSE session
}

// NewFS builds a filesystem holding a single empty root directory.
func NewFS(cfg *config.Config) *FileSystem {
	fs := &FileSystem{cfg: cfg}
	fs.lastIno.Store(fuse.FUSE_ROOT_ID)

	rootAttr := fs.defaultAttr(fuse.FUSE_ROOT_ID)
	rootAttr.Mode = DirAttr | cfg.RootMode

	root, _ := NewNode(ramfs.Directory, "", rootAttr)
	fs.root = root

	fs.nodeRegistry = xsync.NewMap[uint64, *Node]()
	fs.nodeRegistry.Store(fuse.FUSE_ROOT_ID, root)
	return fs
}

// Root returns the tree's root directory node.
func (fs *FileSystem) Root() *Node {
	return fs.root
}

// Resolve walks path from the root one segment at a time, scanning each
// directory's child set for a name match. Resolution is read-only: it
// never creates nodes. "/" resolves to the root.
func (fs *FileSystem) Resolve(path string) (*Node, error) {
	cur := fs.root
	for _, name := range splitPath(path) {
		if cur.Kind() != ramfs.Directory {
			return nil, ramfs.ErrNotADirectory
		}
		child, ok := cur.GetChild(name)
		if !ok {
			return nil, ramfs.ErrNotFound
		}
		cur = child
	}
	return cur, nil
}

// ResolveParent resolves the directory containing the final path
// component and returns it with that component's name. At the root the
// parent is the root itself.
func (fs *FileSystem) ResolveParent(path string) (*Node, string, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return fs.root, "", nil
	}
	name := segs[len(segs)-1]
	cur := fs.root
	for _, seg := range segs[:len(segs)-1] {
		if cur.Kind() != ramfs.Directory {
			return nil, "", ramfs.ErrNotADirectory
		}
		child, ok := cur.GetChild(seg)
		if !ok {
			return nil, "", ramfs.ErrNotFound
		}
		cur = child
	}
	if cur.Kind() != ramfs.Directory {
		return nil, "", ramfs.ErrNotADirectory
	}
	return cur, name, nil
}

// splitPath breaks an absolute path into its non-empty segments.
// "/" and "" both yield no segments.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

/* Node registry */

// NodeByIno returns the registered node for a FUSE inode number.
func (fs *FileSystem) NodeByIno(ino uint64) (*Node, bool) {
	return fs.nodeRegistry.Load(ino)
}

// Register makes a node addressable by its inode number for the
// duration of the FUSE session.
func (fs *FileSystem) Register(n *Node) {
	fs.nodeRegistry.Store(n.Ino(), n)
}

// Forget drops the registry entry for an inode number. The root is
// never forgotten.
func (fs *FileSystem) Forget(ino uint64) {
	logger := util.GetLogger("FS.Forget")
	logger.Trace().Uint64("ino", ino).Msg("Forget called")

	if ino == fuse.FUSE_ROOT_ID {
		return
	}
	fs.nodeRegistry.Delete(ino)
}

// defaultAttr returns the default attributes for a new node.
// NOTE: Make sure to set the Mode field appropriately
func (fs *FileSystem) defaultAttr(ino uint64) *fuse.Attr {
	now := time.Now()
	return &fuse.Attr{
		Ino: ino,
		// constant placeholder; true hard-link counting is not tracked
		Nlink: 1,
		Owner: fuse.Owner{
			Uid: fs.cfg.Uid,
			Gid: fs.cfg.Gid,
		},
		Atime:     uint64(now.Unix()),
		Mtime:     uint64(now.Unix()),
		Ctime:     uint64(now.Unix()),
		Atimensec: uint32(now.Nanosecond()),
		Mtimensec: uint32(now.Nanosecond()),
		Ctimensec: uint32(now.Nanosecond()),
		Blksize:   4096, // preferred size for fs ops
	}
}

// newNode allocates an inode number, stamps default attributes, and
// creates a node of the given kind. The caller links it into the tree.
func (fs *FileSystem) newNode(kind ramfs.NodeKind, name string, mode uint32) *Node {
	attr := fs.defaultAttr(fs.lastIno.Add(1))
	switch kind {
	case ramfs.Directory:
		attr.Mode = DirAttr | mode
	case ramfs.SymbolicLink:
		attr.Mode = LinkAttr | 0o777
	default:
		attr.Mode = FileAttr | mode
	}
	node, _ := NewNode(kind, name, attr)
	return node
}
