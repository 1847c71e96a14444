package filesystem

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/cndeng/ramfs"
	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/puzpuzpuz/xsync/v4"
)

// Mode type bits per node kind
const (
	DirAttr  = uint32(syscall.S_IFDIR)
	FileAttr = uint32(syscall.S_IFREG)
	LinkAttr = uint32(syscall.S_IFLNK)
)

// Node is a single filesystem entry. Its identity is the object itself,
// never its path: renames change name and parent without creating a new
// identity, and the ID stays stable for the node's lifetime.
//
// The kind tags which content variant the node carries: data for
// regular files and symlink targets, children for directories. Content
// access must go through the kind-guarded methods below.
type Node struct {
	kind ramfs.NodeKind // immutable after creation
	id   uuid.UUID      // immutable; survives renames

	name   string       // Name of the node (last part of the path). Protected by mu
	parent *Node        // Protected by mu
	mu     sync.RWMutex // Protects the fields above

	attr   fuse.Attr    // Stat metadata. Protected by attrMu
	attrMu sync.RWMutex // Protects attr

	data   []byte       // RegularFile bytes or SymbolicLink target. Protected by dataMu
	dataMu sync.RWMutex // Protects data

	children *xsync.Map[string, *Node] // thread-safe map of child nodes by name; nil unless Directory
	xattrs   *xsync.Map[string, []byte]
}

// NewNode creates a new Node of the given kind.
//
// NOTE: Parent node is responsible for adding itself to the returned Node's
// parent ref when linking as its child
func NewNode(kind ramfs.NodeKind, name string, attr *fuse.Attr) (*Node, error) {
	if attr == nil {
		return nil, fmt.Errorf("cannot create node with nil attr")
	}
	node := &Node{
		kind:   kind,
		id:     uuid.New(),
		name:   name,
		parent: nil, // parent node must add this node as child
		attr:   *attr,
		xattrs: xsync.NewMap[string, []byte](),
	}
	if kind == ramfs.Directory {
		node.children = xsync.NewMap[string, *Node]()
		// directory size is always 0; child count would be misleading
		node.attr.Size = 0
	}
	return node, nil
}

// Kind returns the node's immutable kind tag.
func (n *Node) Kind() ramfs.NodeKind {
	return n.kind
}

// ID returns the node's immutable identity. Unlike the path it is
// stable across renames, so open handles stay valid when a node moves.
func (n *Node) ID() uuid.UUID {
	return n.id
}

// Ino returns the node's inode number.
func (n *Node) Ino() uint64 {
	n.attrMu.RLock()
	defer n.attrMu.RUnlock()
	return n.attr.Ino
}

// Name returns the node's current base name.
func (n *Node) Name() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.name
}

// Path returns the path of the node relative from root.
// If the node is the root, returns ""
//
// Returns an error if an ancestor is detached, with the path
// up to the first detached node
func (n *Node) Path() (string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.isRootLocked() {
		return "", nil
	}
	p := n.parent
	// handle detached node
	if p == nil {
		return n.name, fmt.Errorf("detached node: %s", n.name)
	}

	pPath, err := p.Path()
	if pPath == "" {
		// relative from root
		return pPath + n.name, err
	}
	return pPath + "/" + n.name, err
}

// Parent returns the owning directory, or nil for the root and for
// detached nodes.
func (n *Node) Parent() *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

// IsRoot reports whether the node is the tree's root directory.
func (n *Node) IsRoot() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.isRootLocked()
}

func (n *Node) isRootLocked() bool {
	if n.parent != nil {
		return false
	}
	// cover detached nodes
	n.attrMu.RLock()
	defer n.attrMu.RUnlock()
	return n.attr.Ino == fuse.FUSE_ROOT_ID
}

/* Directory content */

// AddChild adds a child node to the node's children map
// and sets the child's parent to this node.
// Caller must have verified the node is a Directory.
func (n *Node) AddChild(child *Node) {
	n.children.Store(child.Name(), child)

	child.mu.Lock()
	defer child.mu.Unlock()
	child.parent = n
}

// AddChildIfAbsent links child only if its name is still free,
// reporting whether the link happened. The insert is atomic, so two
// racing creators of the same name cannot both succeed.
func (n *Node) AddChildIfAbsent(child *Node) bool {
	if _, loaded := n.children.LoadOrStore(child.Name(), child); loaded {
		return false
	}
	child.mu.Lock()
	defer child.mu.Unlock()
	child.parent = n
	return true
}

// GetChild returns a child node by name.
func (n *Node) GetChild(name string) (child *Node, ok bool) {
	if n.children == nil {
		return nil, false
	}
	return n.children.Load(name)
}

// RemoveChild detaches and returns the named child, if present. The
// detached node keeps its content and metadata; once unreferenced it is
// reclaimed by the runtime.
func (n *Node) RemoveChild(name string) (*Node, bool) {
	if child, exists := n.children.LoadAndDelete(name); exists {
		child.mu.Lock()
		defer child.mu.Unlock()
		child.parent = nil
		return child, true
	}
	return nil, false
}

// ChildCount returns the number of children. Only meaningful for
// directories; zero otherwise.
func (n *Node) ChildCount() int {
	if n.children == nil {
		return 0
	}
	return n.children.Size()
}

// RangeChildren iterates over child nodes in map order.
func (n *Node) RangeChildren(fn func(name string, child *Node) bool) {
	if n.children == nil {
		return
	}
	n.children.Range(fn)
}

// rename updates the node's base name under its own lock. The caller
// owns moving the node between child maps.
func (n *Node) rename(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.name = name
}

/* Metadata */

// Stat returns a thread-safe snapshot of the node's attributes.
func (n *Node) Stat() fuse.Attr {
	n.attrMu.RLock()
	defer n.attrMu.RUnlock()
	return n.attr
}

// UpdateAttr runs fn under the attr write-lock for atomic modifications.
func (n *Node) UpdateAttr(fn func(attr *fuse.Attr)) {
	n.attrMu.Lock()
	defer n.attrMu.Unlock()
	fn(&n.attr)
}

// SetMode replaces the permission bits, preserving the kind's type bits.
// Updates ctime.
func (n *Node) SetMode(mode uint32) {
	now := time.Now()
	n.UpdateAttr(func(attr *fuse.Attr) {
		attr.Mode = (attr.Mode & syscall.S_IFMT) | (mode &^ syscall.S_IFMT)
		attr.SetTimes(nil, nil, &now)
	})
}

// SetOwner sets uid/gid. Updates ctime.
func (n *Node) SetOwner(uid, gid uint32) {
	now := time.Now()
	n.UpdateAttr(func(attr *fuse.Attr) {
		attr.Owner = fuse.Owner{Uid: uid, Gid: gid}
		attr.SetTimes(nil, nil, &now)
	})
}

// SetTimes sets atime/mtime to the given values (nil leaves a field
// untouched) and advances ctime.
func (n *Node) SetTimes(atime, mtime *time.Time) {
	now := time.Now()
	n.UpdateAttr(func(attr *fuse.Attr) {
		attr.SetTimes(atime, mtime, &now)
	})
}

// Touch advances mtime and ctime. Used for namespace mutations on the
// parent directory.
func (n *Node) Touch(now time.Time) {
	n.UpdateAttr(func(attr *fuse.Attr) {
		attr.SetTimes(nil, &now, &now)
	})
}

/* RegularFile content */

// ReadAt returns up to size bytes of content starting at off, clamped
// to the current length. Reading past end of content returns fewer
// (possibly zero) bytes. Updates atime.
func (n *Node) ReadAt(off int64, size int64) []byte {
	n.dataMu.RLock()
	length := int64(len(n.data))
	start := min(off, length)
	end := min(start+size, length)
	out := make([]byte, end-start)
	copy(out, n.data[start:end])
	n.dataMu.RUnlock()

	now := time.Now()
	n.UpdateAttr(func(attr *fuse.Attr) {
		attr.SetTimes(&now, nil, nil)
	})
	return out
}

// WriteAt replaces content in the range [off, off+len(p)). If off
// exceeds the current length the gap is zero-filled so content stays
// contiguous. Updates mtime/ctime and size. Returns bytes written.
func (n *Node) WriteAt(off int64, p []byte) int {
	n.dataMu.Lock()
	end := off + int64(len(p))
	if int64(len(n.data)) < end {
		grown := make([]byte, end)
		copy(grown, n.data) // bytes beyond the old length stay zero
		n.data = grown
	}
	copy(n.data[off:end], p)
	size := uint64(len(n.data))
	n.dataMu.Unlock()

	now := time.Now()
	n.UpdateAttr(func(attr *fuse.Attr) {
		attr.Size = size
		attr.SetTimes(nil, &now, &now)
	})
	return len(p)
}

// Truncate resizes content to size: trailing bytes are dropped when
// shrinking, zero-padding is appended when extending. Updates
// mtime/ctime.
func (n *Node) Truncate(size uint64) {
	n.dataMu.Lock()
	if size <= uint64(len(n.data)) {
		n.data = n.data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, n.data)
		n.data = grown
	}
	n.dataMu.Unlock()

	now := time.Now()
	n.UpdateAttr(func(attr *fuse.Attr) {
		attr.Size = size
		attr.SetTimes(nil, &now, &now)
	})
}

/* SymbolicLink content */

// setTarget stores the literal, unvalidated symlink target.
func (n *Node) setTarget(target string) {
	n.dataMu.Lock()
	n.data = []byte(target)
	n.dataMu.Unlock()
	n.UpdateAttr(func(attr *fuse.Attr) {
		attr.Size = uint64(len(target))
	})
}

// Target returns the stored symlink target string.
func (n *Node) Target() string {
	n.dataMu.RLock()
	defer n.dataMu.RUnlock()
	return string(n.data)
}

/* Extended attributes */

// SetXattr inserts or overwrites an attribute. Updates ctime.
func (n *Node) SetXattr(name string, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	n.xattrs.Store(name, v)

	now := time.Now()
	n.UpdateAttr(func(attr *fuse.Attr) {
		attr.SetTimes(nil, nil, &now)
	})
}

// Xattr returns the stored attribute value.
func (n *Node) Xattr(name string) ([]byte, bool) {
	return n.xattrs.Load(name)
}

// RemoveXattr deletes the attribute. Removing an absent name is a
// no-op.
func (n *Node) RemoveXattr(name string) {
	if _, existed := n.xattrs.LoadAndDelete(name); !existed {
		return
	}
	now := time.Now()
	n.UpdateAttr(func(attr *fuse.Attr) {
		attr.SetTimes(nil, nil, &now)
	})
}

// XattrNames returns the attribute names in map order.
func (n *Node) XattrNames() []string {
	names := make([]string, 0, n.xattrs.Size())
	n.xattrs.Range(func(name string, _ []byte) bool {
		names = append(names, name)
		return true
	})
	return names
}
