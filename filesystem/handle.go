package filesystem

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// HandleTable hands out stable uint64 handles to open nodes. A handle
// addresses the node object, not its path, so open files keep working
// across renames of themselves or any ancestor.
type HandleTable struct {
	lastFH  atomic.Uint64
	handles *xsync.Map[uint64, *Node]
}

func NewHandleTable() *HandleTable {
	return &HandleTable{
		handles: xsync.NewMap[uint64, *Node](),
	}
}

// Open allocates a new handle for node.
func (t *HandleTable) Open(node *Node) uint64 {
	fh := t.lastFH.Add(1)
	t.handles.Store(fh, node)
	return fh
}

// Get returns the node an open handle addresses.
func (t *HandleTable) Get(fh uint64) (*Node, bool) {
	return t.handles.Load(fh)
}

// Release drops the handle. Releasing an unknown handle is a no-op.
func (t *HandleTable) Release(fh uint64) {
	t.handles.Delete(fh)
}

// Len returns the number of open handles.
func (t *HandleTable) Len() int {
	return t.handles.Size()
}
