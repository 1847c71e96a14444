package filesystem

import (
	"time"

	"github.com/cndeng/ramfs"
	"github.com/cndeng/ramfs/internal/util"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// The operation surface consumed by the FUSE transport. Every operation
// takes an absolute, slash-rooted path, resolves the nodes it needs up
// front, and only then mutates: a failed operation leaves the tree
// unchanged.

// GetAttr returns a stat snapshot of the node at path.
func (fs *FileSystem) GetAttr(path string) (fuse.Attr, error) {
	node, err := fs.Resolve(path)
	if err != nil {
		return fuse.Attr{}, err
	}
	return node.Stat(), nil
}

// Chmod replaces the permission bits of the node at path.
func (fs *FileSystem) Chmod(path string, mode uint32) error {
	node, err := fs.Resolve(path)
	if err != nil {
		return err
	}
	node.SetMode(mode)
	return nil
}

// Chown sets the owner of the node at path.
func (fs *FileSystem) Chown(path string, uid, gid uint32) error {
	node, err := fs.Resolve(path)
	if err != nil {
		return err
	}
	node.SetOwner(uid, gid)
	return nil
}

// Utimens sets access/modification times of the node at path. Nil
// leaves a field untouched.
func (fs *FileSystem) Utimens(path string, atime, mtime *time.Time) error {
	node, err := fs.Resolve(path)
	if err != nil {
		return err
	}
	node.SetTimes(atime, mtime)
	return nil
}

/* Namespace mutation */

// Mkdir creates a new directory under path's parent. Fails with
// ErrExist when the name is already taken.
func (fs *FileSystem) Mkdir(path string, mode uint32) (*Node, error) {
	logger := util.GetLogger("FS.Mkdir")

	parent, name, err := fs.ResolveParent(path)
	if err != nil || name == "" {
		return nil, orNotFound(err)
	}
	node := fs.newNode(ramfs.Directory, name, mode)
	if !parent.AddChildIfAbsent(node) {
		return nil, ramfs.ErrExist
	}
	parent.Touch(time.Now())
	logger.Debug().Str("path", path).Str("node", node.ID().String()).Msg("Created directory")
	return node, nil
}

// Create creates a new empty regular file under path's parent (mknod).
func (fs *FileSystem) Create(path string, mode uint32) (*Node, error) {
	logger := util.GetLogger("FS.Create")

	parent, name, err := fs.ResolveParent(path)
	if err != nil || name == "" {
		return nil, orNotFound(err)
	}
	node := fs.newNode(ramfs.RegularFile, name, mode)
	if !parent.AddChildIfAbsent(node) {
		return nil, ramfs.ErrExist
	}
	parent.Touch(time.Now())
	logger.Debug().Str("path", path).Str("node", node.ID().String()).Msg("Created file")
	return node, nil
}

// Symlink creates a symbolic link at linkPath storing the literal,
// unresolved target string.
func (fs *FileSystem) Symlink(target, linkPath string) (*Node, error) {
	logger := util.GetLogger("FS.Symlink")

	parent, name, err := fs.ResolveParent(linkPath)
	if err != nil || name == "" {
		return nil, orNotFound(err)
	}
	node := fs.newNode(ramfs.SymbolicLink, name, 0)
	node.setTarget(target)
	if !parent.AddChildIfAbsent(node) {
		return nil, ramfs.ErrExist
	}
	parent.Touch(time.Now())
	logger.Debug().Str("link", linkPath).Str("target", target).Str("node", node.ID().String()).Msg("Created symlink")
	return node, nil
}

// Readlink returns the stored target string of the symlink at path.
func (fs *FileSystem) Readlink(path string) (string, error) {
	node, err := fs.Resolve(path)
	if err != nil {
		return "", err
	}
	if node.Kind() != ramfs.SymbolicLink {
		return "", ramfs.ErrInvalid
	}
	return node.Target(), nil
}

// Unlink removes the node at path from its parent's child collection.
func (fs *FileSystem) Unlink(path string) error {
	logger := util.GetLogger("FS.Unlink")

	parent, name, err := fs.ResolveParent(path)
	if err != nil || name == "" {
		return orNotFound(err)
	}
	node, ok := parent.RemoveChild(name)
	if !ok {
		return ramfs.ErrNotFound
	}
	parent.Touch(time.Now())
	logger.Debug().Str("path", path).Str("node", node.ID().String()).Msg("Unlinked node")
	return nil
}

// Rmdir removes the directory at path. Fails with ErrNotADirectory for
// other kinds and with ErrNotEmpty when children remain.
func (fs *FileSystem) Rmdir(path string) error {
	logger := util.GetLogger("FS.Rmdir")

	parent, name, err := fs.ResolveParent(path)
	if err != nil || name == "" {
		return orNotFound(err)
	}
	node, ok := parent.GetChild(name)
	if !ok {
		return ramfs.ErrNotFound
	}
	if node.Kind() != ramfs.Directory {
		return ramfs.ErrNotADirectory
	}
	if node.ChildCount() > 0 {
		return ramfs.ErrNotEmpty
	}
	parent.RemoveChild(name)
	parent.Touch(time.Now())
	logger.Debug().Str("path", path).Str("node", node.ID().String()).Msg("Removed directory")
	return nil
}

// Rename re-parents the node at oldPath under newPath's parent with
// newPath's base name. The node keeps its identity: content, metadata,
// and ID are untouched. An existing destination is overwritten unless
// it is a non-empty directory.
func (fs *FileSystem) Rename(oldPath, newPath string) error {
	logger := util.GetLogger("FS.Rename")

	oldParent, oldName, err := fs.ResolveParent(oldPath)
	if err != nil || oldName == "" {
		return orNotFound(err)
	}
	node, ok := oldParent.GetChild(oldName)
	if !ok {
		return ramfs.ErrNotFound
	}
	newParent, newName, err := fs.ResolveParent(newPath)
	if err != nil || newName == "" {
		return orNotFound(err)
	}
	// Moving a directory into its own subtree would detach a cycle from
	// the root. Refuse before touching anything.
	for p := newParent; p != nil; p = p.Parent() {
		if p == node {
			return ramfs.ErrInvalid
		}
	}
	if existing, ok := newParent.GetChild(newName); ok {
		if existing == node {
			return nil
		}
		if existing.Kind() == ramfs.Directory && existing.ChildCount() > 0 {
			return ramfs.ErrNotEmpty
		}
		// the remove half of rename-overwrite
		newParent.RemoveChild(newName)
	}

	// A concurrent rename or unlink may have claimed the source already;
	// only the caller that wins the removal gets to re-link the node.
	if _, ok := oldParent.RemoveChild(oldName); !ok {
		return ramfs.ErrNotFound
	}
	node.rename(newName)
	newParent.AddChild(node)
	now := time.Now()
	oldParent.Touch(now)
	newParent.Touch(now)
	logger.Debug().
		Str("old", oldPath).
		Str("new", newPath).
		Str("node", node.ID().String()).
		Msg("Renamed node")
	return nil
}

/* Content I/O */

// Read returns up to size bytes at off from the regular file at path.
func (fs *FileSystem) Read(path string, size int64, off int64) ([]byte, error) {
	node, err := fs.resolveFile(path)
	if err != nil {
		return nil, err
	}
	return node.ReadAt(off, size), nil
}

// Write writes buf at off into the regular file at path, zero-filling
// any gap beyond the current end. Returns bytes written.
func (fs *FileSystem) Write(path string, buf []byte, off int64) (int, error) {
	node, err := fs.resolveFile(path)
	if err != nil {
		return 0, err
	}
	return node.WriteAt(off, buf), nil
}

// Truncate resizes the regular file at path, zero-padding when
// extending.
func (fs *FileSystem) Truncate(path string, size uint64) error {
	node, err := fs.resolveFile(path)
	if err != nil {
		return err
	}
	node.Truncate(size)
	return nil
}

// resolveFile resolves path and guards that the node carries byte
// content.
func (fs *FileSystem) resolveFile(path string) (*Node, error) {
	node, err := fs.Resolve(path)
	if err != nil {
		return nil, err
	}
	switch node.Kind() {
	case ramfs.Directory:
		return nil, ramfs.ErrIsDirectory
	case ramfs.SymbolicLink:
		return nil, ramfs.ErrInvalid
	}
	return node, nil
}

/* Extended attributes */

// SetXAttr inserts or overwrites an attribute on the node at path.
func (fs *FileSystem) SetXAttr(path, name string, value []byte) error {
	node, err := fs.Resolve(path)
	if err != nil {
		return err
	}
	node.SetXattr(name, value)
	return nil
}

// GetXAttr follows the two-phase xattr protocol: size == 0 answers the
// stored value's byte length with no payload; any other size returns
// the value itself.
func (fs *FileSystem) GetXAttr(path, name string, size uint32) ([]byte, uint32, error) {
	node, err := fs.Resolve(path)
	if err != nil {
		return nil, 0, err
	}
	value, ok := node.Xattr(name)
	if !ok {
		return nil, 0, ramfs.ErrNoAttr
	}
	if size == 0 {
		return nil, uint32(len(value)), nil
	}
	return value, uint32(len(value)), nil
}

// ListXAttr follows the same two-phase protocol over the attribute name
// list: size == 0 answers the concatenated length of all names (each
// counted with its NUL separator); any other size returns the names.
func (fs *FileSystem) ListXAttr(path string, size uint32) ([]string, uint32, error) {
	node, err := fs.Resolve(path)
	if err != nil {
		return nil, 0, err
	}
	names := node.XattrNames()
	var total uint32
	for _, name := range names {
		total += uint32(len(name)) + 1
	}
	if size == 0 {
		return nil, total, nil
	}
	return names, total, nil
}

// RemoveXAttr deletes the attribute if present; absence is not an
// error.
func (fs *FileSystem) RemoveXAttr(path, name string) error {
	node, err := fs.Resolve(path)
	if err != nil {
		return err
	}
	node.RemoveXattr(name)
	return nil
}

/* Directory listing */

// DirEntry is one readdir result.
type DirEntry struct {
	Name string
	Mode uint32
	Ino  uint64
}

// ReadDir lists the node at path starting at offset entries in: ".",
// "..", then each child in the directory's (unordered) iteration order.
//
// Quirk kept for transport compatibility: listing a non-directory
// yields a single entry equal to the node's own name rather than
// failing.
func (fs *FileSystem) ReadDir(path string, offset uint64) ([]DirEntry, error) {
	node, err := fs.Resolve(path)
	if err != nil {
		return nil, err
	}

	if node.Kind() != ramfs.Directory {
		entries := []DirEntry{{Name: node.Name(), Mode: node.Stat().Mode, Ino: node.Ino()}}
		if offset >= uint64(len(entries)) {
			return nil, nil
		}
		return entries[offset:], nil
	}

	parent := node.Parent()
	if parent == nil {
		parent = node // root's ".." is the root itself
	}
	entries := make([]DirEntry, 0, node.ChildCount()+2)
	entries = append(entries,
		DirEntry{Name: ".", Mode: DirAttr, Ino: node.Ino()},
		DirEntry{Name: "..", Mode: DirAttr, Ino: parent.Ino()},
	)
	node.RangeChildren(func(name string, child *Node) bool {
		entries = append(entries, DirEntry{Name: name, Mode: child.Stat().Mode, Ino: child.Ino()})
		return true
	})
	if offset >= uint64(len(entries)) {
		return nil, nil
	}
	return entries[offset:], nil
}

// orNotFound keeps "creation inside a missing parent" and "operation on
// the root itself" reported as a plain not-found, matching what the
// transport expects for empty base names.
func orNotFound(err error) error {
	if err != nil {
		return err
	}
	return ramfs.ErrNotFound
}
