// Package fuse adapts the core operation surface to the low-level FUSE
// wire protocol. It is a thin transport: every kernel request becomes a
// path-addressed dispatcher call (or a handle-addressed node call for
// open files) and every error kind maps to a platform errno.
package fuse

import (
	"errors"
	"syscall"
	"time"

	"github.com/cndeng/ramfs"
	"github.com/cndeng/ramfs/config"
	"github.com/cndeng/ramfs/filesystem"
	"github.com/cndeng/ramfs/internal/util"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
)

// Raw implements the low-level FUSE wire protocol against the in-memory
// tree. Unimplemented operations fall through to the embedded default
// (ENOSYS).
// See https://www.man7.org/linux/man-pages/man4/fuse.4.html
type Raw struct {
	gofuse.RawFileSystem
	fs      *filesystem.FileSystem
	handles *filesystem.HandleTable
	cfg     *config.Config
	server  *gofuse.Server
}

func NewRaw(fs *filesystem.FileSystem, cfg *config.Config) *Raw {
	return &Raw{
		RawFileSystem: gofuse.NewDefaultRawFileSystem(),
		fs:            fs,
		handles:       filesystem.NewHandleTable(),
		cfg:           cfg,
	}
}

func (r *Raw) String() string {
	return "ramfs"
}

func (r *Raw) Init(s *gofuse.Server) {
	logger := util.GetLogger("Fuse.Init")
	logger.Debug().Msg("FUSE initialized")
	r.server = s
}

func (r *Raw) OnUnmount() {
	logger := util.GetLogger("Fuse.OnUnmount")
	logger.Info().Msg("FUSE unmounted")
}

// status maps dispatcher error kinds onto platform error numbers. The
// core never sees an errno.
func status(err error) gofuse.Status {
	switch {
	case err == nil:
		return gofuse.OK
	case errors.Is(err, ramfs.ErrNotFound):
		return gofuse.ENOENT
	case errors.Is(err, ramfs.ErrNotADirectory):
		return gofuse.ENOTDIR
	case errors.Is(err, ramfs.ErrIsDirectory):
		return gofuse.EISDIR
	case errors.Is(err, ramfs.ErrExist):
		return gofuse.Status(syscall.EEXIST)
	case errors.Is(err, ramfs.ErrNotEmpty):
		return gofuse.Status(syscall.ENOTEMPTY)
	case errors.Is(err, ramfs.ErrNoAttr):
		return gofuse.ENODATA
	case errors.Is(err, ramfs.ErrInvalid):
		return gofuse.EINVAL
	default:
		return gofuse.EIO
	}
}

// path rebuilds the absolute path of a kernel-addressed node. Fails
// with ENOENT when the node was never registered or has been detached.
func (r *Raw) path(nodeid uint64) (string, gofuse.Status) {
	node, ok := r.fs.NodeByIno(nodeid)
	if !ok {
		return "", gofuse.ENOENT
	}
	rel, err := node.Path()
	if err != nil {
		return "", gofuse.ENOENT
	}
	return "/" + rel, gofuse.OK
}

// childPath builds the absolute path of name under a kernel-addressed
// directory.
func (r *Raw) childPath(nodeid uint64, name string) (string, gofuse.Status) {
	dir, st := r.path(nodeid)
	if st != gofuse.OK {
		return "", st
	}
	if dir == "/" {
		return "/" + name, gofuse.OK
	}
	return dir + "/" + name, gofuse.OK
}

func (r *Raw) fillEntry(node *filesystem.Node, out *gofuse.EntryOut) {
	r.fs.Register(node)
	out.NodeId = node.Ino()
	out.Attr = node.Stat()
	out.SetAttrTimeout(seconds(r.cfg.AttrTimeout))
	out.SetEntryTimeout(seconds(r.cfg.EntryTimeout))
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Access reports whether the caller may use the node. Real
// access-control semantics are out of scope; everything is permitted.
func (r *Raw) Access(cancel <-chan struct{}, input *gofuse.AccessIn) gofuse.Status {
	return gofuse.OK
}

// Lookup retrieves a child node by name and registers it so later
// requests can address it by inode number.
func (r *Raw) Lookup(cancel <-chan struct{}, header *gofuse.InHeader, name string, out *gofuse.EntryOut) gofuse.Status {
	path, st := r.childPath(header.NodeId, name)
	if st != gofuse.OK {
		return st
	}
	node, err := r.fs.Resolve(path)
	if err != nil {
		// Let the kernel cache the miss so repeated lookups of the same
		// missing name stay out of userspace until the timeout lapses.
		if errors.Is(err, ramfs.ErrNotFound) && r.cfg.NegativeTimeout > 0 {
			out.SetEntryTimeout(seconds(r.cfg.NegativeTimeout))
		}
		return status(err)
	}
	r.fillEntry(node, out)
	return gofuse.OK
}

// Forget is called when the kernel discards entries from its dentry
// cache; it must not do I/O.
func (r *Raw) Forget(nodeid, nlookup uint64) {
	r.fs.Forget(nodeid)
}

func (r *Raw) GetAttr(cancel <-chan struct{}, input *gofuse.GetAttrIn, out *gofuse.AttrOut) gofuse.Status {
	path, st := r.path(input.NodeId)
	if st != gofuse.OK {
		return st
	}
	attr, err := r.fs.GetAttr(path)
	if err != nil {
		return status(err)
	}
	out.Attr = attr
	out.SetTimeout(seconds(r.cfg.AttrTimeout))
	return gofuse.OK
}

// SetAttr demultiplexes the kernel's combined metadata update into the
// individual dispatcher operations its valid-bits name.
func (r *Raw) SetAttr(cancel <-chan struct{}, input *gofuse.SetAttrIn, out *gofuse.AttrOut) gofuse.Status {
	path, st := r.path(input.NodeId)
	if st != gofuse.OK {
		return st
	}

	if mode, ok := input.GetMode(); ok {
		if err := r.fs.Chmod(path, mode); err != nil {
			return status(err)
		}
	}
	uid, hasUid := input.GetUID()
	gid, hasGid := input.GetGID()
	if hasUid || hasGid {
		attr, err := r.fs.GetAttr(path)
		if err != nil {
			return status(err)
		}
		if !hasUid {
			uid = attr.Owner.Uid
		}
		if !hasGid {
			gid = attr.Owner.Gid
		}
		if err := r.fs.Chown(path, uid, gid); err != nil {
			return status(err)
		}
	}
	if size, ok := input.GetSize(); ok {
		if err := r.fs.Truncate(path, size); err != nil {
			return status(err)
		}
	}
	atime, hasAtime := input.GetATime()
	mtime, hasMtime := input.GetMTime()
	if hasAtime || hasMtime {
		var a, m *time.Time
		if hasAtime {
			a = &atime
		}
		if hasMtime {
			m = &mtime
		}
		if err := r.fs.Utimens(path, a, m); err != nil {
			return status(err)
		}
	}

	attr, err := r.fs.GetAttr(path)
	if err != nil {
		return status(err)
	}
	out.Attr = attr
	out.SetTimeout(seconds(r.cfg.AttrTimeout))
	return gofuse.OK
}

/* Namespace */

func (r *Raw) Mkdir(cancel <-chan struct{}, input *gofuse.MkdirIn, name string, out *gofuse.EntryOut) gofuse.Status {
	path, st := r.childPath(input.NodeId, name)
	if st != gofuse.OK {
		return st
	}
	node, err := r.fs.Mkdir(path, input.Mode&^input.Umask)
	if err != nil {
		return status(err)
	}
	r.fillEntry(node, out)
	return gofuse.OK
}

func (r *Raw) Mknod(cancel <-chan struct{}, input *gofuse.MknodIn, name string, out *gofuse.EntryOut) gofuse.Status {
	// only regular files are supported; device nodes have no meaning here
	if ft := input.Mode & syscall.S_IFMT; ft != 0 && ft != syscall.S_IFREG {
		return gofuse.EINVAL
	}
	path, st := r.childPath(input.NodeId, name)
	if st != gofuse.OK {
		return st
	}
	node, err := r.fs.Create(path, (input.Mode&^input.Umask)&^uint32(syscall.S_IFMT))
	if err != nil {
		return status(err)
	}
	r.fillEntry(node, out)
	return gofuse.OK
}

func (r *Raw) Create(cancel <-chan struct{}, input *gofuse.CreateIn, name string, out *gofuse.CreateOut) gofuse.Status {
	path, st := r.childPath(input.NodeId, name)
	if st != gofuse.OK {
		return st
	}
	node, err := r.fs.Create(path, (input.Mode&^input.Umask)&^uint32(syscall.S_IFMT))
	if err != nil {
		return status(err)
	}
	r.fillEntry(node, &out.EntryOut)
	out.Fh = r.handles.Open(node)
	return gofuse.OK
}

func (r *Raw) Unlink(cancel <-chan struct{}, header *gofuse.InHeader, name string) gofuse.Status {
	path, st := r.childPath(header.NodeId, name)
	if st != gofuse.OK {
		return st
	}
	return status(r.fs.Unlink(path))
}

func (r *Raw) Rmdir(cancel <-chan struct{}, header *gofuse.InHeader, name string) gofuse.Status {
	path, st := r.childPath(header.NodeId, name)
	if st != gofuse.OK {
		return st
	}
	return status(r.fs.Rmdir(path))
}

func (r *Raw) Rename(cancel <-chan struct{}, input *gofuse.RenameIn, oldName string, newName string) gofuse.Status {
	oldPath, st := r.childPath(input.NodeId, oldName)
	if st != gofuse.OK {
		return st
	}
	newPath, st := r.childPath(input.Newdir, newName)
	if st != gofuse.OK {
		return st
	}
	return status(r.fs.Rename(oldPath, newPath))
}

func (r *Raw) Symlink(cancel <-chan struct{}, header *gofuse.InHeader, pointedTo string, linkName string, out *gofuse.EntryOut) gofuse.Status {
	path, st := r.childPath(header.NodeId, linkName)
	if st != gofuse.OK {
		return st
	}
	node, err := r.fs.Symlink(pointedTo, path)
	if err != nil {
		return status(err)
	}
	r.fillEntry(node, out)
	return gofuse.OK
}

func (r *Raw) Readlink(cancel <-chan struct{}, header *gofuse.InHeader) ([]byte, gofuse.Status) {
	path, st := r.path(header.NodeId)
	if st != gofuse.OK {
		return nil, st
	}
	target, err := r.fs.Readlink(path)
	if err != nil {
		return nil, status(err)
	}
	return []byte(target), gofuse.OK
}

/* File I/O */

func (r *Raw) Open(cancel <-chan struct{}, input *gofuse.OpenIn, out *gofuse.OpenOut) gofuse.Status {
	node, ok := r.fs.NodeByIno(input.NodeId)
	if !ok {
		return gofuse.ENOENT
	}
	if node.Kind() == ramfs.Directory {
		return gofuse.EISDIR
	}
	out.Fh = r.handles.Open(node)
	return gofuse.OK
}

// Read serves open handles directly from the node object so reads keep
// working when the file is renamed while open.
func (r *Raw) Read(cancel <-chan struct{}, input *gofuse.ReadIn, buf []byte) (gofuse.ReadResult, gofuse.Status) {
	node, ok := r.handles.Get(input.Fh)
	if !ok {
		return nil, gofuse.EBADF
	}
	data := node.ReadAt(int64(input.Offset), int64(input.Size))
	return gofuse.ReadResultData(data), gofuse.OK
}

func (r *Raw) Write(cancel <-chan struct{}, input *gofuse.WriteIn, data []byte) (uint32, gofuse.Status) {
	node, ok := r.handles.Get(input.Fh)
	if !ok {
		return 0, gofuse.EBADF
	}
	written := node.WriteAt(int64(input.Offset), data)
	return uint32(written), gofuse.OK
}

func (r *Raw) Flush(cancel <-chan struct{}, input *gofuse.FlushIn) gofuse.Status {
	return gofuse.OK
}

func (r *Raw) Fsync(cancel <-chan struct{}, input *gofuse.FsyncIn) gofuse.Status {
	// memory-only: nothing to sync
	return gofuse.OK
}

func (r *Raw) Release(cancel <-chan struct{}, input *gofuse.ReleaseIn) {
	r.handles.Release(input.Fh)
}

/* Directories */

func (r *Raw) OpenDir(cancel <-chan struct{}, input *gofuse.OpenIn, out *gofuse.OpenOut) gofuse.Status {
	if _, ok := r.fs.NodeByIno(input.NodeId); !ok {
		return gofuse.ENOENT
	}
	return gofuse.OK
}

func (r *Raw) ReadDir(cancel <-chan struct{}, input *gofuse.ReadIn, out *gofuse.DirEntryList) gofuse.Status {
	path, st := r.path(input.NodeId)
	if st != gofuse.OK {
		return st
	}
	entries, err := r.fs.ReadDir(path, input.Offset)
	if err != nil {
		return status(err)
	}
	for i, e := range entries {
		ok := out.AddDirEntry(gofuse.DirEntry{
			Name: e.Name,
			Mode: e.Mode,
			Ino:  e.Ino,
			Off:  input.Offset + uint64(i) + 1,
		})
		if !ok {
			break
		}
	}
	return gofuse.OK
}

func (r *Raw) ReadDirPlus(cancel <-chan struct{}, input *gofuse.ReadIn, out *gofuse.DirEntryList) gofuse.Status {
	path, st := r.path(input.NodeId)
	if st != gofuse.OK {
		return st
	}
	entries, err := r.fs.ReadDir(path, input.Offset)
	if err != nil {
		return status(err)
	}
	for i, e := range entries {
		entryOut := out.AddDirLookupEntry(gofuse.DirEntry{
			Name: e.Name,
			Mode: e.Mode,
			Ino:  e.Ino,
			Off:  input.Offset + uint64(i) + 1,
		})
		if entryOut == nil {
			break
		}
		if e.Name == "." || e.Name == ".." {
			continue // never filled; the kernel ignores their attrs
		}
		if node, ok := r.fs.NodeByIno(e.Ino); ok {
			r.fillEntry(node, entryOut)
		}
	}
	return gofuse.OK
}

func (r *Raw) ReleaseDir(input *gofuse.ReleaseIn) {}

func (r *Raw) FsyncDir(cancel <-chan struct{}, input *gofuse.FsyncIn) gofuse.Status {
	return gofuse.OK
}

func (r *Raw) StatFs(cancel <-chan struct{}, input *gofuse.InHeader, out *gofuse.StatfsOut) gofuse.Status {
	out.Bsize = 4096
	out.NameLen = 255
	return gofuse.OK
}

/* Extended attributes */

func (r *Raw) GetXAttr(cancel <-chan struct{}, header *gofuse.InHeader, attr string, dest []byte) (uint32, gofuse.Status) {
	path, st := r.path(header.NodeId)
	if st != gofuse.OK {
		return 0, st
	}
	value, sz, err := r.fs.GetXAttr(path, attr, uint32(len(dest)))
	if err != nil {
		return 0, status(err)
	}
	if len(dest) == 0 {
		return sz, gofuse.OK
	}
	if int(sz) > len(dest) {
		return sz, gofuse.ERANGE
	}
	copy(dest, value)
	return sz, gofuse.OK
}

func (r *Raw) ListXAttr(cancel <-chan struct{}, header *gofuse.InHeader, dest []byte) (uint32, gofuse.Status) {
	path, st := r.path(header.NodeId)
	if st != gofuse.OK {
		return 0, st
	}
	names, sz, err := r.fs.ListXAttr(path, uint32(len(dest)))
	if err != nil {
		return 0, status(err)
	}
	if len(dest) == 0 {
		return sz, gofuse.OK
	}
	if int(sz) > len(dest) {
		return sz, gofuse.ERANGE
	}
	off := 0
	for _, name := range names {
		off += copy(dest[off:], name)
		dest[off] = 0
		off++
	}
	return sz, gofuse.OK
}

func (r *Raw) SetXAttr(cancel <-chan struct{}, input *gofuse.SetXAttrIn, attr string, data []byte) gofuse.Status {
	path, st := r.path(input.NodeId)
	if st != gofuse.OK {
		return st
	}
	return status(r.fs.SetXAttr(path, attr, data))
}

func (r *Raw) RemoveXAttr(cancel <-chan struct{}, header *gofuse.InHeader, attr string) gofuse.Status {
	path, st := r.path(header.NodeId)
	if st != gofuse.OK {
		return st
	}
	return status(r.fs.RemoveXAttr(path, attr))
}
