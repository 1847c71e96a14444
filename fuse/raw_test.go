package fuse

import (
	"errors"
	"syscall"
	"testing"

	"github.com/cndeng/ramfs"
	"github.com/cndeng/ramfs/config"
	"github.com/cndeng/ramfs/filesystem"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRaw(t *testing.T) *Raw {
	t.Helper()
	cfg := config.NewDefaultConfig()
	return NewRaw(filesystem.NewFS(cfg), cfg)
}

func rootHeader() *gofuse.InHeader {
	return &gofuse.InHeader{NodeId: gofuse.FUSE_ROOT_ID}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want gofuse.Status
	}{
		{"nil", nil, gofuse.OK},
		{"not_found", ramfs.ErrNotFound, gofuse.ENOENT},
		{"not_a_directory", ramfs.ErrNotADirectory, gofuse.ENOTDIR},
		{"is_directory", ramfs.ErrIsDirectory, gofuse.EISDIR},
		{"exist", ramfs.ErrExist, gofuse.Status(syscall.EEXIST)},
		{"not_empty", ramfs.ErrNotEmpty, gofuse.Status(syscall.ENOTEMPTY)},
		{"no_attr", ramfs.ErrNoAttr, gofuse.ENODATA},
		{"invalid", ramfs.ErrInvalid, gofuse.EINVAL},
		{"unknown", errors.New("boom"), gofuse.EIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status(tt.err))
		})
	}
}

func TestRaw_MkdirLookupGetAttr(t *testing.T) {
	r := newTestRaw(t)

	var entry gofuse.EntryOut
	st := r.Mkdir(nil, &gofuse.MkdirIn{InHeader: *rootHeader(), Mode: 0o755}, "dir", &entry)
	require.Equal(t, gofuse.OK, st)
	assert.NotZero(t, entry.NodeId)
	assert.Equal(t, filesystem.DirAttr|0o755, entry.Attr.Mode)

	var looked gofuse.EntryOut
	st = r.Lookup(nil, rootHeader(), "dir", &looked)
	require.Equal(t, gofuse.OK, st)
	assert.Equal(t, entry.NodeId, looked.NodeId)

	var attr gofuse.AttrOut
	st = r.GetAttr(nil, &gofuse.GetAttrIn{InHeader: gofuse.InHeader{NodeId: entry.NodeId}}, &attr)
	require.Equal(t, gofuse.OK, st)
	assert.Equal(t, entry.NodeId, attr.Attr.Ino)
}

func TestRaw_Lookup_Missing(t *testing.T) {
	r := newTestRaw(t)

	var entry gofuse.EntryOut
	st := r.Lookup(nil, rootHeader(), "nope", &entry)
	assert.Equal(t, gofuse.ENOENT, st)
	// the miss carries an entry timeout so the kernel caches the
	// negative dentry
	assert.True(t, entry.EntryValid > 0 || entry.EntryValidNsec > 0)

	// unregistered parent
	st = r.Lookup(nil, &gofuse.InHeader{NodeId: 9999}, "x", &entry)
	assert.Equal(t, gofuse.ENOENT, st)
}

func TestRaw_Lookup_Missing_NoNegativeCache(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.NegativeTimeout = 0
	r := NewRaw(filesystem.NewFS(cfg), cfg)

	var entry gofuse.EntryOut
	st := r.Lookup(nil, rootHeader(), "nope", &entry)
	assert.Equal(t, gofuse.ENOENT, st)
	assert.Zero(t, entry.EntryValid)
	assert.Zero(t, entry.EntryValidNsec)
}

func TestRaw_CreateWriteRead(t *testing.T) {
	r := newTestRaw(t)

	var created gofuse.CreateOut
	st := r.Create(nil, &gofuse.CreateIn{InHeader: *rootHeader(), Mode: 0o644}, "f.txt", &created)
	require.Equal(t, gofuse.OK, st)
	require.NotZero(t, created.Fh)

	written, st := r.Write(nil, &gofuse.WriteIn{Fh: created.Fh, Offset: 0}, []byte("hello"))
	require.Equal(t, gofuse.OK, st)
	assert.Equal(t, uint32(5), written)

	buf := make([]byte, 5)
	res, st := r.Read(nil, &gofuse.ReadIn{Fh: created.Fh, Offset: 0, Size: 5}, buf)
	require.Equal(t, gofuse.OK, st)
	data, _ := res.Bytes(buf)
	assert.Equal(t, []byte("hello"), data)

	r.Release(nil, &gofuse.ReleaseIn{Fh: created.Fh})
	_, st = r.Read(nil, &gofuse.ReadIn{Fh: created.Fh, Size: 1}, buf)
	assert.Equal(t, gofuse.EBADF, st)
}

func TestRaw_Create_AppliesUmask(t *testing.T) {
	r := newTestRaw(t)

	var created gofuse.CreateOut
	st := r.Create(nil, &gofuse.CreateIn{InHeader: *rootHeader(), Mode: 0o666, Umask: 0o022}, "f.txt", &created)
	require.Equal(t, gofuse.OK, st)
	assert.Equal(t, filesystem.FileAttr|0o644, created.Attr.Mode)
}

func TestRaw_Rename_IntoOwnSubtree(t *testing.T) {
	r := newTestRaw(t)

	var outer gofuse.EntryOut
	require.Equal(t, gofuse.OK, r.Mkdir(nil, &gofuse.MkdirIn{InHeader: *rootHeader(), Mode: 0o755}, "a", &outer))
	var inner gofuse.EntryOut
	require.Equal(t, gofuse.OK, r.Mkdir(nil, &gofuse.MkdirIn{InHeader: gofuse.InHeader{NodeId: outer.NodeId}, Mode: 0o755}, "b", &inner))

	st := r.Rename(nil, &gofuse.RenameIn{InHeader: *rootHeader(), Newdir: inner.NodeId}, "a", "c")
	assert.Equal(t, gofuse.EINVAL, st)

	// the source is still reachable under its old name
	var looked gofuse.EntryOut
	assert.Equal(t, gofuse.OK, r.Lookup(nil, rootHeader(), "a", &looked))
	assert.Equal(t, outer.NodeId, looked.NodeId)
}

func TestRaw_OpenDirectoryFails(t *testing.T) {
	r := newTestRaw(t)

	var out gofuse.OpenOut
	st := r.Open(nil, &gofuse.OpenIn{InHeader: *rootHeader()}, &out)
	assert.Equal(t, gofuse.EISDIR, st)
}

func TestRaw_UnlinkRmdir(t *testing.T) {
	r := newTestRaw(t)

	var entry gofuse.EntryOut
	require.Equal(t, gofuse.OK, r.Mkdir(nil, &gofuse.MkdirIn{InHeader: *rootHeader(), Mode: 0o755}, "dir", &entry))
	var created gofuse.CreateOut
	require.Equal(t, gofuse.OK, r.Create(nil, &gofuse.CreateIn{InHeader: gofuse.InHeader{NodeId: entry.NodeId}, Mode: 0o644}, "f", &created))

	assert.Equal(t, gofuse.Status(syscall.ENOTEMPTY), r.Rmdir(nil, rootHeader(), "dir"))
	assert.Equal(t, gofuse.OK, r.Unlink(nil, &gofuse.InHeader{NodeId: entry.NodeId}, "f"))
	assert.Equal(t, gofuse.OK, r.Rmdir(nil, rootHeader(), "dir"))
	assert.Equal(t, gofuse.ENOENT, r.Rmdir(nil, rootHeader(), "dir"))
}

func TestRaw_SymlinkReadlink(t *testing.T) {
	r := newTestRaw(t)

	var entry gofuse.EntryOut
	st := r.Symlink(nil, rootHeader(), "/a/b.txt", "link", &entry)
	require.Equal(t, gofuse.OK, st)

	target, st := r.Readlink(nil, &gofuse.InHeader{NodeId: entry.NodeId})
	require.Equal(t, gofuse.OK, st)
	assert.Equal(t, []byte("/a/b.txt"), target)
}

func TestRaw_XAttrProtocol(t *testing.T) {
	r := newTestRaw(t)

	var created gofuse.CreateOut
	require.Equal(t, gofuse.OK, r.Create(nil, &gofuse.CreateIn{InHeader: *rootHeader(), Mode: 0o644}, "f", &created))
	ino := created.EntryOut.NodeId

	st := r.SetXAttr(nil, &gofuse.SetXAttrIn{InHeader: gofuse.InHeader{NodeId: ino}}, "user.tag", []byte("v1"))
	require.Equal(t, gofuse.OK, st)

	// size query
	sz, st := r.GetXAttr(nil, &gofuse.InHeader{NodeId: ino}, "user.tag", nil)
	require.Equal(t, gofuse.OK, st)
	assert.Equal(t, uint32(2), sz)

	// value fetch
	dest := make([]byte, 2)
	sz, st = r.GetXAttr(nil, &gofuse.InHeader{NodeId: ino}, "user.tag", dest)
	require.Equal(t, gofuse.OK, st)
	assert.Equal(t, uint32(2), sz)
	assert.Equal(t, []byte("v1"), dest)

	// undersized buffer
	small := make([]byte, 1)
	_, st = r.GetXAttr(nil, &gofuse.InHeader{NodeId: ino}, "user.tag", small)
	assert.Equal(t, gofuse.ERANGE, st)

	// list: size query then names
	sz, st = r.ListXAttr(nil, &gofuse.InHeader{NodeId: ino}, nil)
	require.Equal(t, gofuse.OK, st)
	assert.Equal(t, uint32(len("user.tag")+1), sz)
	listBuf := make([]byte, sz)
	_, st = r.ListXAttr(nil, &gofuse.InHeader{NodeId: ino}, listBuf)
	require.Equal(t, gofuse.OK, st)
	assert.Equal(t, append([]byte("user.tag"), 0), listBuf)

	assert.Equal(t, gofuse.ENODATA, func() gofuse.Status {
		_, st := r.GetXAttr(nil, &gofuse.InHeader{NodeId: ino}, "user.absent", nil)
		return st
	}())

	assert.Equal(t, gofuse.OK, r.RemoveXAttr(nil, &gofuse.InHeader{NodeId: ino}, "user.tag"))
}

func TestRaw_Rename(t *testing.T) {
	r := newTestRaw(t)

	var created gofuse.CreateOut
	require.Equal(t, gofuse.OK, r.Create(nil, &gofuse.CreateIn{InHeader: *rootHeader(), Mode: 0o644}, "old", &created))

	st := r.Rename(nil, &gofuse.RenameIn{InHeader: *rootHeader(), Newdir: gofuse.FUSE_ROOT_ID}, "old", "new")
	require.Equal(t, gofuse.OK, st)

	var entry gofuse.EntryOut
	assert.Equal(t, gofuse.ENOENT, r.Lookup(nil, rootHeader(), "old", &entry))
	assert.Equal(t, gofuse.OK, r.Lookup(nil, rootHeader(), "new", &entry))
}

func TestRaw_SetAttr_Truncate(t *testing.T) {
	r := newTestRaw(t)

	var created gofuse.CreateOut
	require.Equal(t, gofuse.OK, r.Create(nil, &gofuse.CreateIn{InHeader: *rootHeader(), Mode: 0o644}, "f", &created))
	_, st := r.Write(nil, &gofuse.WriteIn{Fh: created.Fh}, []byte("hello"))
	require.Equal(t, gofuse.OK, st)

	in := &gofuse.SetAttrIn{}
	in.NodeId = created.EntryOut.NodeId
	in.Valid = gofuse.FATTR_SIZE
	in.Size = 2
	var out gofuse.AttrOut
	require.Equal(t, gofuse.OK, r.SetAttr(nil, in, &out))
	assert.Equal(t, uint64(2), out.Attr.Size)
}
