package filesystem

import (
	"fmt"
	"sync"
	"testing"

	"github.com/cndeng/ramfs"
	"github.com/cndeng/ramfs/config"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) *FileSystem {
	t.Helper()
	return NewFS(config.NewDefaultConfig())
}

func TestNewFS(t *testing.T) {
	fs := newTestFS(t)

	root := fs.Root()
	require.NotNil(t, root)
	assert.True(t, root.IsRoot())
	assert.Equal(t, ramfs.Directory, root.Kind())
	assert.Equal(t, uint64(fuse.FUSE_ROOT_ID), root.Ino())

	// Root is registered for the FUSE session
	got, ok := fs.NodeByIno(fuse.FUSE_ROOT_ID)
	require.True(t, ok)
	assert.Equal(t, root, got)
}

func TestFileSystem_Resolve_Root(t *testing.T) {
	fs := newTestFS(t)

	node, err := fs.Resolve("/")
	require.NoError(t, err)
	assert.Equal(t, fs.Root(), node)

	// "/" resolves to root for any tree state
	_, err = fs.Mkdir("/a", 0o755)
	require.NoError(t, err)
	node, err = fs.Resolve("/")
	require.NoError(t, err)
	assert.Equal(t, fs.Root(), node)
}

func TestFileSystem_Resolve_Nested(t *testing.T) {
	fs := newTestFS(t)
	_, err := fs.Mkdir("/a", 0o755)
	require.NoError(t, err)
	_, err = fs.Mkdir("/a/b", 0o755)
	require.NoError(t, err)
	created, err := fs.Create("/a/b/c.txt", 0o644)
	require.NoError(t, err)

	node, err := fs.Resolve("/a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, created, node)
}

func TestFileSystem_Resolve_NotFound(t *testing.T) {
	fs := newTestFS(t)

	_, err := fs.Resolve("/missing")
	assert.ErrorIs(t, err, ramfs.ErrNotFound)

	_, err = fs.Resolve("/missing/deeper")
	assert.ErrorIs(t, err, ramfs.ErrNotFound)
}

func TestFileSystem_Resolve_FileMidPath(t *testing.T) {
	fs := newTestFS(t)
	_, err := fs.Create("/file.txt", 0o644)
	require.NoError(t, err)

	_, err = fs.Resolve("/file.txt/child")
	assert.ErrorIs(t, err, ramfs.ErrNotADirectory)
}

func TestFileSystem_Resolve_NeverCreates(t *testing.T) {
	fs := newTestFS(t)

	_, err := fs.Resolve("/a/b/c")
	require.ErrorIs(t, err, ramfs.ErrNotFound)

	// resolution is read-only: nothing was created along the way
	_, err = fs.Resolve("/a")
	assert.ErrorIs(t, err, ramfs.ErrNotFound)
}

func TestFileSystem_ResolveParent(t *testing.T) {
	fs := newTestFS(t)
	dir, err := fs.Mkdir("/a", 0o755)
	require.NoError(t, err)

	parent, name, err := fs.ResolveParent("/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, dir, parent)
	assert.Equal(t, "b.txt", name)

	// At the root the parent is the root itself
	parent, name, err = fs.ResolveParent("/top")
	require.NoError(t, err)
	assert.Equal(t, fs.Root(), parent)
	assert.Equal(t, "top", name)

	// "/" has no final component
	parent, name, err = fs.ResolveParent("/")
	require.NoError(t, err)
	assert.Equal(t, fs.Root(), parent)
	assert.Equal(t, "", name)
}

func TestFileSystem_ResolveParent_Errors(t *testing.T) {
	fs := newTestFS(t)
	_, err := fs.Create("/file.txt", 0o644)
	require.NoError(t, err)

	_, _, err = fs.ResolveParent("/missing/b.txt")
	assert.ErrorIs(t, err, ramfs.ErrNotFound)

	_, _, err = fs.ResolveParent("/file.txt/b.txt")
	assert.ErrorIs(t, err, ramfs.ErrNotADirectory)
}

func TestSplitPath(t *testing.T) {
	assert.Empty(t, splitPath("/"))
	assert.Empty(t, splitPath(""))
	assert.Equal(t, []string{"a"}, splitPath("/a"))
	assert.Equal(t, []string{"a", "b", "c"}, splitPath("/a/b/c"))
	assert.Equal(t, []string{"a", "b"}, splitPath("/a/b/"))
}

func TestFileSystem_InoAllocationMonotonic(t *testing.T) {
	fs := newTestFS(t)
	const workers = 16

	var wg sync.WaitGroup
	inos := make([]uint64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			node, err := fs.Mkdir(fmt.Sprintf("/dir-%d", i), 0o755)
			assert.NoError(t, err)
			inos[i] = node.Ino()
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool, workers)
	for _, ino := range inos {
		assert.Greater(t, ino, uint64(fuse.FUSE_ROOT_ID))
		assert.False(t, seen[ino], "ino %d allocated twice", ino)
		seen[ino] = true
	}
}

func TestFileSystem_RegisterForget(t *testing.T) {
	fs := newTestFS(t)
	node, err := fs.Create("/file.txt", 0o644)
	require.NoError(t, err)

	fs.Register(node)
	got, ok := fs.NodeByIno(node.Ino())
	require.True(t, ok)
	assert.Equal(t, node, got)

	fs.Forget(node.Ino())
	_, ok = fs.NodeByIno(node.Ino())
	assert.False(t, ok)

	// Root is never forgotten
	fs.Forget(fuse.FUSE_ROOT_ID)
	_, ok = fs.NodeByIno(fuse.FUSE_ROOT_ID)
	assert.True(t, ok)
}
