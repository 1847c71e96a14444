package server

import (
	"github.com/cndeng/ramfs/config"
	"github.com/cndeng/ramfs/filesystem"
	rfuse "github.com/cndeng/ramfs/fuse"
	"github.com/cndeng/ramfs/internal/util"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Ramfs contains the core filesystem state and operations with abstractions
// over the underlying FUSE wire protocol implementation
type Ramfs struct {
	*filesystem.FileSystem
	cfg    *config.Config
	server *fuse.Server
}

// New creates a Ramfs instance given your config.
func New(cfg *config.Config) *Ramfs {
	return &Ramfs{
		filesystem.NewFS(cfg),
		cfg,
		nil,
	}
}

// Serve mounts and serves the filesystem at the given mountPoint.
func (fs *Ramfs) Serve(mountPoint string) error {
	raw := rfuse.NewRaw(fs.FileSystem, fs.cfg)
	opts := fs.cfg.MountOptions
	slogger := util.NewLogLogger("FuseServer", fs.cfg.LogLvl)
	srv, err := fuse.NewServer(raw, mountPoint, &fuse.MountOptions{
		Name:       opts.Name,
		FsName:     opts.FsName,
		AllowOther: opts.AllowOther,
		MaxWrite:   fs.cfg.MaxWrite,
		Debug:      opts.Debug || fs.cfg.LogLvl == util.TraceLevel,
		Logger:     slogger,
	})
	if err != nil {
		return err
	}
	fs.server = srv

	go srv.Serve()
	return srv.WaitMount()
}

// ServeAsync mounts in the background and reports the mount result on
// the returned channel.
func (fs *Ramfs) ServeAsync(mountPoint string) <-chan error {
	done := make(chan error, 1)

	go func() {
		done <- fs.Serve(mountPoint)
		close(done)
	}()

	return done
}

// Unmount cleanly unmounts the filesystem.
func (fs *Ramfs) Unmount() error {
	if fs.server == nil {
		return nil
	}
	return fs.server.Unmount()
}
