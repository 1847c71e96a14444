// Package ramfs defines the public contract of an ephemeral, fully
// in-memory hierarchical filesystem served over FUSE.
//
// All state is transient for the process lifetime: there is no durable
// storage, no on-disk format, and no consistency beyond the single
// process. The core node tree and its operation surface live in the
// filesystem package; the fuse package adapts that surface to the
// kernel wire protocol and the server package mounts it.
package ramfs
