package ramfs

import "errors"

// Error kinds returned by the filesystem operation surface. The FUSE
// transport maps each kind to its platform errno; nothing below it
// inspects error strings.
var (
	// ErrNotFound reports that a required path segment, node, or
	// parent does not resolve.
	ErrNotFound = errors.New("no such entry")

	// ErrNotADirectory reports that an operation required a directory
	// at a given path but found a different kind.
	ErrNotADirectory = errors.New("not a directory")

	// ErrIsDirectory reports content I/O attempted on a directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrExist reports a sibling name collision on creation.
	ErrExist = errors.New("entry already exists")

	// ErrNotEmpty reports removal of a directory that still has
	// children.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrInvalid reports an operation applied to a node kind that
	// cannot serve it, e.g. readlink on a regular file.
	ErrInvalid = errors.New("invalid operation for node kind")

	// ErrNoAttr reports a missing extended attribute on an otherwise
	// resolvable node.
	ErrNoAttr = errors.New("no such attribute")
)
