package ramfs

// NodeKind tags the content variant a node carries: a byte buffer, a
// child collection, or a symlink target. Every operation checks the
// kind explicitly before touching content.
type NodeKind uint8

const (
	Directory NodeKind = iota
	RegularFile
	SymbolicLink
)

func (k NodeKind) String() string {
	switch k {
	case Directory:
		return "directory"
	case RegularFile:
		return "file"
	case SymbolicLink:
		return "symlink"
	default:
		return "unknown"
	}
}
