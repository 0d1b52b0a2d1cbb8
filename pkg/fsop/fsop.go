// Package fsop defines the operation descriptors and the error taxonomy
// shared by the engine packages. It has no behavior of its own; every layer
// from the atomic primitives up to the coordinator speaks these types.
package fsop

import "fmt"

// Kind identifies what a bulk operation does.
type Kind int

const (
	OpCopy Kind = iota
	OpMove
	OpRename
	OpDelete
	OpCreateFile
	OpCreateDir
	OpPack
	OpExtract
)

// String returns the human-readable name used in logs and progress titles.
func (k Kind) String() string {
	switch k {
	case OpCopy:
		return "copy"
	case OpMove:
		return "move"
	case OpRename:
		return "rename"
	case OpDelete:
		return "delete"
	case OpCreateFile:
		return "create-file"
	case OpCreateDir:
		return "create-dir"
	case OpPack:
		return "pack"
	case OpExtract:
		return "extract"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Operation describes one unit of submitted work: a kind, one or more
// absolute source paths, and a destination. Delete has no destination;
// CreateFile and CreateDir have no sources. For Rename, Dest holds the new
// name within the source's directory rather than a full path.
type Operation struct {
	Kind      Kind
	Sources   []string
	Dest      string
	Recursive bool
}

// Title returns the progress title shown while the operation runs.
func (o Operation) Title() string {
	if n := len(o.Sources); n > 1 {
		return fmt.Sprintf("%s (%d items)", o.Kind, n)
	}
	return o.Kind.String()
}
