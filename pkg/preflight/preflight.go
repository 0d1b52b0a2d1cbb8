// Package preflight validates operations before the coordinator accepts
// them. Rejecting bad input up front keeps the worker loop free of cases
// that could otherwise fail halfway through a bulk operation.
package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/macg4dave/duopane/pkg/fsop"
	"github.com/macg4dave/duopane/pkg/util"
)

// Validate checks an operation for structural problems: missing sources, an
// unusable destination, or a copy/move of a directory into its own subtree.
// It performs reads only and never modifies the filesystem.
func Validate(op fsop.Operation) error {
	switch op.Kind {
	case fsop.OpCopy, fsop.OpMove, fsop.OpPack:
		if len(op.Sources) == 0 {
			return errors.New("operation has no sources")
		}
		if op.Dest == "" {
			return fmt.Errorf("validate %s: %w", op.Kind, fsop.ErrMissingFilename)
		}
		if op.Kind != fsop.OpPack && len(op.Sources) > 1 {
			info, err := os.Stat(op.Dest)
			if err != nil || !info.IsDir() {
				return fmt.Errorf("validate %s: destination %s must be an existing directory for multiple sources", op.Kind, op.Dest)
			}
		}
		for _, src := range op.Sources {
			if err := checkSource(src); err != nil {
				return err
			}
			if op.Kind != fsop.OpPack {
				if err := checkNotSelfNested(src, op.Dest); err != nil {
					return err
				}
			}
		}
		return nil

	case fsop.OpRename:
		if len(op.Sources) != 1 {
			return errors.New("rename takes exactly one source")
		}
		if err := checkSource(op.Sources[0]); err != nil {
			return err
		}
		if op.Dest == "" || !util.HasFilename(op.Dest) || strings.ContainsRune(op.Dest, os.PathSeparator) {
			return fmt.Errorf("validate rename to %q: %w", op.Dest, fsop.ErrMissingFilename)
		}
		return nil

	case fsop.OpDelete:
		if len(op.Sources) == 0 {
			return errors.New("operation has no sources")
		}
		for _, src := range op.Sources {
			if err := checkSource(src); err != nil {
				return err
			}
		}
		return nil

	case fsop.OpCreateFile, fsop.OpCreateDir:
		if op.Dest == "" || !util.HasFilename(op.Dest) {
			return fmt.Errorf("validate %s: %w", op.Kind, fsop.ErrMissingFilename)
		}
		return nil

	case fsop.OpExtract:
		if len(op.Sources) != 1 {
			return errors.New("extract takes exactly one archive")
		}
		if err := checkSource(op.Sources[0]); err != nil {
			return err
		}
		if op.Dest == "" {
			return fmt.Errorf("validate extract: %w", fsop.ErrMissingFilename)
		}
		return nil

	default:
		return fmt.Errorf("unknown operation kind %d", int(op.Kind))
	}
}

func checkSource(src string) error {
	if src == "" {
		return errors.New("empty source path")
	}
	if _, err := os.Lstat(src); err != nil {
		return fsop.NewPathError("validate source", src, "", err)
	}
	return nil
}

// checkNotSelfNested rejects copying or moving a directory into itself or a
// descendant, which would otherwise recurse forever or destroy the source.
func checkNotSelfNested(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil || !info.IsDir() {
		return nil
	}

	absSrc, err := filepath.Abs(src)
	if err != nil {
		return nil
	}
	target := util.ResolveTarget(dst, filepath.Base(src))
	absDst, err := filepath.Abs(target)
	if err != nil {
		return nil
	}

	rel, err := filepath.Rel(absSrc, absDst)
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return fsop.NewPathError("validate", src, dst,
			errors.New("destination is inside the source directory"))
	}
	return nil
}
