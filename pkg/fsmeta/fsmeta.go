// Package fsmeta carries file metadata from sources to destinations.
//
// Metadata falls into two classes. Permissions and timestamps are critical:
// a copy that loses them has failed. Ownership, extended attributes and POSIX
// ACLs are best effort: they regularly fail for unprivileged users or on
// filesystems that do not support them, so those failures are wrapped as
// hints, logged and dropped.
package fsmeta

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/macg4dave/duopane/pkg/hints"
	"github.com/macg4dave/duopane/pkg/plog"
	"github.com/macg4dave/duopane/pkg/util"
)

// Preserver applies source metadata onto destination entries.
type Preserver struct {
	workers int
}

// New creates a preserver that uses up to workers goroutines for tree-wide
// passes. Values below 1 are clamped to 1.
func New(workers int) *Preserver {
	if workers < 1 {
		workers = 1
	}
	return &Preserver{workers: workers}
}

// PreserveFile copies metadata from src onto dst for a single entry.
// Permission or timestamp failures propagate; everything else is logged at
// debug level and dropped.
func (p *Preserver) PreserveFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("could not stat metadata source %s: %w", src, err)
	}

	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("could not set permissions on %s: %w", dst, err)
	}
	mt := info.ModTime()
	if err := os.Chtimes(dst, mt, mt); err != nil {
		return fmt.Errorf("could not set timestamps on %s: %w", dst, err)
	}

	for _, extraErr := range preserveExtras(src, dst) {
		if hints.IsHint(extraErr) {
			plog.Debug("Skipping best-effort metadata", "src", src, "dst", dst, "error", extraErr)
		} else {
			plog.Warn("Unexpected metadata failure", "src", src, "dst", dst, "error", extraErr)
		}
	}
	return nil
}

// PreserveEntry is the tree-pass variant of PreserveFile: every failure is
// best effort, and a missing destination is silently skipped (another worker
// may have replaced or removed it).
func (p *Preserver) PreserveEntry(src, dst string) {
	if _, err := os.Lstat(dst); err != nil {
		return
	}
	if err := p.PreserveFile(src, dst); err != nil {
		plog.Debug("Skipping metadata for entry", "src", src, "dst", dst, "error", err)
	}
}

// PreserveTree walks srcRoot and applies each entry's metadata onto the
// corresponding path under dstRoot. The whole pass is best effort; the only
// returned errors are context cancellation and a failure to read the source
// tree itself. Symlinks and special files are skipped.
func (p *Preserver) PreserveTree(ctx context.Context, srcRoot, dstRoot string) error {
	// Collect relative keys with an explicit worklist; the tree can be
	// arbitrarily deep.
	rels := []string{""}
	stack := []string{""}
	for len(stack) > 0 {
		rel := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(util.DenormalizedAbsPath(srcRoot, rel))
		if err != nil {
			return fmt.Errorf("could not read source directory: %w", err)
		}
		for _, entry := range entries {
			childRel := util.NormalizePath(filepath.Join(util.DenormalizePath(rel), entry.Name()))
			switch {
			case entry.IsDir():
				rels = append(rels, childRel)
				stack = append(stack, childRel)
			case entry.Type().IsRegular():
				rels = append(rels, childRel)
			}
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, rel := range rels {
		rel := rel
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p.PreserveEntry(
				util.DenormalizedAbsPath(srcRoot, rel),
				util.DenormalizedAbsPath(dstRoot, rel),
			)
			return nil
		})
	}
	return g.Wait()
}
