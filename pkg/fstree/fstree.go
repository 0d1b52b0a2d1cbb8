// Package fstree copies, moves and removes whole directory trees on top of
// the atomic primitives. The walk is breadth-first over an explicit worklist,
// directories are created before any file is copied, and file payloads move
// in parallel.
package fstree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/macg4dave/duopane/pkg/fsatomic"
	"github.com/macg4dave/duopane/pkg/fsmeta"
	"github.com/macg4dave/duopane/pkg/fsop"
	"github.com/macg4dave/duopane/pkg/metrics"
	"github.com/macg4dave/duopane/pkg/plog"
	"github.com/macg4dave/duopane/pkg/util"
)

// Syncer performs tree-level operations. All methods are safe for concurrent
// use, though the coordinator only ever runs one bulk operation at a time.
type Syncer struct {
	prims    *fsatomic.Primitives
	meta     *fsmeta.Preserver
	mets     metrics.Metrics
	workers  int
	failFast bool
	onEntry  func(path string)
}

// New creates a tree syncer and registers it as the directory fallback for
// the primitive layer's RenameOrCopy.
func New(prims *fsatomic.Primitives, meta *fsmeta.Preserver, mets metrics.Metrics, workers int, failFast bool) *Syncer {
	if workers < 1 {
		workers = 1
	}
	if mets == nil {
		mets = &metrics.NoopMetrics{}
	}
	s := &Syncer{
		prims:    prims,
		meta:     meta,
		mets:     mets,
		workers:  workers,
		failFast: failFast,
	}
	prims.SetTreeCopier(s)
	return s
}

// SetProgressFunc installs a callback invoked once per processed entry
// (created directory or copied file). Must be set before work starts.
func (s *Syncer) SetProgressFunc(fn func(path string)) {
	s.onEntry = fn
}

func (s *Syncer) progressed(path string) {
	s.mets.AddEntriesProcessed(1)
	if s.onEntry != nil {
		s.onEntry(path)
	}
}

// dirItem and fileItem are the walk results, keyed by normalized relative
// path under the tree root.
type dirItem struct {
	rel  string
	mode os.FileMode
}

type fileItem struct {
	rel string
}

// collectTree walks root iteratively and classifies its entries. Symlinks
// and special files below the root are skipped with a notice; resolving them
// by value at every depth would silently explode the copy.
func collectTree(root string, mets metrics.Metrics) ([]dirItem, []fileItem, error) {
	rootInfo, err := os.Stat(root)
	if err != nil {
		return nil, nil, fsop.NewPathError("stat tree root", root, "", err)
	}
	if !rootInfo.IsDir() {
		return nil, nil, fsop.NewPathError("walk", root, "", errors.New("not a directory"))
	}

	dirs := []dirItem{{rel: "", mode: rootInfo.Mode().Perm()}}
	var files []fileItem

	stack := []string{""}
	for len(stack) > 0 {
		rel := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(util.DenormalizedAbsPath(root, rel))
		if err != nil {
			return nil, nil, fsop.NewPathError("read directory", util.DenormalizedAbsPath(root, rel), "", err)
		}
		for _, entry := range entries {
			childRel := util.NormalizePath(filepath.Join(util.DenormalizePath(rel), entry.Name()))
			switch {
			case entry.IsDir():
				info, err := entry.Info()
				if err != nil {
					return nil, nil, fsop.NewPathError("stat", util.DenormalizedAbsPath(root, childRel), "", err)
				}
				dirs = append(dirs, dirItem{rel: childRel, mode: info.Mode().Perm()})
				stack = append(stack, childRel)
			case entry.Type().IsRegular():
				files = append(files, fileItem{rel: childRel})
			default:
				plog.Notice("SKIP", "path", util.DenormalizedAbsPath(root, childRel),
					"reason", "unsupported entry type", "type", entry.Type().String())
				mets.AddFilesSkipped(1)
			}
		}
	}
	return dirs, files, nil
}

// CountTree returns the number of entries a tree copy of root would process,
// for progress totals. The count matches the copy's classification exactly.
func CountTree(root string) (int64, error) {
	dirs, files, err := collectTree(root, &metrics.NoopMetrics{})
	if err != nil {
		return 0, err
	}
	return int64(len(dirs) + len(files)), nil
}

// CopyTree copies the directory src to dst.
//
// The copy proceeds in three phases: (1) the source is walked and classified
// up front, (2) the full directory skeleton is created in sorted order so
// every file copy finds its parent in place, (3) file payloads are copied in
// parallel through the atomic primitives. A best-effort metadata pass over
// the whole tree runs last, after directory modification times have stopped
// changing.
func (s *Syncer) CopyTree(ctx context.Context, src, dst string) error {
	dirs, files, err := collectTree(src, s.mets)
	if err != nil {
		return err
	}

	// Sorting normalized keys puts every parent before its children.
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].rel < dirs[j].rel })

	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := util.DenormalizedAbsPath(dst, d.rel)
		if err := os.MkdirAll(target, util.WithUserWritePermission(d.mode)); err != nil {
			return fsop.NewPathError("mkdir", "", target, err)
		}
		s.mets.AddDirsCreated(1)
		s.progressed(target)
	}

	var (
		errMu    sync.Mutex
		softErrs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, f := range files {
		f := f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			srcPath := util.DenormalizedAbsPath(src, f.rel)
			dstPath := util.DenormalizedAbsPath(dst, f.rel)
			written, err := s.prims.CopyFile(srcPath, dstPath)
			if err != nil {
				if s.failFast {
					return err
				}
				plog.Warn("Could not copy file", "src", srcPath, "error", err)
				errMu.Lock()
				softErrs = append(softErrs, err)
				errMu.Unlock()
				return nil
			}
			s.mets.AddFilesCopied(1)
			s.mets.AddBytesWritten(written)
			s.progressed(dstPath)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(softErrs) > 0 {
		return fmt.Errorf("tree copy completed with %d failed files: %w", len(softErrs), errors.Join(softErrs...))
	}

	if s.meta != nil {
		if err := s.meta.PreserveTree(ctx, src, dst); err != nil {
			return err
		}
	}
	return nil
}

// CopyPath copies a single source (file or directory) onto the final
// destination path dst. A top-level symlink is resolved by value and its
// target copied; the caller sees what the link pointed at, not the link.
func (s *Syncer) CopyPath(ctx context.Context, src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return fsop.NewPathError("stat source", src, dst, err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		resolved, err := filepath.EvalSymlinks(src)
		if err != nil {
			return fsop.NewPathError("resolve symlink", src, dst, err)
		}
		src = resolved
		if info, err = os.Lstat(src); err != nil {
			return fsop.NewPathError("stat symlink target", src, dst, err)
		}
	}

	switch {
	case info.IsDir():
		return s.CopyTree(ctx, src, dst)
	case info.Mode().IsRegular():
		written, err := s.prims.CopyFile(src, dst)
		if err != nil {
			return err
		}
		s.mets.AddFilesCopied(1)
		s.mets.AddBytesWritten(written)
		s.progressed(dst)
		return nil
	default:
		return fsop.NewPathError("copy", src, dst,
			fmt.Errorf("unsupported entry type %s", info.Mode().Type()))
	}
}

// MovePath moves src onto the final destination path dst, via rename when
// possible and copy-then-remove otherwise.
func (s *Syncer) MovePath(ctx context.Context, src, dst string) error {
	if err := s.prims.RenameOrCopy(ctx, src, dst); err != nil {
		return err
	}
	s.progressed(dst)
	return nil
}

// RenamePath gives the entry at path a new name within its directory.
func (s *Syncer) RenamePath(ctx context.Context, path, newName string) error {
	target := filepath.Join(filepath.Dir(path), newName)
	if newName == "" || !util.HasFilename(target) || filepath.Base(target) != newName {
		return fmt.Errorf("rename %s to %q: %w", path, newName, fsop.ErrMissingFilename)
	}
	return s.MovePath(ctx, path, target)
}

// RemovePath deletes the entry at path; directories are removed recursively.
func (s *Syncer) RemovePath(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Lstat(path)
	if err != nil {
		return fsop.NewPathError("stat", path, "", err)
	}
	if info.IsDir() {
		if err := os.RemoveAll(path); err != nil {
			return fsop.NewPathError("remove tree", path, "", err)
		}
		s.mets.AddDirsDeleted(1)
	} else {
		if err := os.Remove(path); err != nil {
			return fsop.NewPathError("remove", path, "", err)
		}
		s.mets.AddFilesDeleted(1)
	}
	s.progressed(path)
	return nil
}

var _ fsatomic.TreeCopier = (*Syncer)(nil)
