// Package fsatomic implements the write-to-temp-then-rename primitives every
// destructive filesystem operation in the engine is built on. A destination
// path only ever changes through a rename of a fully written temporary
// artifact, so a reader observes either the complete old content or the
// complete new content, never a torn intermediate state.
package fsatomic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/macg4dave/duopane/pkg/fsop"
	"github.com/macg4dave/duopane/pkg/plog"
	"github.com/macg4dave/duopane/pkg/pool"
	"github.com/macg4dave/duopane/pkg/util"
)

// TempPrefix marks every temporary artifact the primitives create. Leftover
// files with this prefix after a crash are safe to delete.
const TempPrefix = ".duopane-tmp."

// tempSeq disambiguates artifacts created within the same nanosecond by the
// same process.
var tempSeq atomic.Uint64

// MetadataPreserver is the slice of the metadata layer the primitives need:
// after a copy commits, the destination must receive the source's metadata.
type MetadataPreserver interface {
	PreserveFile(src, dst string) error
}

// TreeCopier handles the directory branch of RenameOrCopy. The tree
// synchronizer registers itself here after construction; keeping it behind an
// interface avoids a dependency cycle between the layers.
type TreeCopier interface {
	CopyTree(ctx context.Context, src, dst string) error
}

// Primitives bundles the atomic operations with their collaborators. All
// methods are safe for concurrent use.
type Primitives struct {
	meta    MetadataPreserver
	faults  FaultInjector
	bufPool *pool.FixedBufferPool
	trees   TreeCopier
}

// New creates the primitive layer. meta may be nil to skip metadata
// preservation (the archive extractor applies header metadata itself).
// faults may be nil for the production no-op injector.
func New(meta MetadataPreserver, faults FaultInjector, bufferSize int64) *Primitives {
	if faults == nil {
		faults = NoopInjector{}
	}
	return &Primitives{
		meta:    meta,
		faults:  faults,
		bufPool: pool.NewFixedBuffer(bufferSize),
	}
}

// SetTreeCopier installs the directory-copy fallback used by RenameOrCopy.
// Called once during wiring, before any operation runs.
func (p *Primitives) SetTreeCopier(tc TreeCopier) {
	p.trees = tc
}

// tempArtifact creates an exclusively owned temporary file next to the final
// destination, so the committing rename never crosses a filesystem boundary.
// The name combines wall-clock time, the process id and a per-process
// sequence number; a collision with a concurrent creator just retries.
func tempArtifact(dir string) (*os.File, error) {
	for {
		name := filepath.Join(dir, fmt.Sprintf("%s%d-%d-%d",
			TempPrefix, time.Now().UnixNano(), os.Getpid(), tempSeq.Add(1)))
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, util.PermUserRead|util.PermUserWrite)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
}

// WriteFile atomically replaces target with data. The parent directory is
// created when missing.
func (p *Primitives) WriteFile(target string, data []byte) error {
	if err := util.EnsureParentDir(target); err != nil {
		return fsop.NewPathError("prepare parent", "", target, err)
	}

	tmp, err := tempArtifact(filepath.Dir(target))
	if err != nil {
		return fsop.NewPathError("create temp", "", target, err)
	}
	tempFilePath := tmp.Name()

	// CRITICAL: the artifact must never survive a failed call.
	defer func() {
		if tempFilePath != "" {
			if rmErr := os.Remove(tempFilePath); rmErr != nil && !os.IsNotExist(rmErr) {
				plog.Warn("Could not remove temporary file", "path", tempFilePath, "error", rmErr)
			}
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fsop.NewPathError("write temp", "", target, err)
	}
	if err := tmp.Chmod(util.DefaultFilePerms); err != nil {
		tmp.Close()
		return fsop.NewPathError("chmod temp", "", target, err)
	}
	if err := tmp.Close(); err != nil {
		return fsop.NewPathError("close temp", "", target, err)
	}

	if err := p.faults.BeforeRename(tempFilePath, target); err != nil {
		return fsop.NewPathError("rename temp", "", target, err)
	}
	if err := os.Rename(tempFilePath, target); err != nil {
		return fsop.NewPathError("rename temp", "", target, err)
	}

	tempFilePath = "" // success, nothing to clean up
	return nil
}

// WriteFrom atomically replaces target with everything read from r, giving
// the final file the requested permissions. It returns the number of bytes
// written. The archive extractor routes entry payloads through here so a
// partially extracted file never lands under its final name.
func (p *Primitives) WriteFrom(target string, r io.Reader, perm os.FileMode) (int64, error) {
	if err := util.EnsureParentDir(target); err != nil {
		return 0, fsop.NewPathError("prepare parent", "", target, err)
	}

	tmp, err := tempArtifact(filepath.Dir(target))
	if err != nil {
		return 0, fsop.NewPathError("create temp", "", target, err)
	}
	tempFilePath := tmp.Name()

	defer func() {
		if tempFilePath != "" {
			if rmErr := os.Remove(tempFilePath); rmErr != nil && !os.IsNotExist(rmErr) {
				plog.Warn("Could not remove temporary file", "path", tempFilePath, "error", rmErr)
			}
		}
	}()

	bufPtr := p.bufPool.Get()
	written, err := io.CopyBuffer(tmp, r, *bufPtr)
	p.bufPool.Put(bufPtr)
	if err != nil {
		tmp.Close()
		return 0, fsop.NewPathError("write temp", "", target, err)
	}

	if err := tmp.Chmod(util.WithUserWritePermission(perm)); err != nil {
		tmp.Close()
		return 0, fsop.NewPathError("chmod temp", "", target, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fsop.NewPathError("close temp", "", target, err)
	}

	if err := p.faults.BeforeRename(tempFilePath, target); err != nil {
		return 0, fsop.NewPathError("rename temp", "", target, err)
	}
	if err := os.Rename(tempFilePath, target); err != nil {
		return 0, fsop.NewPathError("rename temp", "", target, err)
	}

	tempFilePath = ""
	return written, nil
}

// CopyFile copies the regular file src onto dst atomically and preserves the
// source's metadata on the result. It returns the number of payload bytes
// written. An existing dst is replaced in a single rename.
func (p *Primitives) CopyFile(src, dst string) (int64, error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return 0, fsop.NewPathError("open source", src, dst, err)
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return 0, fsop.NewPathError("stat source", src, dst, err)
	}

	if err := util.EnsureParentDir(dst); err != nil {
		return 0, fsop.NewPathError("prepare parent", src, dst, err)
	}

	tmp, err := tempArtifact(filepath.Dir(dst))
	if err != nil {
		return 0, fsop.NewPathError("create temp", src, dst, err)
	}
	tempFilePath := tmp.Name()

	defer func() {
		if tempFilePath != "" {
			if rmErr := os.Remove(tempFilePath); rmErr != nil && !os.IsNotExist(rmErr) {
				plog.Warn("Could not remove temporary file", "path", tempFilePath, "error", rmErr)
			}
		}
	}()

	// Pre-allocate the full size to reduce fragmentation on large copies.
	// Best-effort: not every filesystem supports it.
	if size := srcInfo.Size(); size > 0 {
		if err := tmp.Truncate(size); err != nil {
			plog.Debug("Could not pre-allocate temporary file", "path", tempFilePath, "error", err)
		}
	}

	bufPtr := p.bufPool.Get()
	written, err := io.CopyBuffer(tmp, srcFile, *bufPtr)
	p.bufPool.Put(bufPtr)
	if err != nil {
		tmp.Close()
		return 0, fsop.NewPathError("copy", src, dst, err)
	}

	// Apply the source permissions before the rename so the destination
	// never appears with the artifact's private mode. The metadata
	// preserver refines this afterwards.
	if err := tmp.Chmod(util.WithUserWritePermission(srcInfo.Mode().Perm())); err != nil {
		tmp.Close()
		return 0, fsop.NewPathError("chmod temp", src, dst, err)
	}

	if err := tmp.Close(); err != nil {
		return 0, fsop.NewPathError("close temp", src, dst, err)
	}

	if err := p.faults.BeforeRename(tempFilePath, dst); err != nil {
		return 0, fsop.NewPathError("rename temp", src, dst, err)
	}
	if err := os.Rename(tempFilePath, dst); err != nil {
		return 0, fsop.NewPathError("rename temp", src, dst, err)
	}
	tempFilePath = ""

	if p.meta != nil {
		if err := p.meta.PreserveFile(src, dst); err != nil {
			return written, fsop.NewPathError("preserve metadata", src, dst, err)
		}
	}
	return written, nil
}

// CreateFile creates an empty file at target with default permissions. It
// fails with fsop.ErrAlreadyExists when anything already occupies the path;
// the caller decides whether that becomes a conflict prompt.
func (p *Primitives) CreateFile(target string) error {
	if err := util.EnsureParentDir(target); err != nil {
		return fsop.NewPathError("prepare parent", "", target, err)
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, util.DefaultFilePerms)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create %s: %w", target, fsop.ErrAlreadyExists)
		}
		return fsop.NewPathError("create", "", target, err)
	}
	return f.Close()
}

// CreateDir creates a directory at target, including missing ancestors. An
// already existing path of any type fails with fsop.ErrAlreadyExists.
func (p *Primitives) CreateDir(target string) error {
	if _, err := os.Lstat(target); err == nil {
		return fmt.Errorf("create %s: %w", target, fsop.ErrAlreadyExists)
	}
	if err := os.MkdirAll(target, util.DefaultDirPerms); err != nil {
		return fsop.NewPathError("mkdir", "", target, err)
	}
	return nil
}

// RenameOrCopy moves src to dst. It first attempts a plain rename; when that
// fails (typically because src and dst sit on different filesystems) it
// falls back to copy-then-remove: files through CopyFile, directories through
// the registered TreeCopier. On a successful fallback the original rename
// error is irrelevant and discarded.
func (p *Primitives) RenameOrCopy(ctx context.Context, src, dst string) error {
	renameErr := p.faults.BeforeRename(src, dst)
	if renameErr == nil {
		renameErr = os.Rename(src, dst)
	}
	if renameErr == nil {
		return nil
	}

	plog.Debug("Rename failed, falling back to copy and remove",
		"src", src, "dst", dst, "error", renameErr)

	info, err := os.Lstat(src)
	if err != nil {
		return fsop.NewPathError("stat source", src, dst, err)
	}

	switch {
	case info.IsDir():
		if p.trees == nil {
			return fsop.NewPathError("move", src, dst, errors.New("no tree copier registered for directory fallback"))
		}
		if err := p.trees.CopyTree(ctx, src, dst); err != nil {
			return err
		}
	case info.Mode().IsRegular():
		if _, err := p.CopyFile(src, dst); err != nil {
			return err
		}
	default:
		return fsop.NewPathError("move", src, dst,
			fmt.Errorf("unsupported entry type %s", info.Mode().Type()))
	}

	if err := os.RemoveAll(src); err != nil {
		return fsop.NewPathError("remove source after copy", src, dst, err)
	}
	return nil
}
