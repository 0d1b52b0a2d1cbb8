package archive

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/macg4dave/duopane/pkg/fsop"
	"github.com/macg4dave/duopane/pkg/plog"
	"github.com/macg4dave/duopane/pkg/util"
)

// Extract unpacks archivePath into destDir, creating it when missing. Entry
// names are confined to destDir; an entry that would escape it fails the
// whole extraction. File payloads land via the atomic primitives, so a
// cancelled or failed extraction leaves no half-written files, only whole
// ones.
func (a *Archiver) Extract(ctx context.Context, archivePath, destDir string) (retErr error) {
	format, err := FormatForPath(archivePath)
	if err != nil {
		return err
	}
	plog.Notice("EXTRACT", "archive", archivePath, "dest", destDir, "format", format.String())

	f, err := os.Open(archivePath)
	if err != nil {
		return fsop.NewPathError("open archive", archivePath, "", err)
	}
	defer f.Close()

	bufReader := bufio.NewReaderSize(f, int(a.ioBufferSize))

	var tarSource io.Reader
	if format == TarZst {
		dec, err := zstd.NewReader(bufReader)
		if err != nil {
			return fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer dec.Close()
		tarSource = dec
	} else {
		gz, err := pgzip.NewReader(bufReader)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		tarSource = gz
	}

	if err := os.MkdirAll(destDir, util.DefaultDirPerms); err != nil {
		return fsop.NewPathError("create destination", "", destDir, err)
	}

	tr := tar.NewReader(tarSource)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive %s: %w", archivePath, err)
		}

		name := filepath.Clean(filepath.FromSlash(header.Name))
		if name == "." {
			continue
		}
		if !filepath.IsLocal(name) {
			return fmt.Errorf("archive entry %q escapes the destination", header.Name)
		}
		target := filepath.Join(destDir, name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, util.WithUserWritePermission(header.FileInfo().Mode().Perm())); err != nil {
				return fsop.NewPathError("create directory", "", target, err)
			}
			a.mets.AddDirsCreated(1)

		case tar.TypeReg:
			written, err := a.prims.WriteFrom(target, tr, header.FileInfo().Mode().Perm())
			if err != nil {
				return err
			}
			// WriteFrom keeps the owner-write bit while the file lands;
			// restore the exact archived mode now that it is in place.
			if err := os.Chmod(target, header.FileInfo().Mode().Perm()); err != nil {
				return fsop.NewPathError("chmod entry", "", target, err)
			}
			mt := header.ModTime
			if err := os.Chtimes(target, mt, mt); err != nil {
				plog.Debug("Could not set extracted file times", "path", target, "error", err)
			}
			a.mets.AddFilesCopied(1)
			a.mets.AddBytesWritten(written)
			a.mets.AddEntriesProcessed(1)

		case tar.TypeSymlink:
			// The link target must also stay inside the destination.
			linkRel := filepath.Join(filepath.Dir(name), filepath.FromSlash(header.Linkname))
			if filepath.IsAbs(header.Linkname) || !filepath.IsLocal(linkRel) {
				plog.Notice("SKIP", "entry", header.Name, "reason", "symlink target escapes destination")
				continue
			}
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return fsop.NewPathError("replace symlink", "", target, err)
			}
			if err := util.EnsureParentDir(target); err != nil {
				return fsop.NewPathError("prepare parent", "", target, err)
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fsop.NewPathError("create symlink", "", target, err)
			}
			a.mets.AddEntriesProcessed(1)

		default:
			plog.Notice("SKIP", "entry", header.Name, "reason", "unsupported tar entry type")
		}
	}
}
