// Package archive packs panel selections into tar.gz/tar.zst archives and
// extracts them again. Archives are committed the same way file copies are:
// written to a temporary artifact and renamed into place.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/macg4dave/duopane/pkg/fsatomic"
	"github.com/macg4dave/duopane/pkg/fsop"
	"github.com/macg4dave/duopane/pkg/limiter"
	"github.com/macg4dave/duopane/pkg/metrics"
	"github.com/macg4dave/duopane/pkg/plog"
	"github.com/macg4dave/duopane/pkg/pool"
	"github.com/macg4dave/duopane/pkg/util"
)

// readAheadPoolMin and readAheadPoolMax bound the bucketed buffer pool for
// whole-file read-ahead. Files above the max are streamed instead.
const (
	readAheadPoolMin = 4096
	readAheadPoolMax = 16 << 20
)

// Archiver packs and extracts archives. Safe for concurrent use, though the
// coordinator runs one operation at a time.
type Archiver struct {
	format  Format
	level   Level
	workers int

	ioBufferPool *pool.FixedBufferPool
	ioBufferSize int64

	readAheadLimiter *limiter.Memory
	readAheadPool    *pool.BucketedBufferPool

	prims *fsatomic.Primitives
	mets  metrics.Metrics
}

// New creates an archiver. format applies when a pack destination carries no
// recognized extension. Extraction writes entry payloads through prims so
// partially extracted files never land under their final names. Zero values
// select defaults: NumCPU workers, 1 MiB I/O buffers, 64 MiB of read-ahead.
func New(prims *fsatomic.Primitives, format Format, level Level, workers int, ioBufferSize, readAheadLimit int64, mets metrics.Metrics) *Archiver {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if ioBufferSize <= 0 {
		ioBufferSize = 1 << 20
	}
	if readAheadLimit <= 0 {
		readAheadLimit = 64 << 20
	}
	if mets == nil {
		mets = &metrics.NoopMetrics{}
	}
	return &Archiver{
		format:           format,
		level:            level,
		workers:          workers,
		ioBufferPool:     pool.NewFixedBuffer(ioBufferSize),
		ioBufferSize:     ioBufferSize,
		readAheadLimiter: limiter.NewMemory(readAheadLimit),
		readAheadPool:    pool.NewBucketedBufferPool(readAheadPoolMin, readAheadPoolMax),
		prims:            prims,
		mets:             mets,
	}
}

// packItem is one entry headed for the tar writer.
type packItem struct {
	absPath string
	name    string // path inside the archive, always forward-slashed
	info    os.FileInfo
}

// packJob is the per-call pipeline state: a producer walking the sources and
// workers funneling payloads into the mutex-serialized tar writer.
type packJob struct {
	a      *Archiver
	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	tw *tar.Writer

	items chan *packItem
	errs  chan error
	wg    sync.WaitGroup
}

// Pack writes the given sources into a new archive at archivePath. The
// format is inferred from the filename; a destination without a recognized
// extension gets the configured default format and its canonical extension.
// Directory sources are archived recursively under their base name; file
// sources under their own name.
func (a *Archiver) Pack(ctx context.Context, sources []string, archivePath string) (retErr error) {
	format, err := FormatForPath(archivePath)
	if err != nil {
		format = a.format
		archivePath += format.Ext()
	}
	plog.Notice("PACK", "archive", archivePath, "format", format.String(), "items", len(sources))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := util.EnsureParentDir(archivePath); err != nil {
		return fsop.NewPathError("prepare parent", "", archivePath, err)
	}

	// 1. Create the temporary artifact next to the final path.
	trgF, err := os.CreateTemp(filepath.Dir(archivePath), fsatomic.TempPrefix+"*")
	if err != nil {
		return fsop.NewPathError("create temp archive", "", archivePath, err)
	}
	tempTrgPath := trgF.Name()

	defer func() {
		if retErr != nil {
			trgF.Close()
			os.Remove(tempTrgPath)
		}
	}()

	// 2. Write the archive content.
	if err := a.writeArchive(ctx, cancel, format, trgF, sources); err != nil {
		return err
	}

	// 3. Close explicitly before the rename.
	if err := trgF.Close(); err != nil {
		return fsop.NewPathError("close temp archive", "", archivePath, err)
	}

	// 4. Atomic rename.
	if err := os.Rename(tempTrgPath, archivePath); err != nil {
		return fsop.NewPathError("rename temp archive", "", archivePath, err)
	}
	return nil
}

func (a *Archiver) writeArchive(ctx context.Context, cancel context.CancelFunc, format Format, dst io.Writer, sources []string) (retErr error) {
	bufWriter := bufio.NewWriterSize(dst, int(a.ioBufferSize))

	var compressedWriter io.WriteCloser
	if format == TarZst {
		var encoderLevel zstd.EncoderLevel
		switch a.level {
		case Fastest:
			encoderLevel = zstd.SpeedFastest
		case Better:
			encoderLevel = zstd.SpeedBetterCompression
		case Best:
			encoderLevel = zstd.SpeedBestCompression
		default:
			encoderLevel = zstd.SpeedDefault
		}
		zstdWriter, err := zstd.NewWriter(bufWriter, zstd.WithEncoderLevel(encoderLevel))
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressedWriter = zstdWriter
	} else {
		var lvl int
		switch a.level {
		case Fastest:
			lvl = pgzip.BestSpeed
		case Better:
			lvl = 6 // good balance
		case Best:
			lvl = pgzip.BestCompression
		default:
			lvl = pgzip.DefaultCompression
		}
		pgzipWriter, err := pgzip.NewWriterLevel(bufWriter, lvl)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		compressedWriter = pgzipWriter
	}

	job := &packJob{
		a:      a,
		ctx:    ctx,
		cancel: cancel,
		tw:     tar.NewWriter(compressedWriter),
		items:  make(chan *packItem, a.workers*4),
		errs:   make(chan error, 1),
	}

	// Close in reverse layering order; any close failure poisons the run.
	defer func() {
		if err := job.tw.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("tar writer close failed: %w", err)
		}
		if err := compressedWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("compressed writer close failed: %w", err)
		}
		if err := bufWriter.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("buffer flush failed: %w", err)
		}
	}()

	// 1. Start the workers (consumers).
	for i := 0; i < a.workers; i++ {
		job.wg.Add(1)
		go job.worker()
	}

	// 2. Produce items from every source.
	go job.produce(sources)

	// 3. Wait for all payloads to land.
	job.wg.Wait()

	// 4. Surface the first captured error, then cancellation.
	select {
	case err := <-job.errs:
		return err
	default:
	}
	return ctx.Err()
}

// fail records the first error and stops the pipeline.
func (j *packJob) fail(err error) {
	select {
	case j.errs <- err:
	default:
	}
	j.cancel()
}

func (j *packJob) produce(sources []string) {
	defer close(j.items)
	for _, src := range sources {
		info, err := os.Lstat(src)
		if err != nil {
			j.fail(fsop.NewPathError("stat pack source", src, "", err))
			return
		}
		base := filepath.Base(src)

		if !info.IsDir() {
			if !j.emit(&packItem{absPath: src, name: util.NormalizePath(base), info: info}) {
				return
			}
			continue
		}

		walkErr := filepath.WalkDir(src, func(absPath string, d os.DirEntry, walkErr error) error {
			if err := j.ctx.Err(); err != nil {
				return err
			}
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return fmt.Errorf("failed to get file info for %s: %w", absPath, err)
			}
			rel, err := util.NormalizedRelPath(src, absPath)
			if err != nil {
				return err
			}
			j.a.mets.AddEntriesProcessed(1)
			if !j.emit(&packItem{
				absPath: absPath,
				name:    util.NormalizePath(filepath.Join(base, util.DenormalizePath(rel))),
				info:    info,
			}) {
				return j.ctx.Err()
			}
			return nil
		})
		if walkErr != nil {
			j.fail(walkErr)
			return
		}
	}
}

// emit sends one item to the workers; false means the run is over.
func (j *packJob) emit(item *packItem) bool {
	select {
	case j.items <- item:
		return true
	case <-j.ctx.Done():
		return false
	}
}

func (j *packJob) worker() {
	defer j.wg.Done()
	bufPtr := j.a.ioBufferPool.Get()
	defer j.a.ioBufferPool.Put(bufPtr)

	for item := range j.items {
		if j.ctx.Err() != nil {
			continue // drain the channel so the producer never blocks
		}
		var err error
		if item.info.Mode()&os.ModeSymlink != 0 {
			err = j.writeSymlink(item)
		} else {
			err = j.writeFile(item, bufPtr)
		}
		if err != nil {
			j.fail(err)
		}
	}
}

func (j *packJob) writeSymlink(item *packItem) error {
	// 1. Parallel: read the link target.
	linkTarget, err := os.Readlink(item.absPath)
	if err != nil {
		return fmt.Errorf("failed to read link %s: %w", item.absPath, err)
	}

	// 2. Serial: lock and write.
	j.mu.Lock()
	defer j.mu.Unlock()

	header, err := tar.FileInfoHeader(item.info, linkTarget)
	if err != nil {
		return fmt.Errorf("failed to create tar header for %s: %w", item.name, err)
	}
	header.Name = item.name
	return j.tw.WriteHeader(header)
}

func (j *packJob) writeFile(item *packItem, bufPtr *[]byte) error {
	f, err := os.Open(item.absPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", item.absPath, err)
	}
	defer f.Close()

	header, err := tar.FileInfoHeader(item.info, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header for %s: %w", item.name, err)
	}
	header.Name = item.name

	fSize := item.info.Size()

	// Buffered path: read the whole file outside the lock so small files
	// do not serialize their disk reads behind the tar writer.
	if j.a.readAheadLimiter.TryAcquire(fSize) {
		defer j.a.readAheadLimiter.Release(fSize)

		readAheadPtr := j.a.readAheadPool.Get(fSize)
		defer j.a.readAheadPool.Put(readAheadPtr)

		if _, err := io.ReadFull(f, *readAheadPtr); err != nil {
			return fmt.Errorf("failed to read file %s: %w", item.absPath, err)
		}
		f.Close() // free the FD early

		j.mu.Lock()
		defer j.mu.Unlock()

		if err := j.tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", item.name, err)
		}
		written, err := io.CopyBuffer(j.tw, bytes.NewReader(*readAheadPtr), *bufPtr)
		j.a.mets.AddBytesWritten(written)
		return err
	}

	// Streamed path: large files hold the lock while they stream.
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", item.name, err)
	}
	written, err := io.CopyBuffer(j.tw, f, *bufPtr)
	j.a.mets.AddBytesWritten(written)
	return err
}
