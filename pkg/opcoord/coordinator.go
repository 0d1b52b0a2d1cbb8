// Package opcoord runs bulk filesystem operations on a background worker and
// coordinates the foreground's view of them: progress snapshots, conflict
// prompts and cooperative cancellation.
//
// One operation runs at a time. The worker owns the filesystem mutations;
// the foreground owns decisions. They exchange messages over the operation's
// Handle so the foreground never blocks on I/O.
package opcoord

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/macg4dave/duopane/pkg/fsatomic"
	"github.com/macg4dave/duopane/pkg/fsop"
	"github.com/macg4dave/duopane/pkg/fstree"
	"github.com/macg4dave/duopane/pkg/metrics"
	"github.com/macg4dave/duopane/pkg/plog"
	"github.com/macg4dave/duopane/pkg/preflight"
	"github.com/macg4dave/duopane/pkg/util"
)

// ErrBusy reports a Submit while another operation is still running.
var ErrBusy = errors.New("another operation is still running")

// msgBuffer sizes the worker-to-foreground channel. Progress messages beyond
// it are dropped; conflicts and completion always get through.
const msgBuffer = 64

// Archiver is the slice of the archive layer the coordinator dispatches
// pack and extract operations to.
type Archiver interface {
	Pack(ctx context.Context, sources []string, archivePath string) error
	Extract(ctx context.Context, archivePath, destDir string) error
}

// Coordinator owns the single background worker slot.
type Coordinator struct {
	prims    *fsatomic.Primitives
	trees    *fstree.Syncer
	arch     Archiver
	mets     metrics.Metrics
	failFast bool

	mu     sync.Mutex
	active *Handle
}

// New wires a coordinator. arch may be nil when archive operations are not
// offered; mets may be nil to disable collection.
func New(prims *fsatomic.Primitives, trees *fstree.Syncer, arch Archiver, mets metrics.Metrics, failFast bool) *Coordinator {
	if mets == nil {
		mets = &metrics.NoopMetrics{}
	}
	return &Coordinator{
		prims:    prims,
		trees:    trees,
		arch:     arch,
		mets:     mets,
		failFast: failFast,
	}
}

// Submit validates op and starts it on the background worker. It returns
// ErrBusy while a previous operation is still running.
func (c *Coordinator) Submit(ctx context.Context, op fsop.Operation) (*Handle, error) {
	if err := preflight.Validate(op); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.active != nil {
		select {
		case <-c.active.done:
		default:
			c.mu.Unlock()
			return nil, ErrBusy
		}
	}
	opCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		op:        op,
		msgs:      make(chan Msg, msgBuffer),
		decisions: make(chan fsop.Decision),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.active = h
	c.mu.Unlock()

	c.trees.SetProgressFunc(func(path string) { h.advanceBy(1, path) })

	go c.run(opCtx, h)
	return h, nil
}

// run is the worker goroutine. A panic in any layer below is converted into
// an operation failure; it must never take the process down.
func (c *Coordinator) run(ctx context.Context, h *Handle) {
	var runErr error
	defer func() {
		if r := recover(); r != nil {
			plog.Error("Operation worker panicked", "op", h.op.Kind.String(), "panic", r)
			runErr = fmt.Errorf("operation %s: internal error: %v", h.op.Kind, r)
		}
		h.awaiting.Store(false)
		// A user cancel may surface as a bare context error from layers
		// that return ctx.Err() directly (pack, extract); either way the
		// operation ended cooperatively, not with a failure.
		if h.cancelled.Load() && (runErr == nil || errors.Is(runErr, context.Canceled)) {
			runErr = fsop.ErrCancelled
		}
		h.finish(runErr)
		h.cancel()
		c.mets.Log()
	}()
	runErr = c.execute(ctx, h)
}

func (c *Coordinator) execute(ctx context.Context, h *Handle) error {
	op := h.op

	shares, total, err := countWork(op)
	if err != nil {
		return err
	}
	h.publish(func(st *ProgressState) {
		st.Title = op.Title()
		st.Total = total
	})
	plog.Info("Operation started", "op", op.Kind.String(), "items", len(op.Sources), "entries", total)

	switch op.Kind {
	case fsop.OpCreateFile:
		if err := c.prims.CreateFile(op.Dest); err != nil {
			return err
		}
		h.advanceBy(1, op.Dest)
		return nil

	case fsop.OpCreateDir:
		if err := c.prims.CreateDir(op.Dest); err != nil {
			return err
		}
		c.mets.AddDirsCreated(1)
		h.advanceBy(1, op.Dest)
		return nil

	case fsop.OpExtract:
		if c.arch == nil {
			return errors.New("archive support is not configured")
		}
		if err := c.arch.Extract(ctx, op.Sources[0], op.Dest); err != nil {
			return err
		}
		h.advanceBy(1, op.Dest)
		return nil

	case fsop.OpPack:
		if c.arch == nil {
			return errors.New("archive support is not configured")
		}
		return c.runPack(ctx, h)
	}

	return c.runPerSource(ctx, h, shares)
}

// runPack handles the single-destination pack operation, including a
// conflict prompt when the archive path is already occupied.
func (c *Coordinator) runPack(ctx context.Context, h *Handle) error {
	op := h.op
	if _, err := os.Lstat(op.Dest); err == nil {
		d, err := c.promptConflict(ctx, h, fsop.ConflictRequest{Path: op.Dest, Kind: op.Kind})
		if err != nil {
			return err
		}
		switch d {
		case fsop.DecisionSkip, fsop.DecisionSkipAll:
			c.mets.AddFilesSkipped(1)
			h.advanceBy(1, op.Dest)
			return nil
		case fsop.DecisionCancel:
			h.cancelled.Store(true)
			return fsop.ErrCancelled
		}
		// The archive lands via temp-and-rename, so a file occupant is
		// replaced atomically; only a directory needs clearing.
		if err := removeOccupant(op.Dest, false); err != nil {
			return err
		}
	}
	if err := c.arch.Pack(ctx, op.Sources, op.Dest); err != nil {
		return err
	}
	h.advanceBy(1, op.Dest)
	return nil
}

// runPerSource drives copy, move, rename and delete: one item per source,
// cancellation checked between items, conflicts prompted per collision with
// apply-all short-circuiting the rest.
func (c *Coordinator) runPerSource(ctx context.Context, h *Handle, shares []int64) error {
	op := h.op

	var applyAll *fsop.Decision
	var softErrs []error

	for i, src := range op.Sources {
		if h.cancelled.Load() || ctx.Err() != nil {
			return fsop.ErrCancelled
		}

		target, hasTarget := targetFor(op, src)
		if hasTarget && target != src {
			if _, err := os.Lstat(target); err == nil {
				d := fsop.DecisionOverwrite
				if applyAll != nil {
					d = *applyAll
				} else {
					var err error
					d, err = c.promptConflict(ctx, h, fsop.ConflictRequest{Path: target, Kind: op.Kind})
					if err != nil {
						return err
					}
					if d.ApplyAll() {
						blanket := d
						applyAll = &blanket
					}
				}

				switch d {
				case fsop.DecisionSkip, fsop.DecisionSkipAll:
					c.mets.AddFilesSkipped(1)
					h.advanceBy(shares[i], target)
					continue
				case fsop.DecisionCancel:
					h.cancelled.Store(true)
					return fsop.ErrCancelled
				default:
					if err := removeOccupant(target, isDir(src)); err != nil {
						return err
					}
				}
			}
		}

		var err error
		switch op.Kind {
		case fsop.OpCopy:
			err = c.trees.CopyPath(ctx, src, target)
		case fsop.OpMove:
			err = c.trees.MovePath(ctx, src, target)
		case fsop.OpRename:
			err = c.trees.RenamePath(ctx, src, op.Dest)
		case fsop.OpDelete:
			err = c.trees.RemovePath(ctx, src)
		default:
			err = fmt.Errorf("unhandled operation kind %s", op.Kind)
		}

		if err != nil {
			if errors.Is(err, context.Canceled) || h.cancelled.Load() {
				return fsop.ErrCancelled
			}
			if c.failFast {
				return err
			}
			plog.Warn("Item failed, continuing", "op", op.Kind.String(), "src", src, "error", err)
			softErrs = append(softErrs, err)
			h.advanceBy(shares[i], src)
		}
	}

	if len(softErrs) > 0 {
		return fmt.Errorf("%s finished with %d failed items: %w",
			op.Kind, len(softErrs), errors.Join(softErrs...))
	}
	return nil
}

// promptConflict blocks the worker until the foreground answers or the
// operation is cancelled. Cancellation while the prompt is up resolves to
// DecisionCancel.
func (c *Coordinator) promptConflict(ctx context.Context, h *Handle, req fsop.ConflictRequest) (fsop.Decision, error) {
	c.mets.AddConflicts(1)
	plog.Notice("CONFLICT", "path", req.Path, "op", req.Kind.String())

	h.awaiting.Store(true)
	select {
	case h.msgs <- ConflictMsg{Request: req}:
	case <-ctx.Done():
		h.awaiting.Store(false)
		return fsop.DecisionCancel, nil
	}
	select {
	case d := <-h.decisions:
		return d, nil
	case <-ctx.Done():
		h.awaiting.Store(false)
		return fsop.DecisionCancel, nil
	}
}

// removeOccupant clears whatever occupies an overwrite target when an atomic
// replace cannot do it: directory occupants always block the landing rename,
// and a file occupant blocks a directory replacement. A file replaced by a
// file is left alone; the commit rename swaps it atomically.
func removeOccupant(target string, replacementIsDir bool) error {
	info, err := os.Lstat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fsop.NewPathError("stat occupant", "", target, err)
	}
	if !info.IsDir() && !replacementIsDir {
		return nil
	}
	if err := os.RemoveAll(target); err != nil {
		return fsop.NewPathError("remove occupant", "", target, err)
	}
	return nil
}

// isDir reports whether src resolves to a directory; symlinks are followed
// the same way the copy itself follows them.
func isDir(src string) bool {
	info, err := os.Stat(src)
	return err == nil && info.IsDir()
}

// targetFor computes the final destination path for one source of op.
func targetFor(op fsop.Operation, src string) (string, bool) {
	switch op.Kind {
	case fsop.OpCopy, fsop.OpMove:
		return util.ResolveTarget(op.Dest, filepath.Base(src)), true
	case fsop.OpRename:
		return filepath.Join(filepath.Dir(src), op.Dest), true
	default:
		return "", false
	}
}

// countWork computes the per-source progress shares and their sum before any
// write happens, so the total never changes mid-operation.
func countWork(op fsop.Operation) ([]int64, int64, error) {
	switch op.Kind {
	case fsop.OpCreateFile, fsop.OpCreateDir, fsop.OpPack, fsop.OpExtract:
		return nil, 1, nil
	}

	shares := make([]int64, len(op.Sources))
	var total int64
	for i, src := range op.Sources {
		shares[i] = 1
		if op.Kind == fsop.OpCopy {
			if info, err := os.Stat(src); err == nil && info.IsDir() {
				n, err := fstree.CountTree(src)
				if err != nil {
					return nil, 0, err
				}
				shares[i] = n
			}
		}
		total += shares[i]
	}
	return shares, total, nil
}
