package opcoord

import (
	"sync"
	"sync/atomic"

	"github.com/macg4dave/duopane/pkg/fsop"
	"github.com/macg4dave/duopane/pkg/plog"
)

// Handle is the foreground's connection to one running operation: a message
// stream, a pollable progress snapshot, and the cancel and resolve controls.
type Handle struct {
	op fsop.Operation

	msgs      chan Msg
	decisions chan fsop.Decision

	cancelled atomic.Bool
	awaiting  atomic.Bool
	cancel    func()

	done chan struct{}

	mu       sync.Mutex
	snapshot ProgressState
	err      error
}

// Messages returns the worker's message stream. The channel is closed after
// the final DoneMsg.
func (h *Handle) Messages() <-chan Msg { return h.msgs }

// Progress returns the current progress snapshot. Safe to call at any time
// from any goroutine.
func (h *Handle) Progress() ProgressState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshot
}

// Done is closed once the operation has fully finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the operation finishes and returns its final error.
func (h *Handle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Cancel requests a cooperative stop. The worker finishes its current item,
// never rolls back completed ones, and then ends the operation. Cancel is
// idempotent.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
	// Only the worker goroutine sends on msgs, so just mutate the
	// snapshot here; the worker's next message carries the flag.
	h.mu.Lock()
	h.snapshot.Cancelled = true
	h.mu.Unlock()
	h.cancel()
}

// Resolve delivers the foreground's decision for the pending conflict.
// Calling it when no conflict is outstanding is a protocol violation and
// returns fsop.ErrNoPendingConflict without disturbing the worker.
func (h *Handle) Resolve(d fsop.Decision) error {
	if !h.awaiting.CompareAndSwap(true, false) {
		plog.Warn("Protocol violation: decision without pending conflict",
			"op", h.op.Kind.String(), "decision", d.String())
		return fsop.ErrNoPendingConflict
	}
	select {
	case h.decisions <- d:
		return nil
	case <-h.done:
		// Worker ended (cancelled) while the prompt was showing.
		return fsop.ErrNoPendingConflict
	}
}

// publish mutates the snapshot under the lock and emits a best-effort
// progress message.
func (h *Handle) publish(mutate func(*ProgressState)) {
	h.mu.Lock()
	mutate(&h.snapshot)
	st := h.snapshot
	h.mu.Unlock()

	select {
	case h.msgs <- ProgressMsg{State: st}:
	default:
	}
}

// advanceBy moves the processed counter forward by n, clamped to the total,
// and records the last touched path as the progress message.
func (h *Handle) advanceBy(n int64, path string) {
	h.publish(func(st *ProgressState) {
		st.Processed += n
		if st.Processed > st.Total {
			st.Processed = st.Total
		}
		st.Message = path
	})
}

// finish records the final error, emits the DoneMsg and releases waiters.
func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	if h.cancelled.Load() {
		h.snapshot.Cancelled = true
	}
	h.mu.Unlock()

	// The final message must get through even when a lagging reader left
	// the buffer full: progress snapshots are droppable, DoneMsg is not.
	// Only the worker sends on msgs and this is its last send, so draining
	// one stale message per failed attempt always converges.
	for {
		select {
		case h.msgs <- DoneMsg{Err: err}:
			close(h.done)
			close(h.msgs)
			return
		default:
		}
		select {
		case <-h.msgs:
		default:
		}
	}
}
