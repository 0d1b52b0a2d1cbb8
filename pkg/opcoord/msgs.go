package opcoord

import "github.com/macg4dave/duopane/pkg/fsop"

// ProgressState is the foreground-visible snapshot of a running operation.
// Processed never exceeds Total, and Cancelled never reverts to false once
// set.
type ProgressState struct {
	Title     string
	Processed int64
	Total     int64
	Message   string
	Cancelled bool
}

// Msg is what a worker sends to the foreground over the handle's message
// channel.
type Msg interface{ isMsg() }

// ProgressMsg carries a progress snapshot. Progress messages are advisory
// and may be dropped when the foreground lags; Progress() always has the
// current state.
type ProgressMsg struct {
	State ProgressState
}

// ConflictMsg reports a destination collision the worker is now blocked on.
// The foreground answers through Handle.Resolve.
type ConflictMsg struct {
	Request fsop.ConflictRequest
}

// DoneMsg is the final message of an operation. Err is nil on success,
// fsop.ErrCancelled when the user cancelled, and the failure otherwise.
type DoneMsg struct {
	Err error
}

func (ProgressMsg) isMsg() {}
func (ConflictMsg) isMsg() {}
func (DoneMsg) isMsg()     {}
