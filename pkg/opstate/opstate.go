// Package opstate models the foreground interaction state of the operation
// UI as an explicit state machine: one type per state and a pure Reduce
// function from (state, event) to (state, effect). Nothing here touches the
// filesystem or the coordinator; side effects are returned as values for the
// caller to execute.
package opstate

import (
	"errors"

	"github.com/macg4dave/duopane/pkg/fsop"
	"github.com/macg4dave/duopane/pkg/opcoord"
)

// State is the closed set of interaction states.
type State interface{ isState() }

// Idle means no operation is running.
type Idle struct{}

// Running shows a progress view for the active operation.
type Running struct {
	Title     string
	Processed int64
	Total     int64
	Message   string
	Cancelled bool
}

// AwaitingDecision shows the conflict prompt. The worker is parked until the
// prompt is confirmed; Prev keeps the progress view current underneath it.
type AwaitingDecision struct {
	Path     string
	Cursor   Choice
	ApplyAll bool
	Prev     Running
}

// Failed shows a dismissable error banner.
type Failed struct {
	Message string
}

func (Idle) isState()             {}
func (Running) isState()          {}
func (AwaitingDecision) isState() {}
func (Failed) isState()           {}

// Choice is the highlighted answer in the conflict prompt.
type Choice int

const (
	ChoiceOverwrite Choice = iota
	ChoiceSkip
	ChoiceCancel
	choiceCount
)

func (c Choice) String() string {
	switch c {
	case ChoiceOverwrite:
		return "overwrite"
	case ChoiceSkip:
		return "skip"
	case ChoiceCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// next and prev cycle through the choices with wrap-around.
func (c Choice) next() Choice { return (c + 1) % choiceCount }
func (c Choice) prev() Choice { return (c + choiceCount - 1) % choiceCount }

// Event is the closed set of inputs. Engine events come from the operation
// handle's message stream; key events come from the user.
type Event interface{ isEvent() }

type StartEvent struct{ Title string }
type ProgressEvent struct{ State opcoord.ProgressState }
type ConflictEvent struct{ Path string }
type DoneEvent struct{ Err error }

type CancelKeyEvent struct{}
type CursorNextEvent struct{}
type CursorPrevEvent struct{}
type ToggleApplyAllEvent struct{}
type ConfirmEvent struct{}
type AcknowledgeEvent struct{}

func (StartEvent) isEvent()          {}
func (ProgressEvent) isEvent()       {}
func (ConflictEvent) isEvent()       {}
func (DoneEvent) isEvent()           {}
func (CancelKeyEvent) isEvent()      {}
func (CursorNextEvent) isEvent()     {}
func (CursorPrevEvent) isEvent()     {}
func (ToggleApplyAllEvent) isEvent() {}
func (ConfirmEvent) isEvent()        {}
func (AcknowledgeEvent) isEvent()    {}

// Effect names the side effect the caller must perform after a transition.
type Effect int

const (
	EffectNone Effect = iota
	// EffectCancel: call Cancel on the operation handle.
	EffectCancel
	// EffectSendDecision: call Resolve on the operation handle with the
	// transition's Decision.
	EffectSendDecision
)

// Transition is the result of Reduce: the next state plus at most one effect.
type Transition struct {
	Next     State
	Effect   Effect
	Decision fsop.Decision
}

func stay(s State) Transition { return Transition{Next: s} }

// Reduce computes the next interaction state. It is total: events that make
// no sense in the current state leave it unchanged.
func Reduce(s State, e Event) Transition {
	switch st := s.(type) {
	case Idle:
		if ev, ok := e.(StartEvent); ok {
			return Transition{Next: Running{Title: ev.Title}}
		}
		return stay(st)

	case Running:
		switch ev := e.(type) {
		case ProgressEvent:
			return Transition{Next: runningFrom(ev.State, st)}
		case ConflictEvent:
			return Transition{Next: AwaitingDecision{
				Path:   ev.Path,
				Cursor: ChoiceOverwrite,
				Prev:   st,
			}}
		case CancelKeyEvent:
			st.Cancelled = true
			return Transition{Next: st, Effect: EffectCancel}
		case DoneEvent:
			return finish(ev.Err)
		}
		return stay(st)

	case AwaitingDecision:
		switch ev := e.(type) {
		case CursorNextEvent:
			st.Cursor = st.Cursor.next()
			return stay(st)
		case CursorPrevEvent:
			st.Cursor = st.Cursor.prev()
			return stay(st)
		case ToggleApplyAllEvent:
			st.ApplyAll = !st.ApplyAll
			return stay(st)
		case ConfirmEvent:
			return Transition{
				Next:     st.Prev,
				Effect:   EffectSendDecision,
				Decision: decisionFor(st.Cursor, st.ApplyAll),
			}
		case CancelKeyEvent:
			// Cancelling from the prompt answers the worker too; it is
			// blocked on this decision.
			prev := st.Prev
			prev.Cancelled = true
			return Transition{
				Next:     prev,
				Effect:   EffectSendDecision,
				Decision: fsop.DecisionCancel,
			}
		case ProgressEvent:
			st.Prev = runningFrom(ev.State, st.Prev)
			return stay(st)
		case DoneEvent:
			return finish(ev.Err)
		}
		return stay(st)

	case Failed:
		if _, ok := e.(AcknowledgeEvent); ok {
			return Transition{Next: Idle{}}
		}
		return stay(st)

	default:
		return stay(s)
	}
}

func runningFrom(p opcoord.ProgressState, prev Running) Running {
	title := p.Title
	if title == "" {
		title = prev.Title
	}
	return Running{
		Title:     title,
		Processed: p.Processed,
		Total:     p.Total,
		Message:   p.Message,
		Cancelled: p.Cancelled || prev.Cancelled,
	}
}

func finish(err error) Transition {
	if err == nil || errors.Is(err, fsop.ErrCancelled) {
		return Transition{Next: Idle{}}
	}
	return Transition{Next: Failed{Message: err.Error()}}
}

// decisionFor maps a confirmed prompt choice to the coordinator decision.
func decisionFor(c Choice, applyAll bool) fsop.Decision {
	switch c {
	case ChoiceOverwrite:
		if applyAll {
			return fsop.DecisionOverwriteAll
		}
		return fsop.DecisionOverwrite
	case ChoiceSkip:
		if applyAll {
			return fsop.DecisionSkipAll
		}
		return fsop.DecisionSkip
	default:
		return fsop.DecisionCancel
	}
}
