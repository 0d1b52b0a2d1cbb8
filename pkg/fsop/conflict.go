package fsop

// ConflictRequest is sent to the foreground when a worker finds the
// destination of an item already occupied. Path is the colliding
// destination; Kind names the operation that hit it.
type ConflictRequest struct {
	Path string
	Kind Kind
}

// Decision is the foreground's answer to a ConflictRequest. The *All
// variants additionally instruct the worker to apply the same answer to
// every later conflict in the same operation without asking again.
type Decision int

const (
	DecisionOverwrite Decision = iota
	DecisionOverwriteAll
	DecisionSkip
	DecisionSkipAll
	DecisionCancel
)

func (d Decision) String() string {
	switch d {
	case DecisionOverwrite:
		return "overwrite"
	case DecisionOverwriteAll:
		return "overwrite-all"
	case DecisionSkip:
		return "skip"
	case DecisionSkipAll:
		return "skip-all"
	case DecisionCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// ApplyAll reports whether the decision is a blanket policy for the rest of
// the operation.
func (d Decision) ApplyAll() bool {
	return d == DecisionOverwriteAll || d == DecisionSkipAll
}
