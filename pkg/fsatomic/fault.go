package fsatomic

// FaultInjector lets tests force failures at the commit points of the atomic
// primitives. The production wiring always installs NoopInjector; tests pass
// their own implementation at construction instead of flipping globals.
type FaultInjector interface {
	// BeforeRename is consulted immediately before a rename commits new
	// content onto a destination. Returning a non-nil error makes the
	// primitive behave as if the rename itself failed.
	BeforeRename(src, dst string) error
}

// NoopInjector is the production FaultInjector: it never fails anything.
type NoopInjector struct{}

func (NoopInjector) BeforeRename(src, dst string) error { return nil }

var _ FaultInjector = NoopInjector{}
