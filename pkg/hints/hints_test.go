package hints

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesChain(t *testing.T) {
	base := errors.New("xattr not supported")
	hint := Wrap(base)

	if !IsHint(hint) {
		t.Error("wrapped error must behave like a hint")
	}
	if !errors.Is(hint, base) {
		t.Error("hint must unwrap to the original error")
	}
	if !Is(hint, base) {
		t.Error("Is must match hint and target together")
	}
}

func TestHintSurvivesFurtherWrapping(t *testing.T) {
	hint := New("ownership copy skipped")
	outer := fmt.Errorf("while preserving metadata: %w", hint)

	if !IsHint(outer) {
		t.Error("hint behavior must survive fmt.Errorf wrapping")
	}
}

func TestNonHintErrors(t *testing.T) {
	if IsHint(errors.New("plain failure")) {
		t.Error("plain errors must not be hints")
	}
	if Wrap(nil) != nil {
		t.Error("wrapping nil must stay nil")
	}
	if IsHint(nil) {
		t.Error("nil is not a hint")
	}
}
