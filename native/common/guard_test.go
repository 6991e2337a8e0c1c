package common

import (
	"errors"
	"testing"
)

type stubPauses map[string]bool

func (s stubPauses) IsPaused(module string) bool { return s[module] }

func TestGuard(t *testing.T) {
	pauses := stubPauses{"cashback": true}

	if err := Guard(pauses, "cashback"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if err := Guard(pauses, "other"); err != nil {
		t.Fatalf("unpaused module must pass: %v", err)
	}
	if err := Guard(nil, "cashback"); err != nil {
		t.Fatalf("nil view must pass: %v", err)
	}
	if err := Guard(pauses, ""); err != nil {
		t.Fatalf("empty module must pass: %v", err)
	}
}
