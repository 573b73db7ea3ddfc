package common

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifiedErrorChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transient("poll", "provider unreachable", cause)

	if !errors.Is(err, cause) {
		t.Error("cause must stay reachable through the chain")
	}
	msg := err.Error()
	for _, want := range []string{"TRANSIENT", "poll", "provider unreachable", "connection refused"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error string %q missing %q", msg, want)
		}
	}
}

func TestAsClassifiedPassesThrough(t *testing.T) {
	orig := Permanent("submit", "unsupported document", nil)
	wrapped := fmt.Errorf("stage failed: %w", orig)

	got := AsClassified("other", wrapped)
	if got != orig {
		t.Errorf("existing classification must survive wrapping, got %v", got)
	}
}

func TestAsClassifiedDefaultsToTransient(t *testing.T) {
	got := AsClassified("embed", errors.New("boom"))
	if got.Class != ClassTransient {
		t.Errorf("unclassified errors default to transient, got %s", got.Class)
	}
	if got.Stage != "embed" {
		t.Errorf("stage = %q", got.Stage)
	}
}

func TestIsPermanent(t *testing.T) {
	if IsPermanent(Transient("s", "m", nil)) {
		t.Error("transient misreported as permanent")
	}
	if !IsPermanent(fmt.Errorf("wrap: %w", Permanent("s", "m", nil))) {
		t.Error("permanent classification lost through wrapping")
	}
	if IsPermanent(errors.New("plain")) {
		t.Error("plain errors are not permanent")
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, "context") != nil {
		t.Error("wrapping nil should stay nil")
	}
	err := WrapError(ErrInvalidInput, "bad extension")
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("sentinel lost through wrapping")
	}
}
