package invariant

import (
	"errors"
	"strings"
	"testing"
)

func expectPanic(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q, got none", want)
		}
		msg, ok := r.(string)
		if !ok {
			t.Fatalf("panic value is %T, want string", r)
		}
		if !strings.Contains(msg, want) {
			t.Errorf("panic = %q, want substring %q", msg, want)
		}
	}()
	fn()
}

func TestPrecondition_FalseCondition(t *testing.T) {
	expectPanic(t, "PRECONDITION VIOLATION: history must not be empty", func() {
		Precondition(false, "history must not be empty")
	})
}

func TestPrecondition_TrueCondition(t *testing.T) {
	Precondition(true, "never shown")
}

func TestInvariant_FormatsArguments(t *testing.T) {
	expectPanic(t, `unknown opcode "xyz"`, func() {
		Invariant(false, "unknown opcode %q", "xyz")
	})
}

func TestNotNil_TypedNil(t *testing.T) {
	var p *int
	expectPanic(t, "backend must not be nil", func() {
		NotNil(p, "backend")
	})
}

func TestNotNil_NonNil(t *testing.T) {
	NotNil(t, "t")
}

func TestExpectNoError(t *testing.T) {
	ExpectNoError(nil, "encode")
	expectPanic(t, "encode pad", func() {
		ExpectNoError(errors.New("boom"), "encode pad")
	})
}
