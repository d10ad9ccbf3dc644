// Package invariant provides contract assertions for the vault engine.
//
// Violations are programming errors, never user errors, so every check
// panics. User-facing failures (bad passwords, malformed histories)
// travel as ordinary errors through the packages that own them.
package invariant

import (
	"fmt"
	"reflect"
)

// Precondition checks a caller contract at function entry.
// Panics with PRECONDITION VIOLATION if condition is false.
func Precondition(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("PRECONDITION", format, args...)
	}
}

// Invariant checks internal consistency mid-function.
// Panics with INVARIANT VIOLATION if condition is false.
func Invariant(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("INVARIANT", format, args...)
	}
}

// NotNil panics if value is nil, including typed nils such as (*T)(nil).
func NotNil(value interface{}, name string) {
	if value == nil || isNilValue(value) {
		fail("PRECONDITION", "%s must not be nil", name)
	}
}

// ExpectNoError panics if err is non-nil. Use for operations whose
// failure indicates a bug rather than a recoverable condition.
func ExpectNoError(err error, msg string) {
	if err != nil {
		fail("POSTCONDITION", "%s: unexpected error: %v", msg, err)
	}
}

func isNilValue(value interface{}) bool {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}

func fail(kind, format string, args ...interface{}) {
	panic(fmt.Sprintf("%s VIOLATION: %s", kind, fmt.Sprintf(format, args...)))
}
