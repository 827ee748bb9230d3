package flow

import (
	"fmt"
	"runtime"
	"strings"
)

// PanicError is returned when a hook panics.
type PanicError struct {
	Hook  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Hook, e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// CallSafely runs fn and converts a panic into a *PanicError.
func CallSafely(name string, fn func() error) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 8096)
			n := runtime.Stack(stack, false)
			err = &PanicError{Hook: name, Value: r, Stack: CleanStackTrace(stack[:n])}
		}
	}()
	return fn()
}

// CleanStackTrace drops the runtime frames that precede the panic call site.
func CleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}

	// skip the panic() line and its file reference
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		lines = lines[panicLineIndex+2:]
	}

	return []byte(strings.Join(lines, "\n"))
}
