package alloc

import "fmt"

// Policy decides what heap exhaustion does.
type Policy struct {
	// FatalOOM makes the heap call Halt before returning ErrOutOfMemory.
	FatalOOM bool

	// Halt stops the kernel. Nil means HaltPanic.
	Halt func(error)
}

var (
	// DefaultPolicy treats heap exhaustion as fatal.
	DefaultPolicy = Policy{FatalOOM: true, Halt: HaltPanic}

	// PolicyRecoverable returns ErrOutOfMemory to the caller.
	PolicyRecoverable = Policy{}
)

// HaltError is the panic value raised by HaltPanic.
type HaltError struct {
	Err error
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("kernel halted: %v", e.Err)
}

func (e *HaltError) Unwrap() error { return e.Err }

// HaltPanic halts by panicking with a *HaltError.
func HaltPanic(err error) {
	panic(&HaltError{Err: err})
}

func (p Policy) halt(err error) {
	if !p.FatalOOM {
		return
	}
	if p.Halt == nil {
		HaltPanic(err)
		return
	}
	p.Halt(err)
}
