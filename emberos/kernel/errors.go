package kernel

import (
	"errors"
	"fmt"

	"ember/emberos/pmem"
)

// Recoverable outcomes of blocking syscalls.
var (
	ErrTimeout    = errors.New("kernel: timeout")
	ErrQueueFull  = errors.New("kernel: queue full")
	ErrQueueEmpty = errors.New("kernel: queue empty")
)

// Run results.
var (
	ErrStalled = errors.New("kernel: every task is blocked with no deadline")
	ErrHalted  = errors.New("kernel: halted")
)

// Causes carried by FatalError.
var (
	ErrTaskLimit     = errors.New("task limit reached")
	ErrStackPool     = errors.New("stack pool exhausted")
	ErrTableFull     = errors.New("kernel object table full")
	ErrDuplicateTask = errors.New("task name in use")
	ErrBadHandle     = errors.New("invalid kernel handle")
	ErrBadArgument   = errors.New("invalid syscall argument")
	ErrTokenExpired  = errors.New("syscall token used outside its transaction")
	ErrNested        = errors.New("transaction opened inside another transaction")
	ErrWrongMode     = errors.New("syscall needs a pure-system transaction")
	ErrBlockInBoot   = errors.New("blocking syscall in boot context")
)

// FatalError is the panic value for static sizing and programming errors.
// It aborts the running task and halts the kernel; Run returns it.
type FatalError struct {
	Task string
	Op   string
	Err  error
}

func (e *FatalError) Error() string {
	if e.Task == "" {
		return fmt.Sprintf("kernel: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("kernel: task %s: %s: %v", e.Task, e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatal(op string, err error) {
	panic(&FatalError{Op: op, Err: err})
}

// asFatal turns a recovered panic value into the error Run reports.
func asFatal(task string, v any) *FatalError {
	var fe *FatalError
	switch e := v.(type) {
	case *FatalError:
		fe = e
	case *pmem.FatalError:
		fe = &FatalError{Op: "pmem", Err: e}
	case error:
		fe = &FatalError{Op: "panic", Err: e}
	default:
		fe = &FatalError{Op: "panic", Err: fmt.Errorf("%v", v)}
	}
	if fe.Task == "" {
		fe.Task = task
	}
	return fe
}

// haltSignal unwinds parked task goroutines when the kernel stops.
type haltSignal struct{}
