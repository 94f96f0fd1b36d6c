package pmem

import (
	"errors"
	"fmt"
)

var (
	ErrUnformatted     = errors.New("pmem: no store on device")
	ErrCorrupt         = errors.New("pmem: corrupt metadata")
	ErrNoSpace         = errors.New("pmem: device full")
	ErrHeapFull        = errors.New("pmem: heap full")
	ErrJournalFull     = errors.New("pmem: journal full")
	ErrJournalBusy     = errors.New("pmem: journal already has an open transaction")
	ErrTxnClosed       = errors.New("pmem: transaction closed")
	ErrOutOfBounds     = errors.New("pmem: write outside object")
	ErrNotFound        = errors.New("pmem: no such object")
	ErrLayoutMismatch  = errors.New("pmem: layout differs from stored layout")
	ErrBadName         = errors.New("pmem: bad name")
	ErrCounterRegress  = errors.New("pmem: loop counter moved backwards")
	ErrMovedOwner      = errors.New("pmem: object owner was moved")
	ErrNotFixedSize    = errors.New("pmem: type has no fixed encoded size")
	ErrDeploymentReset = errors.New("pmem: deployment changed")
)

// FatalError is the panic value for conditions that stem from static sizing
// or programming errors. They abort the enclosing unit of work.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("pmem: %s: %v", e.Op, e.Err) }

func (e *FatalError) Unwrap() error { return e.Err }

func fatal(op string, err error) {
	panic(&FatalError{Op: op, Err: err})
}
