package kernel

import "sync/atomic"

// PanicInfo describes the fatal error that halted a kernel.
type PanicInfo struct {
	TaskID TaskID
	Task   string
	Err    *FatalError
	Stack  []byte
}

var (
	panicHandler atomic.Value // func(PanicInfo)
	fatalHalts   atomic.Uint64
)

// SetPanicHandler installs the process-wide handler for fatal errors.
//
// Each kernel calls it at most once, for its first fatal error, on the task
// that raised it. It must not panic and must return; the kernel halts after it.
func SetPanicHandler(fn func(PanicInfo)) {
	panicHandler.Store(fn)
}

// FatalHalts counts the kernels in this process halted by a fatal error.
func FatalHalts() uint64 { return fatalHalts.Load() }

func (k *Kernel) triggerPanic(info PanicInfo) {
	if k.panicked {
		return
	}
	k.panicked = true
	fatalHalts.Add(1)
	info.Stack = captureStack()
	if fn, _ := panicHandler.Load().(func(PanicInfo)); fn != nil {
		fn(info)
	}
}
