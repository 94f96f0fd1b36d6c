package hal

import "errors"

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

var ErrNotImplemented = errors.New("not implemented")

// NVM provides raw access to byte-addressable non-volatile memory.
//
// It is intentionally low-level: offsets and byte slices only. Unlike flash
// there is no erase step; any byte may be rewritten in place (FRAM, EEPROM).
type NVM interface {
	SizeBytes() uint32
	ReadAt(p []byte, off uint32) (int, error)
	WriteAt(p []byte, off uint32) (int, error)
}

// Time provides a base tick stream.
//
// The tick duration is platform-defined; higher-level timers live in the kernel.
type Time interface {
	Ticks() <-chan uint64
}

// IrqState is the saved interrupt mask returned by Irq.Disable.
type IrqState uintptr

// Irq scopes interrupt-disabled critical sections.
//
// Disable/Restore pairs nest on hardware; the host implementation does not
// support nesting.
type Irq interface {
	Disable() IrqState
	Restore(IrqState)
}

// HAL provides the only contact point between the OS and the outside world.
type HAL interface {
	Logger() Logger
	NVM() NVM
	Time() Time
	Irq() Irq
	Timer() *TickTimer
}

type nullLogger struct{}

func (nullLogger) WriteLineString(string) {}
func (nullLogger) WriteLineBytes([]byte)  {}

// NopLogger returns a Logger that drops every line.
func NopLogger() Logger { return nullLogger{} }
