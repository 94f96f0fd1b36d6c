//go:build !tinygo

package kernel

import (
	"bytes"
	"runtime/debug"
)

// maxStackBytes bounds the trace handed to the panic handler, which logs it
// one line at a time.
const maxStackBytes = 4096

func captureStack() []byte {
	s := debug.Stack()
	if len(s) <= maxStackBytes {
		return s
	}
	s = s[:maxStackBytes]
	if i := bytes.LastIndexByte(s, '\n'); i > 0 {
		s = s[:i+1]
	}
	return s
}
