package hal

import (
	"sync"
	"unsafe"
)

// Word is the width of a device register.
type Word interface {
	~uint8 | ~uint16 | ~uint32
}

// RegisterBus loads and stores device registers by byte offset.
//
// Implementations are the only code allowed to turn offsets into addresses.
type RegisterBus[T Word] interface {
	Load(off uintptr) T
	Store(off uintptr, v T)
}

// Field names a contiguous bit range inside a register.
type Field[T Word] struct {
	Name  string
	Shift uint8
	Width uint8
}

// Mask returns the in-place mask of the field.
func (f Field[T]) Mask() T {
	return T((uint64(1)<<f.Width)-1) << f.Shift
}

// Register is a typed handle on one device register.
type Register[T Word] struct {
	bus RegisterBus[T]
	off uintptr
}

// NewRegister returns the register at off on bus.
func NewRegister[T Word](bus RegisterBus[T], off uintptr) Register[T] {
	return Register[T]{bus: bus, off: off}
}

func (r Register[T]) Get() T  { return r.bus.Load(r.off) }
func (r Register[T]) Set(v T) { r.bus.Store(r.off, v) }

// HasBits reports whether every bit of mask is set.
func (r Register[T]) HasBits(mask T) bool { return r.Get()&mask == mask }

// SetBits sets mask with a read-modify-write.
func (r Register[T]) SetBits(mask T) { r.Set(r.Get() | mask) }

// ClearBits clears mask with a read-modify-write.
func (r Register[T]) ClearBits(mask T) { r.Set(r.Get() &^ mask) }

// ReplaceBits replaces the bits selected by mask<<pos with value<<pos.
func (r Register[T]) ReplaceBits(value, mask T, pos uint8) {
	r.Set(r.Get()&^(mask<<pos) | (value&mask)<<pos)
}

// Field returns the value of f.
func (r Register[T]) Field(f Field[T]) T {
	return (r.Get() & f.Mask()) >> f.Shift
}

// SetField writes v into f, leaving the other bits alone. Bits of v beyond
// the field width are dropped.
func (r Register[T]) SetField(f Field[T], v T) {
	r.ReplaceBits(v, f.Mask()>>f.Shift, f.Shift)
}

// RegisterFile is a bank of registers kept in memory. It stands in for
// peripherals on the host and for soft peripherals on targets.
type RegisterFile[T Word] struct {
	mu   sync.Mutex
	regs []T
}

// NewRegisterFile returns a zeroed bank covering n registers.
func NewRegisterFile[T Word](n int) *RegisterFile[T] {
	return &RegisterFile[T]{regs: make([]T, n)}
}

func (f *RegisterFile[T]) stride() uintptr {
	var z T
	return unsafe.Sizeof(z)
}

func (f *RegisterFile[T]) Load(off uintptr) T {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := off / f.stride()
	if i >= uintptr(len(f.regs)) {
		return 0
	}
	return f.regs[i]
}

func (f *RegisterFile[T]) Store(off uintptr, v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := off / f.stride()
	if i >= uintptr(len(f.regs)) {
		return
	}
	f.regs[i] = v
}
