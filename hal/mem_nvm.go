package hal

import (
	"fmt"
	"os"
	"sync"
)

// MemNVM is a RAM-backed NVM with power-loss injection.
//
// A loss is armed with FailAfter; when it fires the failing write does not
// land (or, with SetTear, only its first half does) and every
// later access panics with PowerLoss until Restore is called. A volatile
// MemNVM models SRAM: Restore wipes it.
type MemNVM struct {
	mu       sync.Mutex
	buf      []byte
	volatile bool

	armed     bool
	remaining uint64
	tear      bool
	dead      bool
	writes    uint64
	losses    uint64
}

// NewMemNVM returns a zero-filled non-volatile memory of size bytes.
func NewMemNVM(size uint32) *MemNVM {
	return &MemNVM{buf: make([]byte, size)}
}

// NewVolatileMem returns memory that loses its contents on every Restore.
func NewVolatileMem(size uint32) *MemNVM {
	return &MemNVM{buf: make([]byte, size), volatile: true}
}

func (m *MemNVM) SizeBytes() uint32 { return uint32(len(m.buf)) }

// Volatile reports whether contents are lost across power cycles.
func (m *MemNVM) Volatile() bool { return m.volatile }

// FailAfter arms a power loss on the n-th subsequent write. Zero disarms.
func (m *MemNVM) FailAfter(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = n > 0
	m.remaining = n
}

// SetTear selects whether the failing write lands half of its bytes.
func (m *MemNVM) SetTear(tear bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tear = tear
}

// Restore brings power back.
func (m *MemNVM) Restore() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = false
	m.armed = false
	if m.volatile {
		clear(m.buf)
	}
}

// Writes returns the number of WriteAt calls since creation.
func (m *MemNVM) Writes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Losses returns the number of injected power losses.
func (m *MemNVM) Losses() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.losses
}

// Snapshot returns a copy of the current contents.
func (m *MemNVM) Snapshot() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.buf))
	copy(out, m.buf)
	return out
}

func (m *MemNVM) ReadAt(p []byte, off uint32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dead {
		panic(PowerLoss{Write: m.writes})
	}
	if off >= uint32(len(m.buf)) {
		return 0, fmt.Errorf("nvm read at %d: %w", off, os.ErrInvalid)
	}
	return copy(p, m.buf[off:]), nil
}

func (m *MemNVM) WriteAt(p []byte, off uint32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dead {
		panic(PowerLoss{Write: m.writes})
	}
	if off >= uint32(len(m.buf)) || uint64(off)+uint64(len(p)) > uint64(len(m.buf)) {
		return 0, fmt.Errorf("nvm write at %d len %d: %w", off, len(p), os.ErrInvalid)
	}
	m.writes++
	if m.armed {
		m.remaining--
		if m.remaining == 0 {
			if m.tear {
				copy(m.buf[off:], p[:len(p)/2])
			}
			m.armed = false
			m.dead = true
			m.losses++
			panic(PowerLoss{Write: m.writes})
		}
	}
	return copy(m.buf[off:], p), nil
}
