//go:build !tinygo

package hal

import "sync"

type softIrq struct {
	mu sync.Mutex
}

// NewSoftIrq returns an Irq that serialises critical sections with a mutex.
func NewSoftIrq() Irq { return &softIrq{} }

func (i *softIrq) Disable() IrqState {
	i.mu.Lock()
	return 0
}

func (i *softIrq) Restore(IrqState) {
	i.mu.Unlock()
}
