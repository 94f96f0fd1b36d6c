//go:build tinygo

package hal

import "runtime/interrupt"

type cpuIrq struct{}

// NewSoftIrq returns the CPU interrupt mask.
func NewSoftIrq() Irq { return cpuIrq{} }

func (cpuIrq) Disable() IrqState {
	return IrqState(interrupt.Disable())
}

func (cpuIrq) Restore(s IrqState) {
	interrupt.Restore(interrupt.State(s))
}
