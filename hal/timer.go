package hal

// Tick timer register map.
const (
	timerCTRL   = 0x00
	timerPERIOD = 0x04
	timerCOUNT  = 0x08

	timerRegisters = 3
)

// CTRL fields.
var (
	TimerEnable    = Field[uint32]{Name: "EN", Shift: 0, Width: 1}
	TimerIrqEnable = Field[uint32]{Name: "IE", Shift: 1, Width: 1}
	TimerPrescale  = Field[uint32]{Name: "PRESCALE", Shift: 4, Width: 4}
)

// TickTimer is the periodic timer that raises the kernel tick interrupt.
type TickTimer struct {
	ctrl   Register[uint32]
	period Register[uint32]
	count  Register[uint32]
}

// NewTickTimer returns the timer whose register block starts at base.
func NewTickTimer(bus RegisterBus[uint32], base uintptr) *TickTimer {
	return &TickTimer{
		ctrl:   NewRegister(bus, base+timerCTRL),
		period: NewRegister(bus, base+timerPERIOD),
		count:  NewRegister(bus, base+timerCOUNT),
	}
}

// Configure stops the timer and programs its period.
//
// The effective tick is period << prescale input clocks.
func (t *TickTimer) Configure(period uint32, prescale uint32) {
	t.ctrl.SetField(TimerEnable, 0)
	t.period.Set(period)
	t.ctrl.SetField(TimerPrescale, prescale)
	t.count.Set(0)
}

// Start enables the counter and its interrupt.
func (t *TickTimer) Start() {
	t.ctrl.SetField(TimerIrqEnable, 1)
	t.ctrl.SetField(TimerEnable, 1)
}

// Stop disables the counter; pending ticks are dropped.
func (t *TickTimer) Stop() {
	t.ctrl.SetField(TimerEnable, 0)
}

// Running reports whether ticks are being raised.
func (t *TickTimer) Running() bool {
	return t.ctrl.HasBits(TimerEnable.Mask() | TimerIrqEnable.Mask())
}

func (t *TickTimer) Period() uint32   { return t.period.Get() }
func (t *TickTimer) Prescale() uint32 { return t.ctrl.Field(TimerPrescale) }

// Fired counts one raised tick and returns the running total.
func (t *TickTimer) Fired() uint32 {
	n := t.count.Get() + 1
	t.count.Set(n)
	return n
}

func newSoftTimer() *TickTimer {
	return NewTickTimer(NewRegisterFile[uint32](timerRegisters), 0)
}
