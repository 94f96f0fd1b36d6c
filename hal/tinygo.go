//go:build tinygo && baremetal

package hal

import (
	"fmt"
	"machine"
	"time"
)

const (
	boardEEPROMBytes    = MaxEEPROMBytes
	boardEEPROMPageSize = 64
)

type tinyGoHAL struct {
	logger *uartLogger
	t      *tinyGoTime
	nvm    NVM
	irq    Irq
	timer  *TickTimer
}

// New returns the board HAL: UART0 logging at 115200 8N1 and an AT24C256
// (or pin-compatible FRAM) on I2C0 as NVM.
//
// When the NVM cannot be brought up the HAL is still returned, with a nil
// NVM, so the caller can log the error.
func New() (HAL, error) {
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{BaudRate: 115200})

	timer := newSoftTimer()
	h := &tinyGoHAL{
		logger: &uartLogger{uart: uart},
		t:      newTinyGoTime(timer),
		irq:    NewSoftIrq(),
		timer:  timer,
	}

	i2c := machine.I2C0
	if err := i2c.Configure(machine.I2CConfig{Frequency: 400 * machine.KHz}); err != nil {
		return h, fmt.Errorf("nvm: configure i2c0: %w", err)
	}
	e, err := NewEEPROM(i2c, boardEEPROMBytes, boardEEPROMPageSize)
	if err != nil {
		return h, fmt.Errorf("nvm: %w", err)
	}
	h.nvm = e
	return h, nil
}

func (h *tinyGoHAL) Logger() Logger    { return h.logger }
func (h *tinyGoHAL) NVM() NVM          { return h.nvm }
func (h *tinyGoHAL) Time() Time        { return h.t }
func (h *tinyGoHAL) Irq() Irq          { return h.irq }
func (h *tinyGoHAL) Timer() *TickTimer { return h.timer }

type uartLogger struct {
	uart *machine.UART
}

func (l *uartLogger) WriteLineString(s string) {
	l.uart.Write([]byte(s))
	l.uart.Write([]byte("\r\n"))
}

func (l *uartLogger) WriteLineBytes(b []byte) {
	l.uart.Write(b)
	l.uart.Write([]byte("\r\n"))
}

type tinyGoTime struct {
	ch chan uint64
}

func newTinyGoTime(timer *TickTimer) *tinyGoTime {
	t := &tinyGoTime{ch: make(chan uint64, 64)}
	go func() {
		var seq uint64
		for {
			time.Sleep(time.Millisecond)
			if !timer.Running() {
				continue
			}
			timer.Fired()
			seq++
			select {
			case t.ch <- seq:
			default:
			}
		}
	}()
	return t
}

func (t *tinyGoTime) Ticks() <-chan uint64 { return t.ch }
