//go:build !tinygo

package hal

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// HostConfig selects the host HAL backing stores.
type HostConfig struct {
	// NVMPath is the image file; empty keeps NVM in RAM.
	NVMPath  string
	NVMBytes uint32
	// NVM overrides NVMPath when set.
	NVM NVM
	// Log defaults to stdout.
	Log io.Writer
}

type hostHAL struct {
	logger *hostLogger
	t      *hostTime
	nvm    NVM
	irq    Irq
	timer  *TickTimer
}

// New returns a host HAL implementation.
func New(cfg HostConfig) (HAL, error) {
	w := cfg.Log
	if w == nil {
		w = os.Stdout
	}
	nvm := cfg.NVM
	if nvm == nil {
		if cfg.NVMPath != "" {
			f, err := OpenFileNVM(cfg.NVMPath, cfg.NVMBytes)
			if err != nil {
				return nil, fmt.Errorf("host hal: %w", err)
			}
			nvm = f
		} else {
			size := cfg.NVMBytes
			if size == 0 {
				size = hostNVMDefaultSizeBytes
			}
			nvm = NewMemNVM(size)
		}
	}
	return &hostHAL{
		logger: &hostLogger{w: w},
		t:      newHostTime(),
		nvm:    nvm,
		irq:    NewSoftIrq(),
		timer:  newSoftTimer(),
	}, nil
}

func (h *hostHAL) Logger() Logger    { return h.logger }
func (h *hostHAL) NVM() NVM          { return h.nvm }
func (h *hostHAL) Time() Time        { return h.t }
func (h *hostHAL) Irq() Irq          { return h.irq }
func (h *hostHAL) Timer() *TickTimer { return h.timer }

// WriterLogger returns a Logger writing one line per call to w.
func WriterLogger(w io.Writer) Logger { return &hostLogger{w: w} }

type hostLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}
