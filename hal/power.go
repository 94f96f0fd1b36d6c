package hal

import (
	"errors"
	"fmt"
)

// ErrPowerLoss reports that execution stopped because the supply failed.
var ErrPowerLoss = errors.New("power loss")

// PowerLoss is the panic value raised by a simulated NVM device when the
// supply fails. Nothing may touch NVM after it is raised; the stack unwinds
// to the nearest reboot point.
type PowerLoss struct {
	// Write is the device write count at which power failed.
	Write uint64
}

func (p PowerLoss) Error() string {
	return fmt.Sprintf("power loss at nvm write %d", p.Write)
}

func (p PowerLoss) Unwrap() error { return ErrPowerLoss }

// IsPowerLoss reports whether a recovered panic value is a power loss.
func IsPowerLoss(v any) bool {
	switch e := v.(type) {
	case PowerLoss, *PowerLoss:
		return true
	case error:
		return errors.Is(e, ErrPowerLoss)
	}
	return false
}

// Survive runs fn and converts a power loss panic into ErrPowerLoss.
//
// Any other panic propagates.
func Survive(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if !IsPowerLoss(r) {
				panic(r)
			}
			if pl, ok := r.(PowerLoss); ok {
				err = pl
				return
			}
			err = ErrPowerLoss
		}
	}()
	return fn()
}
