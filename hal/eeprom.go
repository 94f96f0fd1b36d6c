package hal

import (
	"fmt"
	"os"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/at24cx"
)

// MaxEEPROMBytes is the largest part the 16-bit word address can reach
// (AT24C256).
const MaxEEPROMBytes = 32 * 1024

// EEPROM is NVM on a 2-wire serial EEPROM/FRAM part.
type EEPROM struct {
	dev  at24cx.Device
	size uint32
}

// NewEEPROM wraps an AT24Cxx-compatible part of size bytes on bus.
//
// The bus must already be configured.
func NewEEPROM(bus drivers.I2C, size uint32, pageSize uint16) (*EEPROM, error) {
	if size == 0 || size > MaxEEPROMBytes {
		return nil, fmt.Errorf("eeprom size %d: %w", size, os.ErrInvalid)
	}
	dev := at24cx.New(bus)
	dev.Configure(at24cx.Config{
		PageSize:      pageSize,
		EndRAMAddress: uint16(size),
	})
	return &EEPROM{dev: dev, size: size}, nil
}

func (e *EEPROM) SizeBytes() uint32 { return e.size }

func (e *EEPROM) ReadAt(p []byte, off uint32) (int, error) {
	if off >= e.size {
		return 0, fmt.Errorf("eeprom read at %d: %w", off, os.ErrInvalid)
	}
	if maxN := int(e.size - off); len(p) > maxN {
		p = p[:maxN]
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := e.dev.ReadAt(p, int64(off))
	if err != nil {
		return 0, fmt.Errorf("eeprom read at %d: %w", off, err)
	}
	return n, nil
}

func (e *EEPROM) WriteAt(p []byte, off uint32) (int, error) {
	if off >= e.size || uint64(off)+uint64(len(p)) > uint64(e.size) {
		return 0, fmt.Errorf("eeprom write at %d len %d: %w", off, len(p), os.ErrInvalid)
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := e.dev.WriteAt(p, int64(off))
	if err != nil {
		return 0, fmt.Errorf("eeprom write at %d: %w", off, err)
	}
	return n, nil
}
