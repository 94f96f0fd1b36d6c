package hal

import (
	"errors"
	"sync"

	"tinygo.org/x/drivers"
)

var errI2CNack = errors.New("i2c: no acknowledge")

// SimEEPROM is an I2C bus with one simulated AT24Cxx part attached.
//
// Writes wrap inside the addressed page like the real part; sequential reads
// wrap at the end of the array.
type SimEEPROM struct {
	mu       sync.Mutex
	addr     uint16
	mem      []byte
	pageSize int
	txs      int
}

var _ drivers.I2C = (*SimEEPROM)(nil)

// NewSimEEPROM returns a part of size bytes answering at the at24cx default
// address.
func NewSimEEPROM(size int, pageSize int) *SimEEPROM {
	if pageSize <= 0 {
		pageSize = 32
	}
	return &SimEEPROM{addr: 0x57, mem: make([]byte, size), pageSize: pageSize}
}

// Transactions returns the number of bus transactions seen.
func (s *SimEEPROM) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txs
}

func (s *SimEEPROM) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr != s.addr {
		return errI2CNack
	}
	if len(w) < 2 {
		return errI2CNack
	}
	s.txs++

	ptr := (int(w[0])<<8 | int(w[1])) % len(s.mem)
	if data := w[2:]; len(data) > 0 {
		base := ptr - ptr%s.pageSize
		col := ptr % s.pageSize
		for i, b := range data {
			s.mem[(base+(col+i)%s.pageSize)%len(s.mem)] = b
		}
	}
	for i := range r {
		r[i] = s.mem[(ptr+i)%len(s.mem)]
	}
	return nil
}
