package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterFields(t *testing.T) {
	bus := NewRegisterFile[uint32](4)
	r := NewRegister[uint32](bus, 4)

	r.Set(0xF0F0_0000)
	f := Field[uint32]{Name: "MID", Shift: 8, Width: 4}
	r.SetField(f, 0xA)
	assert.Equal(t, uint32(0xF0F0_0A00), r.Get())
	assert.Equal(t, uint32(0xA), r.Field(f))

	r.SetField(f, 0x1F)
	assert.Equal(t, uint32(0xF), r.Field(f), "excess bits are dropped")

	r.ClearBits(0xF000_0000)
	assert.Equal(t, uint32(0x00F0_0F00), r.Get())
	assert.True(t, r.HasBits(0x00F0_0000))
	assert.Equal(t, uint32(0), NewRegister[uint32](bus, 0).Get(), "neighbour untouched")
}

func TestRegisterNarrowWidth(t *testing.T) {
	bus := NewRegisterFile[uint8](2)
	r := NewRegister[uint8](bus, 1)
	r.SetBits(0x81)
	assert.Equal(t, uint8(0x81), r.Get())
	assert.Equal(t, uint8(0), bus.Load(0))
	assert.Equal(t, uint8(0x80), Field[uint8]{Shift: 7, Width: 1}.Mask())
}

func TestTickTimer(t *testing.T) {
	tm := newSoftTimer()
	assert.False(t, tm.Running())

	tm.Configure(1000, 3)
	assert.Equal(t, uint32(1000), tm.Period())
	assert.Equal(t, uint32(3), tm.Prescale())
	assert.False(t, tm.Running())

	tm.Start()
	assert.True(t, tm.Running())
	assert.Equal(t, uint32(1), tm.Fired())
	assert.Equal(t, uint32(2), tm.Fired())

	tm.Stop()
	assert.False(t, tm.Running())
	assert.Equal(t, uint32(3), tm.Prescale(), "stop keeps prescale")
}
