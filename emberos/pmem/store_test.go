package pmem

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ember/emberos/config"
	"ember/hal"
)

var testDeployment = uuid.MustParse("6f1c2a4e-0b7d-4c1e-9a55-2f3e4d5c6b7a")

func testFormat() *FormatOptions {
	return &FormatOptions{Deployment: testDeployment, BootHeapBytes: 1024, BootJournalBytes: 256}
}

func openStore(t *testing.T, nvm hal.NVM, mode config.Mode) *Store {
	t.Helper()
	s, err := Open(nvm, OpenOptions{Mode: mode, Format: testFormat()})
	require.NoError(t, err)
	return s
}

func requireFatal(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		fe, ok := r.(*FatalError)
		require.True(t, ok, "panic value %v", r)
		assert.ErrorIs(t, fe, target)
	}()
	fn()
}

func TestOpenUnformatted(t *testing.T) {
	_, err := Open(hal.NewMemNVM(4096), OpenOptions{})
	assert.ErrorIs(t, err, ErrUnformatted)

	s := openStore(t, hal.NewMemNVM(4096), config.ModeNormal)
	assert.True(t, s.Formatted())
	assert.Equal(t, testDeployment, s.Deployment())
	assert.Equal(t, BootHeap, s.Boot().Name())
	assert.EqualValues(t, 1024, s.Boot().Capacity())
}

func TestFormatTooSmall(t *testing.T) {
	err := Format(hal.NewMemNVM(1024), *testFormat())
	assert.ErrorIs(t, err, ErrNoSpace)

	err = Format(hal.NewMemNVM(4096), FormatOptions{BootHeapBytes: 64, BootJournalBytes: 8})
	assert.ErrorIs(t, err, ErrNoSpace)
}

func TestReopenKeepsState(t *testing.T) {
	nvm := hal.NewMemNVM(8192)
	s := openStore(t, nvm, config.ModeNormal)
	obj := NewObject[uint32](s.Boot(), "answer", 7)
	require.NoError(t, Update(s.Boot().Journal(), func(tx *Txn) error {
		obj.Write(tx, 42)
		return nil
	}))
	_, err := s.OpenHeap("sensor", 512, 128)
	require.NoError(t, err)

	s2 := openStore(t, nvm, config.ModeNormal)
	assert.False(t, s2.Formatted())
	got, err := OpenObject[uint32](s2.Boot(), "answer")
	require.NoError(t, err)
	v, err := got.Committed()
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)

	h, ok := s2.Heap("sensor")
	require.True(t, ok)
	assert.EqualValues(t, 512, h.Capacity())
	assert.Len(t, s2.Heaps(), 2)
}

func TestDeploymentChangeReformats(t *testing.T) {
	nvm := hal.NewMemNVM(8192)
	s := openStore(t, nvm, config.ModeIdempotent)
	NewObject[uint32](s.Boot(), "stale", 1)

	next := uuid.MustParse("0d9e8f7a-6b5c-4d3e-8f1a-2b3c4d5e6f70")
	_, err := Open(nvm, OpenOptions{Mode: config.ModeIdempotent, Deployment: next})
	assert.ErrorIs(t, err, ErrDeploymentReset)

	s2, err := Open(nvm, OpenOptions{Mode: config.ModeIdempotent, Deployment: next, Format: testFormat()})
	require.NoError(t, err)
	assert.True(t, s2.Formatted())
	assert.Equal(t, next, s2.Deployment())
	_, err = s2.Boot().Lookup("stale")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSRAMBaselineForgets(t *testing.T) {
	mem := hal.NewVolatileMem(8192)
	s := openStore(t, mem, config.ModeSRAMBaseline)
	obj := NewObject[uint32](s.Boot(), "n", 0)
	require.NoError(t, Update(s.Boot().Journal(), func(tx *Txn) error {
		obj.Write(tx, 5)
		return nil
	}))

	mem.Restore()
	s2 := openStore(t, mem, config.ModeSRAMBaseline)
	_, err := s2.Boot().Lookup("n")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenHeap(t *testing.T) {
	s := openStore(t, hal.NewMemNVM(8192), config.ModeNormal)

	h, err := s.OpenHeap("task-a", 1000, 130)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, h.Capacity())
	assert.EqualValues(t, 132-journalHeaderSize, h.Journal().Capacity())

	again, err := s.OpenHeap("task-a", 1000, 130)
	require.NoError(t, err)
	assert.Same(t, h, again)

	_, err = s.OpenHeap("task-a", 2000, 130)
	assert.ErrorIs(t, err, ErrLayoutMismatch)
	_, err = s.OpenHeap("tiny", 100, 16)
	assert.ErrorIs(t, err, ErrNoSpace)
	_, err = s.OpenHeap("huge", 1<<20, 256)
	assert.ErrorIs(t, err, ErrNoSpace)
	_, err = s.OpenHeap("a-name-longer-than-16", 100, 128)
	assert.ErrorIs(t, err, ErrBadName)
}

func TestAllocIdempotent(t *testing.T) {
	s := openStore(t, hal.NewMemNVM(8192), config.ModeNormal)
	h := s.Boot()

	id, created, err := h.Alloc("buf", 10)
	require.NoError(t, err)
	assert.True(t, created)
	assert.EqualValues(t, 10, id.Size())

	again, created, err := h.Alloc("buf", 10)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, h.ObjectCount())
	assert.EqualValues(t, recordHeaderSize+12, h.Used())

	_, _, err = h.Alloc("buf", 11)
	assert.ErrorIs(t, err, ErrLayoutMismatch)
	_, _, err = h.Alloc("big", 4096)
	assert.ErrorIs(t, err, ErrHeapFull)

	objs, err := h.Objects()
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "buf", objs[0].Name)
}

func TestAllocWhileJournalBusy(t *testing.T) {
	s := openStore(t, hal.NewMemNVM(8192), config.ModeNormal)
	tx, err := s.Boot().Journal().Begin()
	require.NoError(t, err)
	defer tx.Discard()

	_, _, err = s.Boot().Alloc("late", 4)
	assert.ErrorIs(t, err, ErrJournalBusy)
}

func TestInspect(t *testing.T) {
	nvm := hal.NewMemNVM(8192)
	s := openStore(t, nvm, config.ModeNormal)
	NewObject[uint64](s.Boot(), "ticks", 0)
	_, err := s.OpenHeap("worker", 256, 128)
	require.NoError(t, err)

	r, err := Inspect(nvm)
	require.NoError(t, err)
	assert.Equal(t, testDeployment, r.Deployment)
	require.Len(t, r.Heaps, 2)
	assert.Equal(t, "idle", r.Heaps[0].Journal.State)
	assert.EqualValues(t, 2, r.Heaps[0].Journal.Seq)
	require.Len(t, r.Heaps[0].Objects, 1)
	assert.Equal(t, "ticks", r.Heaps[0].Objects[0].Name)

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	assert.Contains(t, buf.String(), "heap worker base=")
	assert.Contains(t, buf.String(), "object ticks")
}

func TestStoreOnEEPROM(t *testing.T) {
	bus := hal.NewSimEEPROM(8192, 32)
	nvm, err := hal.NewEEPROM(bus, 8192, 32)
	require.NoError(t, err)

	s := openStore(t, nvm, config.ModeIdempotent)
	h, err := s.OpenHeap("sensor", 256, 128)
	require.NoError(t, err)
	obj := NewObject[uint32](h, "reading", 0)
	require.NoError(t, Update(h.Journal(), func(tx *Txn) error {
		obj.Write(tx, 0xC0FFEE)
		return nil
	}))

	s = openStore(t, nvm, config.ModeIdempotent)
	h, ok := s.Heap("sensor")
	require.True(t, ok)
	reopened, err := OpenObject[uint32](h, "reading")
	require.NoError(t, err)
	v, err := reopened.Committed()
	require.NoError(t, err)
	assert.EqualValues(t, 0xC0FFEE, v)
	assert.Positive(t, bus.Transactions())
}
