package pmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ember/emberos/config"
	"ember/hal"
)

// sumLoop adds i+1 to "sum" for every i in [0, 10).
func sumLoop(s *Store) error {
	h := s.Boot()
	sum := NewObject[uint32](h, "sum", 0)
	ctr := DeclareCounter(h, "sum.i")
	return RunLoop(h.Journal(), ctr, 0, 10, func(tx *Txn, i uint32) error {
		sum.Update(tx, func(v *uint32) { *v += i + 1 })
		return nil
	})
}

// rebootUntilDone reruns body after every power loss, losing power every
// failEvery writes.
func rebootUntilDone(t *testing.T, nvm *hal.MemNVM, mode config.Mode, failEvery uint64, body func(*Store) error) int {
	t.Helper()
	for boots := 1; boots < 200; boots++ {
		nvm.FailAfter(failEvery)
		err := hal.Survive(func() error {
			s, err := Open(nvm, OpenOptions{Mode: mode, Format: testFormat()})
			if err != nil {
				return err
			}
			return body(s)
		})
		nvm.FailAfter(0)
		nvm.Restore()
		if err == nil {
			return boots
		}
		require.ErrorIs(t, err, hal.ErrPowerLoss)
	}
	t.Fatal("no forward progress")
	return 0
}

func committedSum(t *testing.T, nvm hal.NVM, mode config.Mode) (sum, counter uint32) {
	t.Helper()
	s := openStore(t, nvm, mode)
	obj, err := OpenObject[uint32](s.Boot(), "sum")
	require.NoError(t, err)
	sum, err = obj.Committed()
	require.NoError(t, err)
	return sum, DeclareCounter(s.Boot(), "sum.i").Value()
}

func TestIdempotentLoopUnderPowerLoss(t *testing.T) {
	for _, every := range []uint64{7, 9, 13, 29} {
		nvm := hal.NewMemNVM(8192)
		boots := rebootUntilDone(t, nvm, config.ModeIdempotent, every, sumLoop)
		assert.Greater(t, boots, 1, "every=%d", every)

		sum, ctr := committedSum(t, nvm, config.ModeIdempotent)
		assert.EqualValues(t, 55, sum, "every=%d", every)
		assert.EqualValues(t, 10, ctr, "every=%d", every)
	}
}

func TestIdempotentLoopRunsOnce(t *testing.T) {
	nvm := hal.NewMemNVM(8192)
	require.NoError(t, sumLoop(openStore(t, nvm, config.ModeIdempotent)))
	require.NoError(t, sumLoop(openStore(t, nvm, config.ModeIdempotent)))

	sum, _ := committedSum(t, nvm, config.ModeIdempotent)
	assert.EqualValues(t, 55, sum)
}

func TestNormalLoopRestarts(t *testing.T) {
	nvm := hal.NewMemNVM(8192)
	require.NoError(t, sumLoop(openStore(t, nvm, config.ModeNormal)))
	require.NoError(t, sumLoop(openStore(t, nvm, config.ModeNormal)))

	sum, ctr := committedSum(t, nvm, config.ModeNormal)
	assert.EqualValues(t, 110, sum)
	assert.Zero(t, ctr)
}

// Without a journal the body write and the counter step are separate, so a
// loss between them repeats an iteration.
func TestDurableBaselineRepeatsIteration(t *testing.T) {
	for _, tc := range []struct {
		mode config.Mode
		want uint32
	}{
		{config.ModeDurableBaseline, 59},
		{config.ModeIdempotent, 55},
	} {
		nvm := hal.NewMemNVM(8192)
		s := openStore(t, nvm, tc.mode)
		NewObject[uint32](s.Boot(), "sum", 0)
		DeclareCounter(s.Boot(), "sum.i")

		// Durable: iteration i writes sum then counter, so write 8 is the
		// counter step of iteration 3.
		nvm.FailAfter(8)
		err := hal.Survive(func() error { return sumLoop(openStore(t, nvm, tc.mode)) })
		require.ErrorIs(t, err, hal.ErrPowerLoss)
		nvm.Restore()
		require.NoError(t, sumLoop(openStore(t, nvm, tc.mode)))

		sum, ctr := committedSum(t, nvm, tc.mode)
		assert.Equal(t, tc.want, sum, tc.mode.String())
		assert.EqualValues(t, 10, ctr, tc.mode.String())
	}
}

func TestCounter(t *testing.T) {
	s := openStore(t, hal.NewMemNVM(8192), config.ModeIdempotent)
	c := DeclareCounter(s.Boot(), "c")
	assert.Equal(t, "c", c.Name())
	assert.Zero(t, c.Value())
	assert.EqualValues(t, 3, c.Resume(3))

	require.NoError(t, Update(s.Boot().Journal(), func(tx *Txn) error {
		c.Advance(tx, 5)
		assert.EqualValues(t, 5, c.Load(tx))
		return nil
	}))
	assert.EqualValues(t, 5, c.Value())
	assert.EqualValues(t, 5, c.Resume(2))
	assert.EqualValues(t, 5, DeclareCounter(s.Boot(), "c").Value())

	tx, err := s.Boot().Journal().Begin()
	require.NoError(t, err)
	requireFatal(t, ErrCounterRegress, func() { c.Advance(tx, 4) })
	c.Reset(tx, 0)
	require.NoError(t, tx.Commit())
	assert.Zero(t, c.Value())
}

func TestRunLoopStopsOnError(t *testing.T) {
	s := openStore(t, hal.NewMemNVM(8192), config.ModeIdempotent)
	c := DeclareCounter(s.Boot(), "c")
	err := RunLoop(s.Boot().Journal(), c, 0, 5, func(tx *Txn, i uint32) error {
		if i == 2 {
			return ErrNotFound
		}
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualValues(t, 2, c.Value())
}

func TestCounterInitialValue(t *testing.T) {
	s := openStore(t, hal.NewMemNVM(8192), config.ModeIdempotent)
	c := DeclareCounterAt(s.Boot(), "c", 7)
	assert.EqualValues(t, 7, c.Value())
	assert.EqualValues(t, 7, DeclareCounterAt(s.Boot(), "c", 3).Value())

	var ran []uint32
	require.NoError(t, RunLoop(s.Boot().Journal(), c, 0, 10, func(tx *Txn, i uint32) error {
		ran = append(ran, i)
		return nil
	}))
	assert.Equal(t, []uint32{7, 8, 9}, ran)
	assert.EqualValues(t, 10, c.Value())
}
