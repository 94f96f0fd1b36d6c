package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventWaiterWakesOnSet(t *testing.T) {
	k, _ := newTestKernel(t)
	var (
		got    uint32
		waitEr error
		wokeAt Ticks
	)
	require.NoError(t, k.Boot(func(tok *SyscallToken) error {
		g := tok.NewEventGroup()
		tok.CreateTask(TaskSpec{Name: "waiter", Priority: 2, Entry: func(c *Context, _ any) {
			_ = c.RunSystem(func(tok *SyscallToken) error {
				got, waitEr = tok.WaitEvents(g, 0x1, MatchAny, false, 100)
				wokeAt = tok.Now()
				return nil
			})
		}})
		tok.CreateTask(TaskSpec{Name: "setter", Priority: 1, Entry: func(c *Context, _ any) {
			_ = c.RunSystem(func(tok *SyscallToken) error {
				tok.SetEvents(g, 0x1)
				return nil
			})
		}})
		return nil
	}))
	require.NoError(t, run(t, k))
	require.NoError(t, waitEr)
	assert.EqualValues(t, 0x1, got)
	assert.Zero(t, wokeAt)
}

func TestEventWaitTimesOut(t *testing.T) {
	k, _ := newTestKernel(t)
	var (
		got    uint32
		waitEr error
	)
	require.NoError(t, k.Boot(func(tok *SyscallToken) error {
		g := tok.NewEventGroup()
		tok.SetEvents(g, 0x2)
		tok.CreateTask(TaskSpec{Name: "waiter", Entry: func(c *Context, _ any) {
			_ = c.RunSystem(func(tok *SyscallToken) error {
				got, waitEr = tok.WaitEvents(g, 0x1, MatchAny, false, 100)
				return nil
			})
		}})
		return nil
	}))
	require.NoError(t, run(t, k))
	assert.ErrorIs(t, waitEr, ErrTimeout)
	assert.Zero(t, got)
	assert.EqualValues(t, 100, k.Now())
}

func TestEventMatchAllAndAutoClear(t *testing.T) {
	k, _ := newTestKernel(t)
	var (
		gotAll, gotAny uint32
		after          []uint32
	)
	require.NoError(t, k.Boot(func(tok *SyscallToken) error {
		g := tok.NewEventGroup()
		tok.CreateTask(TaskSpec{Name: "all", Priority: 3, Entry: func(c *Context, _ any) {
			_ = c.RunSystem(func(tok *SyscallToken) error {
				gotAll, _ = tok.WaitEvents(g, 0x3, MatchAll, true, Forever)
				return nil
			})
		}})
		tok.CreateTask(TaskSpec{Name: "any", Priority: 3, Entry: func(c *Context, _ any) {
			_ = c.RunSystem(func(tok *SyscallToken) error {
				gotAny, _ = tok.WaitEvents(g, 0x2, MatchAny, false, Forever)
				return nil
			})
		}})
		tok.CreateTask(TaskSpec{Name: "setter", Priority: 1, Entry: func(c *Context, _ any) {
			_ = c.RunSystem(func(tok *SyscallToken) error {
				after = append(after, tok.SetEvents(g, 0x1))
				after = append(after, tok.SetEvents(g, 0x2|0x8))
				after = append(after, tok.ClearEvents(g, 0x8), tok.Events(g))
				return nil
			})
		}})
		return nil
	}))
	require.NoError(t, run(t, k))
	assert.EqualValues(t, 0x3, gotAll)
	assert.EqualValues(t, 0x2, gotAny)
	// The ALL waiter cleared 0x3 after both were evaluated; 0x8 was nobody's.
	assert.Equal(t, []uint32{0x1, 0x8, 0x8, 0x0}, after)
}

func TestEventPollAndAutoClear(t *testing.T) {
	k, _ := newTestKernel(t)
	require.NoError(t, k.Boot(func(tok *SyscallToken) error {
		g := tok.NewEventGroup()
		_, err := tok.WaitEvents(g, 0x1, MatchAny, false, 0)
		assert.ErrorIs(t, err, ErrTimeout)

		tok.SetEvents(g, 0x5)
		got, err := tok.WaitEvents(g, 0x7, MatchAny, true, 0)
		require.NoError(t, err)
		assert.EqualValues(t, 0x5, got)
		assert.Zero(t, tok.Events(g))
		return nil
	}))
}

func TestEventBadHandleIsFatal(t *testing.T) {
	k, _ := newTestKernel(t)
	err := k.Boot(func(tok *SyscallToken) error {
		tok.SetEvents(EventGroup{}, 1)
		return nil
	})
	requireFatal(t, err, ErrBadHandle)
}
