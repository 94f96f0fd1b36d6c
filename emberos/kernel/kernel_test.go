package kernel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ember/emberos/config"
	"ember/emberos/pmem"
	"ember/hal"
)

func testOptions() Options {
	return Options{
		MaxTasks:       4,
		StackBytes:     512,
		StackPoolBytes: 4096,
		HeapBytes:      512,
		JournalBytes:   256,
	}
}

func newTestKernel(t *testing.T, mutate ...func(*Options)) (*Kernel, *hal.MemNVM) {
	t.Helper()
	nvm := hal.NewMemNVM(64 * 1024)
	store, err := pmem.Open(nvm, pmem.OpenOptions{
		Mode:   config.ModeIdempotent,
		Format: &pmem.FormatOptions{BootHeapBytes: 1024, BootJournalBytes: 256},
	})
	require.NoError(t, err)
	opts := testOptions()
	for _, fn := range mutate {
		fn(&opts)
	}
	k, err := New(store, opts)
	require.NoError(t, err)
	return k, nvm
}

func run(t *testing.T, k *Kernel) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return k.Run(ctx)
}

// ticker calls k.Tick every millisecond until the test ends.
func ticker(t *testing.T, k *Kernel) {
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(time.Millisecond):
				k.Tick()
			}
		}
	}()
}

func requireFatal(t *testing.T, err error, target error) {
	t.Helper()
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, target)
}

func spawn(k *Kernel, specs ...TaskSpec) error {
	return k.Boot(func(tok *SyscallToken) error {
		for _, s := range specs {
			tok.CreateTask(s)
		}
		return nil
	})
}

func TestNewValidatesOptions(t *testing.T) {
	k, _ := newTestKernel(t)
	for _, mutate := range []func(*Options){
		func(o *Options) { o.MaxTasks = 0 },
		func(o *Options) { o.StackPoolBytes = 1 },
		func(o *Options) { o.JournalBytes = 8 },
	} {
		o := testOptions()
		mutate(&o)
		_, err := New(k.Store(), o)
		assert.ErrorIs(t, err, ErrBadArgument)
	}
	_, err := New(nil, testOptions())
	assert.ErrorIs(t, err, ErrBadArgument)
}

func TestPriorityOrder(t *testing.T) {
	k, _ := newTestKernel(t)
	var order []string
	entry := func(c *Context, arg any) { order = append(order, arg.(string)) }

	require.NoError(t, spawn(k,
		TaskSpec{Name: "low", Priority: 1, Entry: entry, Arg: "low"},
		TaskSpec{Name: "high", Priority: 3, Entry: entry, Arg: "high"},
		TaskSpec{Name: "mid-a", Priority: 2, Entry: entry, Arg: "mid-a"},
		TaskSpec{Name: "mid-b", Priority: 2, Entry: entry, Arg: "mid-b"},
	))
	require.NoError(t, run(t, k))
	assert.Equal(t, []string{"high", "mid-a", "mid-b", "low"}, order)

	for _, ti := range k.Tasks() {
		assert.Equal(t, StateTerminated, ti.State, ti.Name)
		assert.Equal(t, ti.Name, ti.Heap)
	}
	assert.ErrorIs(t, run(t, k), ErrHalted)
}

func TestDelayAndYield(t *testing.T) {
	k, _ := newTestKernel(t)
	var log []string
	var wokeAt Ticks

	require.NoError(t, spawn(k,
		TaskSpec{Name: "sleeper", Priority: 2, Entry: func(c *Context, _ any) {
			_ = c.RunSystem(func(tok *SyscallToken) error {
				log = append(log, "sleep")
				tok.Delay(25)
				wokeAt = tok.Now()
				log = append(log, "woke")
				return nil
			})
		}},
		TaskSpec{Name: "a", Priority: 1, Entry: func(c *Context, _ any) {
			_ = c.RunSystem(func(tok *SyscallToken) error {
				log = append(log, "a1")
				tok.Yield()
				log = append(log, "a2")
				return nil
			})
		}},
		TaskSpec{Name: "b", Priority: 1, Entry: func(c *Context, _ any) {
			log = append(log, "b")
		}},
	))
	require.NoError(t, run(t, k))
	assert.Equal(t, []string{"sleep", "a1", "b", "a2", "woke"}, log)
	assert.EqualValues(t, 25, wokeAt)
	assert.EqualValues(t, 25, k.Now())
}

// A low-priority task spinning through one-shot transactions gives way as
// soon as a tick makes a higher-priority task ready.
func TestPriorityPreemption(t *testing.T) {
	k, _ := newTestKernel(t)
	var (
		stop      bool
		spins     int
		spinsSeen int
		wokeAt    Ticks
	)
	require.NoError(t, spawn(k,
		TaskSpec{Name: "spinner", Priority: 1, Entry: func(c *Context, _ any) {
			for !stop {
				_ = c.RunOnce(func(tx *pmem.Txn, tok *SyscallToken) error {
					spins++
					return nil
				})
			}
		}},
		TaskSpec{Name: "urgent", Priority: 5, Entry: func(c *Context, _ any) {
			_ = c.RunSystem(func(tok *SyscallToken) error {
				tok.Delay(3)
				wokeAt = tok.Now()
				spinsSeen = spins
				stop = true
				return nil
			})
		}},
	))
	ticker(t, k)
	require.NoError(t, run(t, k))

	assert.GreaterOrEqual(t, uint64(wokeAt), uint64(3))
	assert.Positive(t, spinsSeen)
	// The spinner finishes the step it was preempted in, then sees stop.
	assert.Equal(t, spinsSeen+1, spins)
}

// A transaction body that never calls into the kernel is still preempted at
// its next persistent-object access once a tick readies a higher priority.
func TestPreemptionInsideTransactionBody(t *testing.T) {
	k, _ := newTestKernel(t)
	var (
		obj       *pmem.Object[uint32]
		stop      bool
		inBody    bool
		bodyOpen  bool
		reads     int
		readsSeen int
		wokeAt    Ticks
	)
	require.NoError(t, spawn(k,
		TaskSpec{Name: "spinner", Priority: 1, Entry: func(c *Context, _ any) {
			_ = c.RunSystem(func(tok *SyscallToken) error {
				obj = pmem.NewObject[uint32](tok.Heap(), "v", 0)
				return nil
			})
			_ = c.RunApp(func(tx *pmem.Txn) error {
				inBody = true
				for !stop {
					_ = obj.Read(tx)
					reads++
				}
				inBody = false
				return nil
			})
		}},
		TaskSpec{Name: "urgent", Priority: 5, Entry: func(c *Context, _ any) {
			_ = c.RunSystem(func(tok *SyscallToken) error {
				tok.Delay(3)
				wokeAt = tok.Now()
				bodyOpen = inBody
				readsSeen = reads
				stop = true
				return nil
			})
		}},
	))
	ticker(t, k)
	require.NoError(t, run(t, k))

	assert.True(t, bodyOpen, "urgent only ran after the spinner's transaction ended")
	assert.Positive(t, readsSeen)
	assert.GreaterOrEqual(t, uint64(wokeAt), uint64(3))
	// Time kept advancing while the body spun.
	assert.GreaterOrEqual(t, uint64(k.Now()), uint64(wokeAt))
	assert.EqualValues(t, 1, k.Commits())
}

func TestTimeSlicing(t *testing.T) {
	k, _ := newTestKernel(t, func(o *Options) { o.TimeSlice = true })
	var bRan bool
	require.NoError(t, spawn(k,
		TaskSpec{Name: "a", Priority: 1, Entry: func(c *Context, _ any) {
			for !bRan {
				_ = c.RunApp(func(tx *pmem.Txn) error { return nil })
			}
		}},
		TaskSpec{Name: "b", Priority: 1, Entry: func(c *Context, _ any) { bRan = true }},
	))
	ticker(t, k)
	require.NoError(t, run(t, k))
	assert.True(t, bRan)
}

func TestStalled(t *testing.T) {
	k, _ := newTestKernel(t)
	var g EventGroup
	require.NoError(t, k.Boot(func(tok *SyscallToken) error {
		g = tok.NewEventGroup()
		tok.CreateTask(TaskSpec{Name: "w", Entry: func(c *Context, _ any) {
			_ = c.RunSystem(func(tok *SyscallToken) error {
				_, err := tok.WaitEvents(g, 1, MatchAny, false, Forever)
				return err
			})
		}})
		return nil
	}))
	assert.ErrorIs(t, run(t, k), ErrStalled)
}

func TestExternalClock(t *testing.T) {
	k, _ := newTestKernel(t, func(o *Options) { o.Clock = ClockExternal })
	require.NoError(t, spawn(k, TaskSpec{Name: "d", Entry: func(c *Context, _ any) {
		_ = c.RunSystem(func(tok *SyscallToken) error {
			tok.Delay(5)
			return nil
		})
	}}))
	go func() {
		for i := uint64(1); i <= 5; i++ {
			time.Sleep(time.Millisecond)
			k.TickTo(i)
		}
	}()
	require.NoError(t, run(t, k))
	assert.EqualValues(t, 5, k.Now())
}

func TestEventsFromISR(t *testing.T) {
	k, _ := newTestKernel(t, func(o *Options) { o.Clock = ClockExternal })
	var (
		g   EventGroup
		got uint32
	)
	var waiting atomic.Bool
	require.NoError(t, k.Boot(func(tok *SyscallToken) error {
		g = tok.NewEventGroup()
		tok.CreateTask(TaskSpec{Name: "irq-wait", Entry: func(c *Context, _ any) {
			_ = c.RunSystem(func(tok *SyscallToken) error {
				waiting.Store(true)
				var err error
				got, err = tok.WaitEvents(g, 0x4, MatchAny, true, Forever)
				return err
			})
		}})
		return nil
	}))
	go func() {
		for !waiting.Load() {
			time.Sleep(time.Millisecond)
		}
		k.SetEventsFromISR(g, 0x4)
	}()
	require.NoError(t, run(t, k))
	assert.EqualValues(t, 0x4, got)
}

func TestRunHonoursContext(t *testing.T) {
	k, _ := newTestKernel(t, func(o *Options) { o.Clock = ClockExternal })
	require.NoError(t, spawn(k, TaskSpec{Name: "forever", Entry: func(c *Context, _ any) {
		_ = c.RunSystem(func(tok *SyscallToken) error {
			tok.Delay(Forever)
			return nil
		})
	}}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, k.Run(ctx), context.DeadlineExceeded)
}

func TestTransactionsCommitPerTask(t *testing.T) {
	k, _ := newTestKernel(t)
	var obj *pmem.Object[uint32]
	require.NoError(t, spawn(k, TaskSpec{Name: "writer", Entry: func(c *Context, _ any) {
		_ = c.RunSystem(func(tok *SyscallToken) error {
			obj = pmem.NewObject[uint32](tok.Heap(), "v", 1)
			return nil
		})
		_ = c.RunApp(func(tx *pmem.Txn) error {
			obj.Write(tx, 2)
			return nil
		})
		_ = c.RunSyscall(func(tx *pmem.Txn, tok *SyscallToken) error {
			obj.Update(tx, func(v *uint32) { *v += 40 })
			return errors.New("abandon")
		})
	}}))
	require.NoError(t, run(t, k))

	v, err := obj.Committed()
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)
	assert.EqualValues(t, 1, k.Commits())
	h, ok := k.Store().Heap("writer")
	require.True(t, ok)
	assert.EqualValues(t, 512, h.Capacity())
}

func TestLoopResumesAfterPowerLoss(t *testing.T) {
	nvm := hal.NewMemNVM(64 * 1024)
	format := &pmem.FormatOptions{BootHeapBytes: 1024, BootJournalBytes: 256}
	var sum uint32

	boot := func() error {
		store, err := pmem.Open(nvm, pmem.OpenOptions{Mode: config.ModeIdempotent, Format: format})
		if err != nil {
			return err
		}
		k, err := New(store, testOptions())
		if err != nil {
			return err
		}
		if err := spawn(k, TaskSpec{Name: "sum", Entry: func(c *Context, _ any) {
			var (
				acc *pmem.Object[uint32]
				ctr *pmem.Counter
			)
			_ = c.RunSystem(func(tok *SyscallToken) error {
				acc = pmem.NewObject[uint32](tok.Heap(), "acc", 0)
				ctr = pmem.DeclareCounter(tok.Heap(), "acc.i")
				return nil
			})
			_ = c.Loop(ctr, 0, 20, func(tx *pmem.Txn, i uint32) error {
				acc.Update(tx, func(v *uint32) { *v += i * i })
				return nil
			})
			sum, _ = acc.Committed()
		}}); err != nil {
			return err
		}
		return run(t, k)
	}

	var boots int
	for boots = 1; boots < 100; boots++ {
		nvm.FailAfter(15)
		err := hal.Survive(boot)
		nvm.FailAfter(0)
		nvm.Restore()
		if err == nil {
			break
		}
		require.ErrorIs(t, err, hal.ErrPowerLoss)
	}
	assert.Greater(t, boots, 1)
	assert.EqualValues(t, 2470, sum)
}
