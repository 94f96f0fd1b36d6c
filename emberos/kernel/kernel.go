// Package kernel schedules tasks on top of the persistent store and gates
// every kernel and journal operation behind transaction contexts.
//
// Each task runs on its own goroutine but only the holder of the baton
// executes; the dispatcher hands it to the highest-priority ready task and
// gets it back when that task blocks, yields or exits. Timer ticks and
// interrupt-side event sets are queued under a lock and applied at the next
// kernel entry, which is also where preemption takes effect.
package kernel

import (
	"context"
	"fmt"
	"sync"

	"ember/emberos/config"
	"ember/emberos/pmem"
	"ember/emberos/stats"
	"ember/hal"
)

const (
	maxEventGroups = 32
	maxQueues      = 32
	maxQueueGroups = 8
)

// Ticks is kernel time.
type Ticks uint64

// Forever disables a timeout.
const Forever = ^Ticks(0)

// Clock selects how kernel time advances.
type Clock uint8

const (
	// ClockVirtual jumps to the next deadline whenever no task is ready.
	ClockVirtual Clock = iota
	// ClockExternal only advances on Tick/TickTo; idle waits for them.
	ClockExternal
)

// Options are the static limits and policies of a kernel.
type Options struct {
	Logger         hal.Logger
	MaxTasks       int
	StackBytes     uint32
	StackPoolBytes uint32
	HeapBytes      uint32
	JournalBytes   uint32
	Clock          Clock
	// TimeSlice rotates equal-priority tasks on every tick.
	TimeSlice bool
}

// OptionsFor derives kernel limits from board budgets.
func OptionsFor(b config.Budgets) Options {
	return Options{
		MaxTasks:       b.MaxTasks,
		StackBytes:     b.StackBytes,
		StackPoolBytes: b.StackPoolBytes,
		HeapBytes:      b.HeapBytes,
		JournalBytes:   b.JournalBytes,
	}
}

type isrSet struct {
	g    EventGroup
	mask uint32
}

// Kernel is the scheduler plus the kernel object tables.
//
// Kernel objects are volatile: tasks recreate them on every boot from their
// entry functions, while persistent state lives in the store.
type Kernel struct {
	opts  Options
	store *pmem.Store
	log   hal.Logger

	// mu guards the fields written from outside the baton.
	mu         sync.Mutex
	cond       *sync.Cond
	now        Ticks
	tickTarget Ticks
	slice      bool
	isr        []isrSet

	boot      *tcb
	tasks     []*tcb
	ready     []*tcb
	readySeq  uint64
	sleepers  []*tcb
	current   *tcb
	live      int
	stackUsed uint32

	groups  []*eventGroup
	queues  []*queue
	qgroups []*queueGroup

	back     chan struct{}
	halted   chan struct{}
	haltOnce sync.Once
	wg       sync.WaitGroup
	running  bool
	fault    error
	panicked bool

	commits  uint64
	switches uint64
}

// New returns a kernel scheduling tasks over store.
func New(store *pmem.Store, opts Options) (*Kernel, error) {
	switch {
	case store == nil:
		return nil, fmt.Errorf("kernel: nil store: %w", ErrBadArgument)
	case opts.MaxTasks <= 0 || opts.MaxTasks > 255:
		return nil, fmt.Errorf("kernel: max tasks %d: %w", opts.MaxTasks, ErrBadArgument)
	case opts.StackBytes == 0 || opts.StackPoolBytes < opts.StackBytes:
		return nil, fmt.Errorf("kernel: stack %d of pool %d: %w", opts.StackBytes, opts.StackPoolBytes, ErrBadArgument)
	case opts.HeapBytes == 0 || opts.JournalBytes < pmem.MinJournalBytes:
		return nil, fmt.Errorf("kernel: heap %d journal %d: %w", opts.HeapBytes, opts.JournalBytes, ErrBadArgument)
	}
	if opts.Logger == nil {
		opts.Logger = hal.NopLogger()
	}
	k := &Kernel{
		opts:   opts,
		store:  store,
		log:    opts.Logger,
		back:   make(chan struct{}),
		halted: make(chan struct{}),
	}
	k.cond = sync.NewCond(&k.mu)
	k.boot = &tcb{name: "boot", state: StateRunning, heap: store.Boot()}
	k.boot.ctx = &Context{k: k, t: k.boot}
	return k, nil
}

func (k *Kernel) Store() *pmem.Store { return k.store }

// Commits returns the number of transactions committed since New.
func (k *Kernel) Commits() uint64 { return k.commits }

// Switches returns the number of dispatches since New.
func (k *Kernel) Switches() uint64 { return k.switches }

// Now returns the kernel time.
func (k *Kernel) Now() Ticks {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.now
}

// Tick is the timer interrupt: it advances time by one tick. Deadlines expire
// and preemption happens at the next kernel entry.
func (k *Kernel) Tick() {
	k.mu.Lock()
	k.tickTarget = max(k.tickTarget, k.now) + 1
	k.slice = true
	k.mu.Unlock()
	k.cond.Broadcast()
}

// TickTo advances time to seq if it is ahead.
func (k *Kernel) TickTo(seq uint64) {
	k.mu.Lock()
	if Ticks(seq) > k.tickTarget {
		k.tickTarget = Ticks(seq)
		k.slice = true
	}
	k.mu.Unlock()
	k.cond.Broadcast()
}

// SetEventsFromISR sets bits of g from interrupt context. It never blocks;
// waiters wake at the next kernel entry.
func (k *Kernel) SetEventsFromISR(g EventGroup, mask uint32) {
	k.mu.Lock()
	k.isr = append(k.isr, isrSet{g: g, mask: mask})
	k.mu.Unlock()
	k.cond.Broadcast()
}

// service applies queued ticks and interrupt events. Only the baton holder
// calls it.
func (k *Kernel) service() {
	k.mu.Lock()
	target := k.tickTarget
	isr := k.isr
	k.isr = nil
	k.mu.Unlock()

	if target > k.Now() {
		k.advanceTo(target)
	}
	for _, s := range isr {
		eg := k.lookupGroup(s.g)
		if eg == nil {
			k.log.WriteLineString(fmt.Sprintf("kernel: isr-drop group=%d", s.g.id))
			continue
		}
		k.setEvents(eg, s.mask)
	}
}

func (k *Kernel) advanceTo(t Ticks) {
	k.mu.Lock()
	k.now = t
	k.tickTarget = max(k.tickTarget, t)
	k.mu.Unlock()
	k.expire(t)
}

// shouldPreempt reports whether the running task must give up the baton.
func (k *Kernel) shouldPreempt(t *tcb) bool {
	top := k.topReady()
	if top == nil || t.isBoot() {
		return false
	}
	if top.prio > t.prio {
		return true
	}
	if top.prio == t.prio && k.opts.TimeSlice {
		k.mu.Lock()
		defer k.mu.Unlock()
		return k.slice
	}
	return false
}

// preemptPoint runs at every kernel entry and at the exit of syscalls that
// can wake a task.
func (k *Kernel) preemptPoint(t *tcb) {
	if t.isBoot() {
		return
	}
	k.service()
	if k.shouldPreempt(t) {
		k.makeReady(t)
		k.switchOut(t)
	}
}

// switchOut hands the baton back to the dispatcher and parks until t is
// dispatched again. The caller has already queued or blocked t.
func (k *Kernel) switchOut(t *tcb) {
	k.back <- struct{}{}
	select {
	case <-t.resume:
	case <-k.halted:
		panic(haltSignal{})
	}
}

// Boot runs fn as a pure-system transaction in the boot context, on the
// calling goroutine. Use it to create the initial tasks and kernel objects.
// A fatal error or power loss halts the kernel and is returned.
func (k *Kernel) Boot(fn func(tok *SyscallToken) error) (err error) {
	if k.fault != nil {
		return k.fault
	}
	if k.running {
		return fmt.Errorf("kernel: boot while running: %w", ErrBadArgument)
	}
	k.current = k.boot
	defer func() {
		k.current = nil
		if r := recover(); r != nil {
			k.abort(k.boot, r)
			err = k.fault
			k.shutdown()
		}
	}()
	return k.boot.ctx.RunSystem(fn)
}

// Run dispatches tasks until every task has exited, ctx is done, or the
// kernel halts on a fatal error or power loss. A kernel runs once.
func (k *Kernel) Run(ctx context.Context) error {
	if k.fault != nil {
		return k.fault
	}
	if k.running {
		return ErrHalted
	}
	k.running = true
	defer k.shutdown()
	stop := context.AfterFunc(ctx, func() {
		k.mu.Lock()
		k.mu.Unlock()
		k.cond.Broadcast()
	})
	defer stop()

	k.log.WriteLineString(fmt.Sprintf("kernel: run tasks=%d mode=%s", len(k.tasks), k.store.Mode()))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		k.service()
		t := k.popReady()
		if t == nil {
			if k.live == 0 {
				return nil
			}
			if err := k.idle(ctx); err != nil {
				return err
			}
			continue
		}
		k.dispatch(t)
		if k.fault != nil {
			return k.fault
		}
	}
}

func (k *Kernel) dispatch(t *tcb) {
	k.current = t
	t.state = StateRunning
	k.mu.Lock()
	k.slice = false
	k.mu.Unlock()
	k.switches++
	stats.Record("kernel.ready", int64(len(k.ready)))

	if !t.started {
		t.started = true
		k.wg.Add(1)
		go k.runTask(t)
	} else {
		t.resume <- struct{}{}
	}
	<-k.back
	k.current = nil
}

// idle waits for something to become ready.
func (k *Kernel) idle(ctx context.Context) error {
	if k.opts.Clock == ClockVirtual {
		next := Forever
		for _, t := range k.sleepers {
			next = min(next, t.wait.deadline)
		}
		k.mu.Lock()
		pending := len(k.isr) > 0 || k.tickTarget > k.now
		k.mu.Unlock()
		if pending {
			return nil
		}
		if next == Forever {
			return ErrStalled
		}
		k.advanceTo(next)
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for k.tickTarget <= k.now && len(k.isr) == 0 && ctx.Err() == nil {
		k.cond.Wait()
	}
	return nil
}

// abort records why t stopped. A power loss is not a kernel fault and is
// reported as is; anything else goes to the panic handler.
func (k *Kernel) abort(t *tcb, r any) {
	if hal.IsPowerLoss(r) {
		err, ok := r.(error)
		if !ok {
			err = hal.ErrPowerLoss
		}
		k.fault = err
		k.log.WriteLineString(fmt.Sprintf("kernel: power-loss task=%s", t.name))
		return
	}
	fe := asFatal(t.name, r)
	k.fault = fe
	k.log.WriteLineString(fmt.Sprintf("kernel: fatal task=%s err=%q", t.name, fe.Error()))
	k.triggerPanic(PanicInfo{TaskID: t.id, Task: t.name, Err: fe})
}

func (k *Kernel) shutdown() {
	k.haltOnce.Do(func() {
		close(k.halted)
		k.wg.Wait()
		k.running = true
		msg := "ok"
		if k.fault != nil {
			msg = k.fault.Error()
		}
		k.log.WriteLineString(fmt.Sprintf("kernel: halt now=%d commits=%d switches=%d reason=%q", k.Now(), k.commits, k.switches, msg))
	})
}
