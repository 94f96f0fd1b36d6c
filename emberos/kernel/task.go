package kernel

import (
	"fmt"

	"ember/emberos/pmem"
)

// TaskID identifies a task. Zero is the boot context.
type TaskID uint8

// Priority orders ready tasks; a higher value runs first.
type Priority uint8

// State is a task's scheduling state.
type State uint8

const (
	StateReady State = iota
	StateRunning
	StateBlocked
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// TaskSpec describes a task to create. The task's heap is named after it, so
// names must be unique and at most 16 bytes.
type TaskSpec struct {
	Name     string
	Priority Priority
	// StackBytes is charged against the stack pool; zero uses the default.
	StackBytes uint32
	Entry      func(c *Context, arg any)
	Arg        any
}

// TaskInfo is a snapshot of one task for diagnostics.
type TaskInfo struct {
	ID       TaskID
	Name     string
	Priority Priority
	State    State
	Heap     string
}

type tcb struct {
	id       TaskID
	name     string
	prio     Priority
	stack    uint32
	entry    func(*Context, any)
	arg      any
	state    State
	readySeq uint64
	started  bool
	resume   chan struct{}
	wait     waitRecord
	heap     *pmem.Heap
	ctx      *Context
}

func (t *tcb) isBoot() bool { return t.id == 0 }

// makeReady queues t behind every ready task of the same or higher priority.
func (k *Kernel) makeReady(t *tcb) {
	t.state = StateReady
	k.readySeq++
	t.readySeq = k.readySeq
	i := len(k.ready)
	for i > 0 && k.ready[i-1].prio < t.prio {
		i--
	}
	k.ready = append(k.ready, nil)
	copy(k.ready[i+1:], k.ready[i:])
	k.ready[i] = t
}

func (k *Kernel) popReady() *tcb {
	if len(k.ready) == 0 {
		return nil
	}
	t := k.ready[0]
	copy(k.ready, k.ready[1:])
	k.ready[len(k.ready)-1] = nil
	k.ready = k.ready[:len(k.ready)-1]
	return t
}

func (k *Kernel) topReady() *tcb {
	if len(k.ready) == 0 {
		return nil
	}
	return k.ready[0]
}

// runTask is the goroutine body of a task. Control passes back to the
// dispatcher when the entry returns or panics.
func (k *Kernel) runTask(t *tcb) {
	defer k.wg.Done()
	defer func() {
		r := recover()
		if _, ok := r.(haltSignal); ok {
			return
		}
		if r != nil {
			k.abort(t, r)
		} else {
			t.state = StateTerminated
			k.live--
			k.log.WriteLineString(fmt.Sprintf("kernel: exit task=%s", t.name))
		}
		k.back <- struct{}{}
	}()
	t.entry(t.ctx, t.arg)
}

// Tasks lists every created task.
func (k *Kernel) Tasks() []TaskInfo {
	out := make([]TaskInfo, 0, len(k.tasks))
	for _, t := range k.tasks {
		out = append(out, TaskInfo{ID: t.id, Name: t.name, Priority: t.prio, State: t.state, Heap: t.heap.Name()})
	}
	return out
}
