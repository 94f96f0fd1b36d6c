package kernel

import (
	"fmt"

	"ember/emberos/pmem"
)

// SyscallToken proves its holder is inside a transaction that may call the
// kernel. Tokens are only made by Context.RunSystem, RunSyscall and RunOnce
// and die when the transaction body returns; using one afterwards is fatal.
type SyscallToken struct {
	c     *Context
	epoch uint32
}

func (tok *SyscallToken) use(op string) (*Kernel, *tcb) {
	if tok == nil || tok.c == nil {
		fatal(op, ErrTokenExpired)
	}
	c := tok.c
	if c.epoch != tok.epoch || c.mode == txnNone {
		fatal(op, ErrTokenExpired)
	}
	if c.k.current != c.t {
		fatal(op, fmt.Errorf("%w: token of task %s used by another task", ErrTokenExpired, c.t.name))
	}
	return c.k, c.t
}

func (tok *SyscallToken) system(op string) (*Kernel, *tcb) {
	k, t := tok.use(op)
	if tok.c.mode != txnSystem {
		fatal(op, ErrWrongMode)
	}
	return k, t
}

// TaskID returns the calling task.
func (tok *SyscallToken) TaskID() TaskID {
	_, t := tok.use("task id")
	return t.id
}

// Heap returns the calling task's persistent heap. Allocate objects from it
// inside RunSystem, while its journal is idle.
func (tok *SyscallToken) Heap() *pmem.Heap {
	_, t := tok.use("heap")
	return t.heap
}

// Now returns the kernel time.
func (tok *SyscallToken) Now() Ticks {
	k, _ := tok.use("now")
	return k.Now()
}

// CreateTask creates a ready task. Exceeding the task limit or the stack pool,
// or failing to create the task's heap, is fatal.
func (tok *SyscallToken) CreateTask(spec TaskSpec) TaskID {
	const op = "create task"
	k, cur := tok.system(op)
	if spec.Entry == nil {
		fatal(op, fmt.Errorf("%w: task %q has no entry", ErrBadArgument, spec.Name))
	}
	if spec.Name == pmem.BootHeap {
		fatal(op, fmt.Errorf("%w: %q", ErrDuplicateTask, spec.Name))
	}
	for _, t := range k.tasks {
		if t.name == spec.Name {
			fatal(op, fmt.Errorf("%w: %q", ErrDuplicateTask, spec.Name))
		}
	}
	if len(k.tasks) >= k.opts.MaxTasks {
		fatal(op, fmt.Errorf("%w: %d tasks", ErrTaskLimit, k.opts.MaxTasks))
	}
	stack := spec.StackBytes
	if stack == 0 {
		stack = k.opts.StackBytes
	}
	if k.stackUsed+stack > k.opts.StackPoolBytes {
		fatal(op, fmt.Errorf("%w: %d of %d bytes used, task %q needs %d", ErrStackPool,
			k.stackUsed, k.opts.StackPoolBytes, spec.Name, stack))
	}
	heap, err := k.store.OpenHeap(spec.Name, k.opts.HeapBytes, k.opts.JournalBytes)
	if err != nil {
		fatal(op, err)
	}

	t := &tcb{
		id:     TaskID(len(k.tasks) + 1),
		name:   spec.Name,
		prio:   spec.Priority,
		stack:  stack,
		entry:  spec.Entry,
		arg:    spec.Arg,
		resume: make(chan struct{}, 1),
		heap:   heap,
	}
	t.ctx = &Context{k: k, t: t}
	k.tasks = append(k.tasks, t)
	k.stackUsed += stack
	k.live++
	k.makeReady(t)
	k.log.WriteLineString(fmt.Sprintf("kernel: task id=%d name=%s prio=%d stack=%d", t.id, t.name, t.prio, stack))

	k.preemptPoint(cur)
	return t.id
}

// Yield lets every ready task of at least the caller's priority run first.
func (tok *SyscallToken) Yield() {
	k, t := tok.use("yield")
	if t.isBoot() {
		return
	}
	k.service()
	if top := k.topReady(); top != nil && top.prio >= t.prio {
		k.makeReady(t)
		k.switchOut(t)
	}
}

// Delay blocks the caller for d ticks. Zero yields.
func (tok *SyscallToken) Delay(d Ticks) {
	k, t := tok.use("delay")
	if d == 0 {
		tok.Yield()
		return
	}
	k.service()
	k.block(t, waitRecord{kind: waitDelay, deadline: deadlineAfter(k.Now(), d)})
}
