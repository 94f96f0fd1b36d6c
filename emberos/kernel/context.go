package kernel

import (
	"fmt"

	"ember/emberos/pmem"
	"ember/emberos/stats"
)

type txnMode uint8

const (
	txnNone txnMode = iota
	txnSystem
	txnSyscall
	txnApp
)

func (m txnMode) String() string {
	switch m {
	case txnSystem:
		return "system"
	case txnSyscall:
		return "syscall"
	case txnApp:
		return "app"
	default:
		return "none"
	}
}

// Context is a task's handle on the kernel. It is passed to the task entry
// and is the only way to open transactions. At most one transaction is open
// per context; opening another inside it is fatal.
type Context struct {
	k     *Kernel
	t     *tcb
	mode  txnMode
	epoch uint32
}

func (c *Context) TaskID() TaskID { return c.t.id }
func (c *Context) Name() string   { return c.t.name }

func (c *Context) enter(m txnMode, op string) *SyscallToken {
	if c.k.current != c.t {
		fatal(op, fmt.Errorf("%w: context of task %s used by another task", ErrBadHandle, c.t.name))
	}
	if c.mode != txnNone {
		fatal(op, fmt.Errorf("%w: %s inside %s", ErrNested, m, c.mode))
	}
	c.k.preemptPoint(c.t)
	c.mode = m
	c.epoch++
	return &SyscallToken{c: c, epoch: c.epoch}
}

func (c *Context) leave() {
	c.mode = txnNone
	c.epoch++
}

// RunSystem runs fn as a pure-system transaction: kernel objects may be
// created and persistent owners allocated, but no application journal is open.
func (c *Context) RunSystem(fn func(tok *SyscallToken) error) error {
	tok := c.enter(txnSystem, "run system")
	defer c.leave()
	return fn(tok)
}

// RunSyscall runs fn in a transaction on the task's journal that may also
// make syscalls, including blocking ones. The journal commits when fn
// returns nil and is discarded otherwise.
func (c *Context) RunSyscall(fn func(tx *pmem.Txn, tok *SyscallToken) error) error {
	tok := c.enter(txnSyscall, "run syscall")
	defer c.leave()
	return c.update(func(tx *pmem.Txn) error { return fn(tx, tok) })
}

// RunOnce is RunSyscall for the body of an unbounded task loop: each call is
// one logical step that commits on its own.
func (c *Context) RunOnce(fn func(tx *pmem.Txn, tok *SyscallToken) error) error {
	return c.RunSyscall(fn)
}

// RunApp runs fn in a transaction on the task's journal with no syscalls.
func (c *Context) RunApp(fn func(tx *pmem.Txn) error) error {
	c.enter(txnApp, "run app")
	defer c.leave()
	return c.update(fn)
}

// Loop runs body for each index in [start, end), one transaction per
// iteration that also steps ctr. In modes that resume loops it continues
// after the last committed iteration, so a completed loop is a no-op.
func (c *Context) Loop(ctr *pmem.Counter, start, end uint32, body func(tx *pmem.Txn, i uint32) error) error {
	for i := ctr.Resume(start); i < end; i++ {
		err := c.RunApp(func(tx *pmem.Txn) error {
			if err := body(tx, i); err != nil {
				return err
			}
			ctr.Step(tx, i)
			return nil
		})
		if err != nil {
			return fmt.Errorf("loop %s iteration %d: %w", ctr.Name(), i, err)
		}
	}
	return nil
}

func (c *Context) update(fn func(tx *pmem.Txn) error) error {
	var n uint32
	err := pmem.Update(c.t.heap.Journal(), func(tx *pmem.Txn) error {
		tx.SetYield(func() { c.k.preemptPoint(c.t) })
		if err := fn(tx); err != nil {
			return err
		}
		n = tx.Bytes()
		return nil
	})
	if err != nil {
		return err
	}
	c.k.commits++
	stats.Record("txn.bytes", int64(n))
	return nil
}
