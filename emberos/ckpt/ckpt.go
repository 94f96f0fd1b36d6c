// Package ckpt is the checkpoint daemon: a lowest-priority task that
// periodically records kernel progress in its own persistent heap.
package ckpt

import (
	"errors"
	"fmt"

	"ember/emberos/config"
	"ember/emberos/kernel"
	"ember/emberos/pmem"
	"ember/emberos/stats"
	"ember/hal"
)

// TaskName is the daemon's task and heap name.
const TaskName = "ckptd"

const objectName = "snapshot"

// Snapshot is the persistent checkpoint record.
type Snapshot struct {
	// Boots counts the boots on which the daemon started.
	Boots uint32
	// Checkpoints counts periodic checkpoints across all boots.
	Checkpoints uint32
	// Ticks is the kernel time of the last checkpoint, in that boot's clock.
	Ticks uint64
	// Commits is the kernel's commit count at the last checkpoint.
	Commits uint64
}

// Daemon is the checkpoint task's state.
type Daemon struct {
	k      *kernel.Kernel
	period kernel.Ticks
	log    hal.Logger
}

// Spawn creates the daemon at the lowest priority. tok must come from a
// system transaction. A disabled cfg creates nothing and returns nil.
func Spawn(tok *kernel.SyscallToken, k *kernel.Kernel, cfg config.Checkpoint, log hal.Logger) *Daemon {
	if !cfg.Enabled {
		return nil
	}
	if log == nil {
		log = hal.NopLogger()
	}
	period := cfg.PeriodTicks
	if period == 0 {
		period = 1
	}
	d := &Daemon{k: k, period: kernel.Ticks(period), log: log}
	tok.CreateTask(kernel.TaskSpec{Name: TaskName, Priority: 0, Entry: d.run})
	return d
}

func (d *Daemon) run(c *kernel.Context, _ any) {
	var snap *pmem.Object[Snapshot]
	_ = c.RunSystem(func(tok *kernel.SyscallToken) error {
		snap = pmem.NewObject(tok.Heap(), objectName, Snapshot{})
		return nil
	})

	var boots uint32
	_ = c.RunApp(func(tx *pmem.Txn) error {
		snap.Update(tx, func(s *Snapshot) {
			s.Boots++
			boots = s.Boots
		})
		return nil
	})
	d.log.WriteLineString(fmt.Sprintf("ckpt: boot n=%d period=%d", boots, d.period))

	for {
		err := c.RunSyscall(func(tx *pmem.Txn, tok *kernel.SyscallToken) error {
			tok.Delay(d.period)
			now := tok.Now()
			commits := d.k.Commits()
			snap.Update(tx, func(s *Snapshot) {
				s.Checkpoints++
				s.Ticks = uint64(now)
				s.Commits = commits
			})
			stats.Record("ckpt.bytes", int64(tx.Bytes()))
			return nil
		})
		if err != nil {
			d.log.WriteLineString(fmt.Sprintf("ckpt: error=%q", err.Error()))
			return
		}
		if d.alone(c) {
			return
		}
	}
}

// alone reports whether every other task has exited.
func (d *Daemon) alone(c *kernel.Context) bool {
	for _, t := range d.k.Tasks() {
		if t.ID != c.TaskID() && t.State != kernel.StateTerminated {
			return false
		}
	}
	return true
}

// Last returns the most recent committed snapshot in store. ok is false when
// the daemon never ran on this store.
func Last(store *pmem.Store) (snap Snapshot, ok bool, err error) {
	h, found := store.Heap(TaskName)
	if !found {
		return Snapshot{}, false, nil
	}
	obj, err := pmem.OpenObject[Snapshot](h, objectName)
	if errors.Is(err, pmem.ErrNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	snap, err = obj.Committed()
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}
