package pmem

import (
	"fmt"
)

// Counter is a persistent loop counter: the index of the first iteration of
// its loop that has not yet committed. It only moves forward until Reset.
type Counter struct {
	obj *Object[uint32]
	s   *Store
}

// DeclareCounter allocates (or reattaches to) the counter called name. A new
// counter starts at zero.
func DeclareCounter(h *Heap, name string) *Counter {
	return DeclareCounterAt(h, name, 0)
}

// DeclareCounterAt is DeclareCounter with a new counter starting at initial.
// Reattaching keeps the stored value.
func DeclareCounterAt(h *Heap, name string, initial uint32) *Counter {
	return &Counter{obj: NewObject[uint32](h, name, initial), s: h.s}
}

func (c *Counter) Name() string { return c.obj.Name() }

// Load returns the counter as tx sees it.
func (c *Counter) Load(tx *Txn) uint32 { return c.obj.Read(tx) }

// Value returns the committed counter.
func (c *Counter) Value() uint32 {
	v, err := c.obj.Committed()
	if err != nil {
		fatal("counter "+c.Name(), err)
	}
	return v
}

// Advance moves the counter to next in tx. Moving it backwards is fatal.
func (c *Counter) Advance(tx *Txn, next uint32) {
	if cur := c.Load(tx); next < cur {
		fatal("counter "+c.Name(), fmt.Errorf("%w: %d -> %d", ErrCounterRegress, cur, next))
	}
	c.obj.Write(tx, next)
}

// Reset sets the counter to v regardless of its current value.
func (c *Counter) Reset(tx *Txn, v uint32) { c.obj.Write(tx, v) }

// Resume returns the index a loop over [start, end) restarts from. Only modes
// that resume loops consult the counter.
func (c *Counter) Resume(start uint32) uint32 {
	if !c.s.mode.ResumesLoops() {
		return start
	}
	return max(c.Value(), start)
}

// Step records in tx that iteration i is done.
func (c *Counter) Step(tx *Txn, i uint32) {
	if c.s.mode.ResumesLoops() {
		c.Advance(tx, i+1)
	}
}

// RunLoop runs body for each index in [start, end). Each iteration commits
// together with the counter step, so after any number of reboots every index
// has committed exactly once when the loop resumes from its counter.
func RunLoop(j *Journal, c *Counter, start, end uint32, body func(tx *Txn, i uint32) error) error {
	for i := c.Resume(start); i < end; i++ {
		err := Update(j, func(tx *Txn) error {
			if err := body(tx, i); err != nil {
				return err
			}
			c.Step(tx, i)
			return nil
		})
		if err != nil {
			return fmt.Errorf("loop %s iteration %d: %w", c.Name(), i, err)
		}
	}
	return nil
}
