package kernel

import "fmt"

// EventGroup is a handle on a kernel event group. The zero value is invalid.
type EventGroup struct{ id uint8 }

func (g EventGroup) Valid() bool { return g.id != 0 }

// Match selects how a wait mask is satisfied.
type Match uint8

const (
	MatchAny Match = iota
	MatchAll
)

type eventGroup struct {
	id      uint8
	bits    uint32
	waiters []*tcb
}

func satisfied(bits, mask uint32, all bool) bool {
	if all {
		return bits&mask == mask
	}
	return bits&mask != 0
}

func (k *Kernel) lookupGroup(g EventGroup) *eventGroup {
	if g.id == 0 || int(g.id) > len(k.groups) {
		return nil
	}
	return k.groups[g.id-1]
}

func (k *Kernel) group(op string, g EventGroup) *eventGroup {
	eg := k.lookupGroup(g)
	if eg == nil {
		fatal(op, fmt.Errorf("%w: event group %d", ErrBadHandle, g.id))
	}
	return eg
}

// setEvents ORs mask in and evaluates every waiter in registration order
// against the result. Auto-clear bits of the woken waiters are removed after
// the pass, so each waiter sees the same bits.
func (k *Kernel) setEvents(eg *eventGroup, mask uint32) uint32 {
	eg.bits |= mask
	var clear uint32
	for i := 0; i < len(eg.waiters); {
		t := eg.waiters[i]
		w := &t.wait
		if !satisfied(eg.bits, w.mask, w.all) {
			i++
			continue
		}
		w.bits = eg.bits & w.mask
		if w.clear {
			clear |= w.mask
		}
		k.wake(t, nil)
	}
	eg.bits &^= clear
	return eg.bits
}

// NewEventGroup creates an event group with every bit clear.
func (tok *SyscallToken) NewEventGroup() EventGroup {
	const op = "new event group"
	k, _ := tok.system(op)
	if len(k.groups) >= maxEventGroups {
		fatal(op, fmt.Errorf("%w: %d event groups", ErrTableFull, maxEventGroups))
	}
	eg := &eventGroup{id: uint8(len(k.groups) + 1)}
	k.groups = append(k.groups, eg)
	return EventGroup{id: eg.id}
}

// WaitEvents blocks until the bits of g satisfy mask under match, or until
// timeout ticks pass. It returns the masked bits that satisfied the wait; with
// autoClear those bits are cleared as the caller wakes. A zero timeout polls.
func (tok *SyscallToken) WaitEvents(g EventGroup, mask uint32, match Match, autoClear bool, timeout Ticks) (uint32, error) {
	const op = "wait events"
	k, t := tok.use(op)
	eg := k.group(op, g)
	if mask == 0 {
		fatal(op, fmt.Errorf("%w: empty mask", ErrBadArgument))
	}
	k.preemptPoint(t)
	all := match == MatchAll
	if satisfied(eg.bits, mask, all) {
		got := eg.bits & mask
		if autoClear {
			eg.bits &^= mask
		}
		return got, nil
	}
	if timeout == 0 {
		return 0, ErrTimeout
	}
	eg.waiters = append(eg.waiters, t)
	res := k.block(t, waitRecord{
		kind:     waitEvents,
		deadline: deadlineAfter(k.Now(), timeout),
		group:    eg,
		mask:     mask,
		all:      all,
		clear:    autoClear,
	})
	if res.err != nil {
		return 0, res.err
	}
	return res.bits, nil
}

// SetEvents sets mask in g, wakes every satisfied waiter and returns the
// resulting bits.
func (tok *SyscallToken) SetEvents(g EventGroup, mask uint32) uint32 {
	const op = "set events"
	k, t := tok.use(op)
	bits := k.setEvents(k.group(op, g), mask)
	k.preemptPoint(t)
	return bits
}

// ClearEvents clears mask in g and returns the bits as they were.
func (tok *SyscallToken) ClearEvents(g EventGroup, mask uint32) uint32 {
	const op = "clear events"
	k, _ := tok.use(op)
	eg := k.group(op, g)
	old := eg.bits
	eg.bits &^= mask
	return old
}

// Events returns the bits of g.
func (tok *SyscallToken) Events(g EventGroup) uint32 {
	const op = "events"
	k, _ := tok.use(op)
	return k.group(op, g).bits
}
