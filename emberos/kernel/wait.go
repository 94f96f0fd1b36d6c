package kernel

type waitKind uint8

const (
	waitNone waitKind = iota
	waitDelay
	waitEvents
	waitSend
	waitRecv
)

// waitRecord is the wake condition of a blocked task and, once woken, its
// result.
type waitRecord struct {
	kind     waitKind
	deadline Ticks

	group *eventGroup
	mask  uint32
	all   bool
	clear bool
	bits  uint32

	q   *queue
	msg []byte

	err error
}

func deadlineAfter(now, timeout Ticks) Ticks {
	if timeout == Forever || now > Forever-timeout {
		return Forever
	}
	return now + timeout
}

// block parks t on w until it is woken or w's deadline passes.
func (k *Kernel) block(t *tcb, w waitRecord) waitRecord {
	if t.isBoot() {
		fatal("block", ErrBlockInBoot)
	}
	t.wait = w
	t.state = StateBlocked
	if w.deadline != Forever {
		k.sleepers = append(k.sleepers, t)
	}
	k.switchOut(t)
	res := t.wait
	t.wait = waitRecord{}
	return res
}

// wake makes a blocked task ready with err as its result.
func (k *Kernel) wake(t *tcb, err error) {
	w := &t.wait
	switch w.kind {
	case waitEvents:
		w.group.waiters = removeTask(w.group.waiters, t)
	case waitSend:
		w.q.senders = removeTask(w.q.senders, t)
	case waitRecv:
		w.q.receivers = removeTask(w.q.receivers, t)
	}
	if w.deadline != Forever {
		k.sleepers = removeTask(k.sleepers, t)
	}
	w.err = err
	k.makeReady(t)
}

// expire wakes every sleeper whose deadline is at or before now. Delays end
// successfully; every other wait times out.
func (k *Kernel) expire(now Ticks) {
	for i := 0; i < len(k.sleepers); {
		t := k.sleepers[i]
		if t.wait.deadline > now {
			i++
			continue
		}
		var err error
		if t.wait.kind != waitDelay {
			err = ErrTimeout
		}
		k.wake(t, err)
	}
}

func removeTask(list []*tcb, t *tcb) []*tcb {
	for i, x := range list {
		if x == t {
			copy(list[i:], list[i+1:])
			list[len(list)-1] = nil
			return list[:len(list)-1]
		}
	}
	return list
}
