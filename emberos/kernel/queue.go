package kernel

import "fmt"

// Queue is a handle on a kernel message queue. The zero value is invalid.
type Queue struct{ id uint8 }

func (q Queue) Valid() bool { return q.id != 0 }

// QueueGroup is a handle on a broadcast list of queues.
type QueueGroup struct{ id uint8 }

func (g QueueGroup) Valid() bool { return g.id != 0 }

// ring is a fixed-capacity FIFO of fixed-size messages stored back to back.
// head and tail are slot indices in [0, cap).
type ring struct {
	head    uint32
	tail    uint32
	n       uint32
	cap     uint32
	msgSize int
	buf     []byte
}

func newRing(capacity uint32, msgSize int) ring {
	return ring{cap: capacity, msgSize: msgSize, buf: make([]byte, int(capacity)*msgSize)}
}

func (r *ring) count() uint32 { return r.n }
func (r *ring) full() bool    { return r.n >= r.cap }

func (r *ring) slot(i uint32) []byte {
	off := int(i) * r.msgSize
	return r.buf[off : off+r.msgSize]
}

func (r *ring) next(i uint32) uint32 {
	if i+1 == r.cap {
		return 0
	}
	return i + 1
}

func (r *ring) push(msg []byte) bool {
	if r.full() {
		return false
	}
	s := r.slot(r.head)
	clear(s[copy(s, msg):])
	r.head = r.next(r.head)
	r.n++
	return true
}

func (r *ring) pop() ([]byte, bool) {
	if r.n == 0 {
		return nil, false
	}
	msg := append([]byte(nil), r.slot(r.tail)...)
	r.tail = r.next(r.tail)
	r.n--
	return msg, true
}

type queue struct {
	id        uint8
	r         ring
	senders   []*tcb
	receivers []*tcb
}

type queueGroup struct {
	id   uint8
	subs []*queue
}

func (k *Kernel) queue(op string, q Queue) *queue {
	if q.id == 0 || int(q.id) > len(k.queues) {
		fatal(op, fmt.Errorf("%w: queue %d", ErrBadHandle, q.id))
	}
	return k.queues[q.id-1]
}

func (k *Kernel) queueGroup(op string, g QueueGroup) *queueGroup {
	if g.id == 0 || int(g.id) > len(k.qgroups) {
		fatal(op, fmt.Errorf("%w: queue group %d", ErrBadHandle, g.id))
	}
	return k.qgroups[g.id-1]
}

func (q *queue) checkMsg(op string, msg []byte) []byte {
	if len(msg) > q.r.msgSize {
		fatal(op, fmt.Errorf("%w: %d-byte message on %d-byte queue", ErrBadArgument, len(msg), q.r.msgSize))
	}
	out := make([]byte, q.r.msgSize)
	copy(out, msg)
	return out
}

// trySend delivers msg without blocking: straight to the oldest blocked
// receiver, else into the ring.
func (k *Kernel) trySend(q *queue, msg []byte) bool {
	if len(q.receivers) > 0 {
		t := q.receivers[0]
		t.wait.msg = msg
		k.wake(t, nil)
		return true
	}
	return q.r.push(msg)
}

// NewQueue creates a queue of capacity messages of msgSize bytes.
func (tok *SyscallToken) NewQueue(capacity uint32, msgSize int) Queue {
	const op = "new queue"
	k, _ := tok.system(op)
	if capacity == 0 || msgSize <= 0 {
		fatal(op, fmt.Errorf("%w: capacity %d message size %d", ErrBadArgument, capacity, msgSize))
	}
	if len(k.queues) >= maxQueues {
		fatal(op, fmt.Errorf("%w: %d queues", ErrTableFull, maxQueues))
	}
	q := &queue{id: uint8(len(k.queues) + 1), r: newRing(capacity, msgSize)}
	k.queues = append(k.queues, q)
	return Queue{id: q.id}
}

// Send enqueues msg, blocking up to timeout for space. Shorter messages are
// zero-padded; longer ones are fatal. With a zero timeout a full queue fails
// at once with ErrQueueFull.
func (tok *SyscallToken) Send(q Queue, msg []byte, timeout Ticks) error {
	const op = "send"
	k, t := tok.use(op)
	kq := k.queue(op, q)
	m := kq.checkMsg(op, msg)
	k.preemptPoint(t)
	if k.trySend(kq, m) {
		k.preemptPoint(t)
		return nil
	}
	if timeout == 0 {
		return ErrQueueFull
	}
	kq.senders = append(kq.senders, t)
	res := k.block(t, waitRecord{kind: waitSend, deadline: deadlineAfter(k.Now(), timeout), q: kq, msg: m})
	return res.err
}

// Receive dequeues the oldest message, blocking up to timeout for one. With a
// zero timeout an empty queue fails at once with ErrQueueEmpty.
func (tok *SyscallToken) Receive(q Queue, timeout Ticks) ([]byte, error) {
	const op = "receive"
	k, t := tok.use(op)
	kq := k.queue(op, q)
	k.preemptPoint(t)
	if msg, ok := kq.r.pop(); ok {
		if len(kq.senders) > 0 {
			s := kq.senders[0]
			kq.r.push(s.wait.msg)
			k.wake(s, nil)
			k.preemptPoint(t)
		}
		return msg, nil
	}
	if timeout == 0 {
		return nil, ErrQueueEmpty
	}
	kq.receivers = append(kq.receivers, t)
	res := k.block(t, waitRecord{kind: waitRecv, deadline: deadlineAfter(k.Now(), timeout), q: kq})
	if res.err != nil {
		return nil, res.err
	}
	return res.msg, nil
}

// Pending returns the number of queued messages.
func (tok *SyscallToken) Pending(q Queue) int {
	const op = "pending"
	k, _ := tok.use(op)
	return int(k.queue(op, q).r.count())
}

// NewQueueGroup creates an empty broadcast list.
func (tok *SyscallToken) NewQueueGroup() QueueGroup {
	const op = "new queue group"
	k, _ := tok.system(op)
	if len(k.qgroups) >= maxQueueGroups {
		fatal(op, fmt.Errorf("%w: %d queue groups", ErrTableFull, maxQueueGroups))
	}
	g := &queueGroup{id: uint8(len(k.qgroups) + 1)}
	k.qgroups = append(k.qgroups, g)
	return QueueGroup{id: g.id}
}

// Subscribe adds q to g. Subscribing twice is a no-op.
func (tok *SyscallToken) Subscribe(g QueueGroup, q Queue) {
	const op = "subscribe"
	k, _ := tok.system(op)
	kg := k.queueGroup(op, g)
	kq := k.queue(op, q)
	for _, s := range kg.subs {
		if s == kq {
			return
		}
	}
	kg.subs = append(kg.subs, kq)
}

// Broadcast offers msg to every subscriber without blocking. A full
// subscriber misses the message; the others still get it. It returns the
// number of queues that took the message.
func (tok *SyscallToken) Broadcast(g QueueGroup, msg []byte) int {
	const op = "broadcast"
	k, t := tok.use(op)
	kg := k.queueGroup(op, g)
	n := 0
	for _, q := range kg.subs {
		if k.trySend(q, q.checkMsg(op, msg)) {
			n++
		}
	}
	k.preemptPoint(t)
	return n
}
