// Package workload is the demonstration and soak workload run by the
// simulator and the device image. It exercises bounded loops, queues and
// event groups, and leaves a result in persistent memory that can be checked
// against its closed form.
package workload

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ember/emberos/kernel"
	"ember/emberos/pmem"
	"ember/hal"
)

// Task and heap names.
const (
	TaskAccum    = "accum"
	TaskProducer = "producer"
	TaskConsumer = "consumer"
	TaskMonitor  = "monitor"
)

// Event bits of the workload's event group.
const (
	BitAck uint32 = 1 << iota
	BitAccumDone
	BitProducerDone
	BitConsumerDone

	bitsDone = BitAccumDone | BitProducerDone | BitConsumerDone
)

// Verdict is the monitor's persistent conclusion.
type Verdict uint32

const (
	VerdictPending Verdict = iota
	VerdictPass
	VerdictMismatch
)

func (v Verdict) String() string {
	switch v {
	case VerdictPending:
		return "pending"
	case VerdictPass:
		return "pass"
	case VerdictMismatch:
		return "mismatch"
	default:
		return fmt.Sprintf("verdict(%d)", uint32(v))
	}
}

// Config sizes the workload.
type Config struct {
	// Items is the accumulator loop bound and the number of messages.
	Items  uint32
	Logger hal.Logger
}

// Result is the workload's committed output.
type Result struct {
	Squares  uint64
	Sent     uint32
	Received uint32
	Payload  uint64
	Verdict  Verdict
}

// Expected returns the result of a complete, exactly-once run over items.
func Expected(items uint32) Result {
	var r Result
	for i := uint32(0); i < items; i++ {
		r.Squares += uint64(i) * uint64(i)
		r.Payload += payload(i)
	}
	r.Sent, r.Received = items, items
	r.Verdict = VerdictPass
	return r
}

// Matches reports whether r agrees with want, ignoring the verdict.
func (r Result) Matches(want Result) bool {
	r.Verdict, want.Verdict = 0, 0
	return r == want
}

func payload(i uint32) uint64 { return 3*uint64(i) + 1 }

// inbox is the consumer's persistent state.
type inbox struct {
	Next  uint32
	Count uint32
	Sum   uint64
}

// Workload holds the kernel objects shared by its tasks. They are recreated
// on every boot.
type Workload struct {
	items  uint32
	log    hal.Logger
	events kernel.EventGroup
	queue  kernel.Queue
}

// Spawn creates the workload's kernel objects and tasks. tok must come from a
// system transaction.
func Spawn(tok *kernel.SyscallToken, cfg Config) *Workload {
	w := &Workload{items: cfg.Items, log: cfg.Logger}
	if w.log == nil {
		w.log = hal.NopLogger()
	}
	w.events = tok.NewEventGroup()
	w.queue = tok.NewQueue(1, 4)

	tok.CreateTask(kernel.TaskSpec{Name: TaskMonitor, Priority: 3, Entry: w.monitor})
	tok.CreateTask(kernel.TaskSpec{Name: TaskConsumer, Priority: 2, Entry: w.consumer})
	tok.CreateTask(kernel.TaskSpec{Name: TaskProducer, Priority: 1, Entry: w.producer})
	tok.CreateTask(kernel.TaskSpec{Name: TaskAccum, Priority: 1, Entry: w.accum})
	return w
}

func (w *Workload) signal(c *kernel.Context, bits uint32) {
	_ = c.RunSystem(func(tok *kernel.SyscallToken) error {
		tok.SetEvents(w.events, bits)
		return nil
	})
}

func (w *Workload) fail(c *kernel.Context, err error) {
	w.log.WriteLineString(fmt.Sprintf("workload: task=%s error=%q", c.Name(), err.Error()))
}

// accum sums the squares of [0, items) in a resumable loop.
func (w *Workload) accum(c *kernel.Context, _ any) {
	var (
		ctr *pmem.Counter
		sum *pmem.Object[uint64]
	)
	_ = c.RunSystem(func(tok *kernel.SyscallToken) error {
		ctr = pmem.DeclareCounter(tok.Heap(), "i")
		sum = pmem.NewObject[uint64](tok.Heap(), "sum", 0)
		return nil
	})
	err := c.Loop(ctr, 0, w.items, func(tx *pmem.Txn, i uint32) error {
		sum.Update(tx, func(v *uint64) { *v += uint64(i) * uint64(i) })
		return nil
	})
	if err != nil {
		w.fail(c, err)
		return
	}
	w.signal(c, BitAccumDone)
}

// producer sends one message per item and advances only once the consumer
// has acknowledged it, so a message lost with the volatile queue is resent.
func (w *Workload) producer(c *kernel.Context, _ any) {
	var next *pmem.Object[uint32]
	_ = c.RunSystem(func(tok *kernel.SyscallToken) error {
		next = pmem.NewObject[uint32](tok.Heap(), "next", 0)
		return nil
	})
	for {
		var done bool
		err := c.RunOnce(func(tx *pmem.Txn, tok *kernel.SyscallToken) error {
			i := next.Read(tx)
			if i >= w.items {
				done = true
				return nil
			}
			var msg [4]byte
			binary.LittleEndian.PutUint32(msg[:], i)
			if err := tok.Send(w.queue, msg[:], kernel.Forever); err != nil {
				return err
			}
			if _, err := tok.WaitEvents(w.events, BitAck, kernel.MatchAny, true, kernel.Forever); err != nil {
				return err
			}
			next.Write(tx, i+1)
			return nil
		})
		if err != nil {
			w.fail(c, err)
			return
		}
		if done {
			break
		}
	}
	w.signal(c, BitProducerDone)
}

// consumer applies each message once. A resent message it already applied
// is only acknowledged. The acknowledgement follows the commit.
func (w *Workload) consumer(c *kernel.Context, _ any) {
	var in *pmem.Object[inbox]
	_ = c.RunSystem(func(tok *kernel.SyscallToken) error {
		in = pmem.NewObject(tok.Heap(), "inbox", inbox{})
		return nil
	})
	for {
		var done bool
		err := c.RunOnce(func(tx *pmem.Txn, tok *kernel.SyscallToken) error {
			st := in.Read(tx)
			if st.Next >= w.items {
				done = true
				return nil
			}
			msg, err := tok.Receive(w.queue, kernel.Forever)
			if err != nil {
				return err
			}
			if i := binary.LittleEndian.Uint32(msg); i == st.Next {
				st.Next++
				st.Count++
				st.Sum += payload(i)
				in.Write(tx, st)
			}
			return nil
		})
		if err != nil {
			w.fail(c, err)
			return
		}
		if done {
			break
		}
		w.signal(c, BitAck)
	}
	// A final ack releases a producer that resent the last item after a
	// reboot.
	w.signal(c, BitAck|BitConsumerDone)
}

// monitor waits for the other tasks and records whether the result matches.
func (w *Workload) monitor(c *kernel.Context, _ any) {
	var verdict *pmem.Object[Verdict]
	_ = c.RunSystem(func(tok *kernel.SyscallToken) error {
		verdict = pmem.NewObject(tok.Heap(), "verdict", VerdictPending)
		return nil
	})
	var res Result
	err := c.RunSyscall(func(tx *pmem.Txn, tok *kernel.SyscallToken) error {
		if _, err := tok.WaitEvents(w.events, bitsDone, kernel.MatchAll, false, kernel.Forever); err != nil {
			return err
		}
		var err error
		res, err = Read(tok.Heap().Store())
		if err != nil {
			return err
		}
		res.Verdict = VerdictMismatch
		if res.Matches(Expected(w.items)) {
			res.Verdict = VerdictPass
		}
		verdict.Write(tx, res.Verdict)
		return nil
	})
	if err != nil {
		w.fail(c, err)
		return
	}
	w.log.WriteLineString(fmt.Sprintf("workload: verdict=%s squares=%d sent=%d received=%d payload=%d",
		res.Verdict, res.Squares, res.Sent, res.Received, res.Payload))
}

// Read collects the committed result from store. Objects that do not exist
// yet read as zero.
func Read(store *pmem.Store) (Result, error) {
	var r Result
	if err := readObject(store, TaskAccum, "sum", &r.Squares); err != nil {
		return r, err
	}
	if err := readObject(store, TaskProducer, "next", &r.Sent); err != nil {
		return r, err
	}
	var in inbox
	if err := readObject(store, TaskConsumer, "inbox", &in); err != nil {
		return r, err
	}
	r.Received, r.Payload = in.Count, in.Sum
	if err := readObject(store, TaskMonitor, "verdict", &r.Verdict); err != nil {
		return r, err
	}
	return r, nil
}

func readObject[T any](store *pmem.Store, heap, name string, dst *T) error {
	h, ok := store.Heap(heap)
	if !ok {
		return nil
	}
	obj, err := pmem.OpenObject[T](h, name)
	if errors.Is(err, pmem.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s/%s: %w", heap, name, err)
	}
	v, err := obj.Committed()
	if err != nil {
		return fmt.Errorf("read %s/%s: %w", heap, name, err)
	}
	*dst = v
	return nil
}
