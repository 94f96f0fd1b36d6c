package pmem

import (
	"fmt"

	"ember/hal"
)

// Journal is the redo log of one heap. At most one transaction is open on a
// journal at a time.
//
// Entries are written to the journal area as they are appended and applied to
// live memory only after the commit header is durable, so an interrupted
// transaction leaves live memory untouched.
type Journal struct {
	s    *Store
	heap string
	base uint32
	size uint32
	seq  uint32
	open *Txn
}

// Heap returns the name of the heap the journal belongs to.
func (j *Journal) Heap() string { return j.heap }

// Capacity returns the number of entry bytes one transaction can hold.
func (j *Journal) Capacity() uint32 { return j.size - journalHeaderSize }

// Seq returns the number of transactions committed since the heap was created.
func (j *Journal) Seq() uint32 { return j.seq }

// Busy reports whether a transaction is open.
func (j *Journal) Busy() bool { return j.open != nil }

// Begin opens a transaction. In the durable baseline mode the transaction
// writes through to live memory.
func (j *Journal) Begin() (*Txn, error) {
	return j.begin(!j.s.mode.Journaled())
}

func (j *Journal) begin(direct bool) (*Txn, error) {
	if j.open != nil {
		return nil, fmt.Errorf("%w: heap %q", ErrJournalBusy, j.heap)
	}
	t := &Txn{j: j, direct: direct, open: true}
	j.open = t
	return t, nil
}

func (j *Journal) writeHeader(h journalHeader) error {
	_, err := j.s.nvm.WriteAt(h.encode(), j.base)
	return err
}

func (j *Journal) readHeader() (journalHeader, bool, error) {
	b := make([]byte, journalHeaderSize)
	if _, err := j.s.nvm.ReadAt(b, j.base); err != nil {
		return journalHeader{}, false, err
	}
	h, ok := decodeJournalHeader(b)
	return h, ok, nil
}

// RecoveryOutcome describes what boot-time recovery did with a journal.
type RecoveryOutcome uint8

const (
	// RecoveryIdle means no transaction had committed without being applied.
	RecoveryIdle RecoveryOutcome = iota
	// RecoveryReplayed means a committed transaction was applied again.
	RecoveryReplayed
	// RecoveryReset means the journal header was torn and has been rewritten.
	RecoveryReset
)

func (o RecoveryOutcome) String() string {
	switch o {
	case RecoveryIdle:
		return "idle"
	case RecoveryReplayed:
		return "replayed"
	case RecoveryReset:
		return "reset"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Recovery is the result of recovering one journal.
type Recovery struct {
	Heap    string
	Outcome RecoveryOutcome
	Entries int
	Seq     uint32
}

// recover brings live memory to the state of the last committed transaction.
// Replaying is idempotent, so an interruption here is recovered by running it
// again on the next boot.
func (j *Journal) recover() (Recovery, error) {
	rec := Recovery{Heap: j.heap}
	h, ok, err := j.readHeader()
	if err != nil {
		return rec, err
	}
	j.seq = h.seq
	rec.Seq = h.seq
	if !ok {
		rec.Outcome = RecoveryReset
		return rec, j.writeHeader(journalHeader{state: journalIdle, seq: h.seq})
	}
	if h.state != journalCommitted {
		return rec, nil
	}
	if h.bytes > j.Capacity() {
		return rec, fmt.Errorf("%w: heap %q journal claims %d bytes", ErrCorrupt, j.heap, h.bytes)
	}

	area := make([]byte, h.bytes)
	if _, err := j.s.nvm.ReadAt(area, j.base+journalHeaderSize); err != nil {
		return rec, err
	}
	type applied struct {
		addr uint32
		data []byte
	}
	entries := make([]applied, 0, h.count)
	for off := uint32(0); uint32(len(entries)) < h.count; {
		addr, data, n, err := decodeEntry(area[off:])
		if err != nil {
			return rec, fmt.Errorf("heap %q entry %d: %w", j.heap, len(entries), err)
		}
		entries = append(entries, applied{addr: addr, data: data})
		off += n
	}
	for _, e := range entries {
		if _, err := j.s.nvm.WriteAt(e.data, e.addr); err != nil {
			return rec, err
		}
	}
	j.seq = h.seq + 1
	rec.Outcome = RecoveryReplayed
	rec.Entries = len(entries)
	rec.Seq = j.seq
	return rec, j.writeHeader(journalHeader{state: journalIdle, seq: j.seq})
}

// Txn is an open transaction on a journal.
//
// Reads through a Txn see its own pending writes. Nothing appended becomes
// visible in live memory before Commit returns.
type Txn struct {
	j       *Journal
	direct  bool
	entries []pending
	used    uint32
	open    bool
	yield   func()
}

type pending struct {
	addr uint32
	data []byte
}

// Journal returns the journal the transaction runs on.
func (t *Txn) Journal() *Journal { return t.j }

// Open reports whether the transaction can still be used.
func (t *Txn) Open() bool { return t.open }

// Len returns the number of pending entries.
func (t *Txn) Len() int { return len(t.entries) }

// Bytes returns the journal space used so far.
func (t *Txn) Bytes() uint32 { return t.used }

// SetYield installs fn to run before every read and append. The scheduler
// uses it as a preemption point inside transaction bodies; fn may park the
// caller while the transaction stays open.
func (t *Txn) SetYield(fn func()) { t.yield = fn }

func (t *Txn) maybeYield() {
	if t.yield != nil {
		t.yield()
	}
}

func (t *Txn) check() error {
	if !t.open {
		return ErrTxnClosed
	}
	return nil
}

func checkRange(id ObjectID, off uint32, n int) error {
	if !id.Valid() || uint64(off)+uint64(n) > uint64(id.size) {
		return fmt.Errorf("%w: [%d,+%d) of %d-byte object", ErrOutOfBounds, off, n, id.size)
	}
	return nil
}

// Append records that b is to be written at byte off of object id.
func (t *Txn) Append(id ObjectID, off uint32, b []byte) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := checkRange(id, off, len(b)); err != nil {
		return err
	}
	return t.append(id.addr+off, b)
}

func (t *Txn) append(addr uint32, b []byte) error {
	t.maybeYield()
	if len(b) == 0 {
		return nil
	}
	if t.direct {
		_, err := t.j.s.nvm.WriteAt(b, addr)
		return err
	}
	n := entrySize(len(b))
	if t.used+n > t.j.Capacity() {
		fatal("append", fmt.Errorf("%w: heap %q needs %d of %d bytes", ErrJournalFull, t.j.heap, t.used+n, t.j.Capacity()))
	}
	if _, err := t.j.s.nvm.WriteAt(encodeEntry(addr, b), t.j.base+journalHeaderSize+t.used); err != nil {
		return err
	}
	t.used += n
	t.entries = append(t.entries, pending{addr: addr, data: append([]byte(nil), b...)})
	return nil
}

// Read fills p from byte off of object id as the transaction sees it.
func (t *Txn) Read(id ObjectID, off uint32, p []byte) error {
	if err := t.check(); err != nil {
		return err
	}
	t.maybeYield()
	if err := checkRange(id, off, len(p)); err != nil {
		return err
	}
	return t.read(id.addr+off, p)
}

func (t *Txn) read(addr uint32, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := t.j.s.nvm.ReadAt(p, addr); err != nil {
		return err
	}
	end := uint64(addr) + uint64(len(p))
	for _, e := range t.entries {
		eEnd := uint64(e.addr) + uint64(len(e.data))
		lo := max(uint64(addr), uint64(e.addr))
		hi := min(end, eEnd)
		if lo >= hi {
			continue
		}
		copy(p[lo-uint64(addr):hi-uint64(addr)], e.data[lo-uint64(e.addr):hi-uint64(e.addr)])
	}
	return nil
}

// Commit makes every appended write durable as one unit.
func (t *Txn) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	defer t.close()
	if len(t.entries) == 0 {
		return nil
	}
	j := t.j
	h := journalHeader{state: journalCommitted, seq: j.seq, count: uint32(len(t.entries)), bytes: t.used}
	if err := j.writeHeader(h); err != nil {
		return err
	}
	for _, e := range t.entries {
		if _, err := j.s.nvm.WriteAt(e.data, e.addr); err != nil {
			return err
		}
	}
	j.seq++
	return j.writeHeader(journalHeader{state: journalIdle, seq: j.seq})
}

// Discard drops the transaction. Live memory is unchanged unless the journal
// writes through.
func (t *Txn) Discard() error {
	if err := t.check(); err != nil {
		return err
	}
	t.close()
	return nil
}

func (t *Txn) close() {
	t.open = false
	t.entries = nil
	if t.j.open == t {
		t.j.open = nil
	}
}

// Update runs fn in a transaction on j and commits it when fn returns nil.
// An error from fn discards the transaction. A panic discards it too, except
// a power loss, which leaves the journal for recovery.
func Update(j *Journal, fn func(tx *Txn) error) error {
	tx, err := j.Begin()
	if err != nil {
		return err
	}
	finished := false
	defer func() {
		if finished {
			return
		}
		r := recover()
		if r == nil {
			_ = tx.Discard()
			return
		}
		if !hal.IsPowerLoss(r) {
			_ = tx.Discard()
		}
		panic(r)
	}()
	err = fn(tx)
	finished = true
	if err != nil {
		_ = tx.Discard()
		return err
	}
	return tx.Commit()
}
