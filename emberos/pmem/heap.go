package pmem

import (
	"fmt"
)

// Heap is a named region of persistent memory with its own journal.
//
// Allocation is append-only and idempotent by object name: allocating a name
// that already exists returns the existing object, so code that allocates
// during initialisation can simply run again after a reboot.
type Heap struct {
	s    *Store
	slot int
	desc heapDesc
	j    *Journal
}

func newHeap(s *Store, slot int, d heapDesc) *Heap {
	h := &Heap{s: s, slot: slot, desc: d}
	h.j = &Journal{s: s, heap: d.name, base: d.base, size: d.journalCap}
	return h
}

func (h *Heap) Name() string      { return h.desc.name }
func (h *Heap) Capacity() uint32  { return h.desc.capacity }
func (h *Heap) Used() uint32      { return h.desc.used }
func (h *Heap) Free() uint32      { return h.desc.capacity - h.desc.used }
func (h *Heap) ObjectCount() int  { return int(h.desc.objects) }
func (h *Heap) Journal() *Journal { return h.j }
func (h *Heap) Store() *Store     { return h.s }
func (h *Heap) dataBase() uint32  { return h.desc.base + h.desc.journalCap }

// ObjectInfo describes one allocated object.
type ObjectInfo struct {
	Name string
	Addr uint32
	Size uint32
}

// Objects lists the heap's objects in allocation order.
func (h *Heap) Objects() ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := h.walk(func(o ObjectInfo) bool {
		out = append(out, o)
		return true
	})
	return out, err
}

func (h *Heap) walk(fn func(ObjectInfo) bool) error {
	return walkRecords(h.s.readAt, h.dataBase(), h.desc, fn)
}

func walkRecords(read func(p []byte, off uint32) error, base uint32, d heapDesc, fn func(ObjectInfo) bool) error {
	hdr := make([]byte, recordHeaderSize)
	for off, n := uint32(0), uint32(0); n < d.objects; n++ {
		if off+recordHeaderSize > d.used {
			return fmt.Errorf("%w: heap %q object %d beyond used space", ErrCorrupt, d.name, n)
		}
		if err := read(hdr, base+off); err != nil {
			return err
		}
		name, size, err := decodeRecordHeader(hdr)
		if err != nil {
			return fmt.Errorf("heap %q object %d: %w", d.name, n, err)
		}
		if !fn(ObjectInfo{Name: name, Addr: base + off + recordHeaderSize, Size: size}) {
			return nil
		}
		off += recordHeaderSize + align4(size)
	}
	return nil
}

// Lookup returns the object allocated under name.
func (h *Heap) Lookup(name string) (ObjectID, error) {
	var (
		id    ObjectID
		found bool
	)
	if err := h.walk(func(o ObjectInfo) bool {
		if o.Name == name {
			id, found = ObjectID{addr: o.Addr, size: o.Size}, true
			return false
		}
		return true
	}); err != nil {
		return ObjectID{}, err
	}
	if !found {
		return ObjectID{}, fmt.Errorf("%w: %q in heap %q", ErrNotFound, name, h.desc.name)
	}
	return id, nil
}

// Alloc reserves a zeroed object of size bytes under name. The second result
// reports whether the object was created by this call.
func (h *Heap) Alloc(name string, size uint32) (ObjectID, bool, error) {
	return h.allocInit(name, make([]byte, size))
}

// allocInit allocates an object holding init. The record is written to free
// space first and becomes part of the heap when the descriptor update
// commits, so a reboot in between leaves no trace.
func (h *Heap) allocInit(name string, init []byte) (ObjectID, bool, error) {
	if err := checkName(name); err != nil {
		return ObjectID{}, false, err
	}
	size := uint32(len(init))
	if size == 0 {
		return ObjectID{}, false, fmt.Errorf("%w: %q has zero size", ErrOutOfBounds, name)
	}

	id, err := h.Lookup(name)
	switch {
	case err == nil:
		if id.size != size {
			return ObjectID{}, false, fmt.Errorf("%w: %q is %d bytes, want %d", ErrLayoutMismatch, name, id.size, size)
		}
		return id, false, nil
	case !isNotFound(err):
		return ObjectID{}, false, err
	}

	need := recordHeaderSize + align4(size)
	if uint64(h.desc.used)+uint64(need) > uint64(h.desc.capacity) {
		return ObjectID{}, false, fmt.Errorf("%w: heap %q has %d of %d bytes free", ErrHeapFull, h.desc.name, h.Free(), need)
	}

	at := h.dataBase() + h.desc.used
	rec := make([]byte, need)
	copy(rec, encodeRecordHeader(name, size))
	copy(rec[recordHeaderSize:], init)
	if _, err := h.s.nvm.WriteAt(rec, at); err != nil {
		return ObjectID{}, false, err
	}

	next := h.desc
	next.used += need
	next.objects++
	if err := h.s.commitMeta(h.j, descAddr(h.slot), next.encode()); err != nil {
		return ObjectID{}, false, err
	}
	h.desc = next
	h.s.log.WriteLineString(fmt.Sprintf("pmem: alloc heap=%s object=%s size=%d addr=%d", h.desc.name, name, size, at+recordHeaderSize))
	return ObjectID{addr: at + recordHeaderSize, size: size}, true, nil
}

// ObjectID names an allocated object. The zero value is invalid.
type ObjectID struct {
	addr uint32
	size uint32
}

func (id ObjectID) Addr() uint32 { return id.addr }
func (id ObjectID) Size() uint32 { return id.size }
func (id ObjectID) Valid() bool  { return id.size > 0 }

func (id ObjectID) String() string {
	return fmt.Sprintf("obj@%d+%d", id.addr, id.size)
}
