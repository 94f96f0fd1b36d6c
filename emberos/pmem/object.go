package pmem

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Object is the owner of a typed persistent object. T must have a fixed
// binary size (integers, floats, bools, arrays and structs of those).
//
// Reads and writes go through a transaction. Writing appends only the bytes
// that changed. Ownership can be moved, after which the old owner is dead.
type Object[T any] struct {
	s     *Store
	id    ObjectID
	name  string
	moved bool
}

// NewObject allocates name in h holding initial, or attaches to the existing
// object of that name. Sizing and layout errors are fatal.
func NewObject[T any](h *Heap, name string, initial T) *Object[T] {
	b, err := encodeValue(initial)
	if err != nil {
		fatal("new object "+name, err)
	}
	id, _, err := h.allocInit(name, b)
	if err != nil {
		fatal("new object "+name, err)
	}
	return &Object[T]{s: h.s, id: id, name: name}
}

// OpenObject attaches to an existing object.
func OpenObject[T any](h *Heap, name string) (*Object[T], error) {
	var zero T
	size := binary.Size(zero)
	if size <= 0 {
		return nil, fmt.Errorf("%w: %T", ErrNotFixedSize, zero)
	}
	id, err := h.Lookup(name)
	if err != nil {
		return nil, err
	}
	if id.size != uint32(size) {
		return nil, fmt.Errorf("%w: %q is %d bytes, %T is %d", ErrLayoutMismatch, name, id.size, zero, size)
	}
	return &Object[T]{s: h.s, id: id, name: name}, nil
}

func (o *Object[T]) Name() string { return o.name }

func (o *Object[T]) ID() ObjectID {
	o.live("id")
	return o.id
}

func (o *Object[T]) live(op string) {
	if o.moved {
		fatal(op+" "+o.name, ErrMovedOwner)
	}
}

// Read returns the value as tx sees it.
func (o *Object[T]) Read(tx *Txn) T {
	o.live("read")
	buf := make([]byte, o.id.size)
	if err := tx.Read(o.id, 0, buf); err != nil {
		fatal("read "+o.name, err)
	}
	v, err := decodeValue[T](buf)
	if err != nil {
		fatal("read "+o.name, err)
	}
	return v
}

// Write stores v in tx.
func (o *Object[T]) Write(tx *Txn, v T) {
	o.live("write")
	b, err := encodeValue(v)
	if err != nil {
		fatal("write "+o.name, err)
	}
	cur := make([]byte, o.id.size)
	if err := tx.Read(o.id, 0, cur); err != nil {
		fatal("write "+o.name, err)
	}
	first, last := -1, -1
	for i := range b {
		if b[i] != cur[i] {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return
	}
	if err := tx.Append(o.id, uint32(first), b[first:last+1]); err != nil {
		fatal("write "+o.name, err)
	}
}

// Update applies fn to the value in tx.
func (o *Object[T]) Update(tx *Txn, fn func(v *T)) {
	v := o.Read(tx)
	fn(&v)
	o.Write(tx, v)
}

// Committed returns the value as of the last commit.
func (o *Object[T]) Committed() (T, error) {
	var zero T
	if o.moved {
		return zero, ErrMovedOwner
	}
	buf := make([]byte, o.id.size)
	if err := o.s.readAt(buf, o.id.addr); err != nil {
		return zero, err
	}
	return decodeValue[T](buf)
}

// Move transfers ownership to the returned handle.
func (o *Object[T]) Move() *Object[T] {
	o.live("move")
	n := &Object[T]{s: o.s, id: o.id, name: o.name}
	o.moved = true
	return n
}

func encodeValue[T any](v T) ([]byte, error) {
	if binary.Size(v) <= 0 {
		return nil, fmt.Errorf("%w: %T", ErrNotFixedSize, v)
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeValue[T any](b []byte) (T, error) {
	var v T
	err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &v)
	return v, err
}
