package pmem

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
)

// Device layout:
//
//	[0, 64)            superblock
//	[64, 832)          heap descriptor table (16 x 48 bytes)
//	[832, nextFree)    heap regions: journal, then object area
//
// All integers are little-endian. Every metadata record carries a CRC32 of
// the bytes before it.
const (
	storeMagic    = 0x31424D45 // "EMB1"
	layoutVersion = 1

	superblockSize = 64
	maxHeaps       = 16
	nameLen        = 16
	heapDescSize   = 48
	tableOff       = superblockSize
	regionsOff     = tableOff + maxHeaps*heapDescSize

	recordHeaderSize  = nameLen + 8
	journalHeaderSize = 20
	entryOverhead     = 12

	// MinJournalBytes fits the header and one small entry.
	MinJournalBytes = journalHeaderSize + entryOverhead + 32
)

// BootHeap is the name of the heap shared by the boot context.
const BootHeap = "boot"

var le = binary.LittleEndian

func align4(n uint32) uint32 { return (n + 3) &^ 3 }

func checkName(name string) error {
	if len(name) == 0 || len(name) > nameLen {
		return fmt.Errorf("%w: %q must be 1..%d bytes", ErrBadName, name, nameLen)
	}
	for i := 0; i < len(name); i++ {
		if name[i] == 0 {
			return fmt.Errorf("%w: %q contains NUL", ErrBadName, name)
		}
	}
	return nil
}

func putName(dst []byte, name string) {
	clear(dst[:nameLen])
	copy(dst[:nameLen], name)
}

func getName(src []byte) string {
	n := 0
	for n < nameLen && src[n] != 0 {
		n++
	}
	return string(src[:n])
}

type superblock struct {
	version    uint16
	deployment uuid.UUID
	heapCount  uint32
	nextFree   uint32
}

func (sb superblock) encode() []byte {
	b := make([]byte, superblockSize)
	le.PutUint32(b[0:4], storeMagic)
	le.PutUint16(b[4:6], sb.version)
	copy(b[8:24], sb.deployment[:])
	le.PutUint32(b[24:28], sb.heapCount)
	le.PutUint32(b[28:32], sb.nextFree)
	le.PutUint32(b[60:64], crc32.ChecksumIEEE(b[:60]))
	return b
}

func decodeSuperblock(b []byte) (superblock, error) {
	if le.Uint32(b[0:4]) != storeMagic {
		return superblock{}, ErrUnformatted
	}
	if crc32.ChecksumIEEE(b[:60]) != le.Uint32(b[60:64]) {
		return superblock{}, fmt.Errorf("%w: superblock checksum", ErrCorrupt)
	}
	var sb superblock
	sb.version = le.Uint16(b[4:6])
	copy(sb.deployment[:], b[8:24])
	sb.heapCount = le.Uint32(b[24:28])
	sb.nextFree = le.Uint32(b[28:32])
	if sb.version != layoutVersion {
		return superblock{}, fmt.Errorf("%w: layout version %d", ErrLayoutMismatch, sb.version)
	}
	if sb.heapCount == 0 || sb.heapCount > maxHeaps {
		return superblock{}, fmt.Errorf("%w: heap count %d", ErrCorrupt, sb.heapCount)
	}
	return sb, nil
}

type heapDesc struct {
	name       string
	base       uint32
	journalCap uint32
	capacity   uint32
	used       uint32
	objects    uint32
}

func descAddr(slot int) uint32 { return tableOff + uint32(slot)*heapDescSize }

func (d heapDesc) encode() []byte {
	b := make([]byte, heapDescSize)
	putName(b, d.name)
	le.PutUint32(b[16:20], d.base)
	le.PutUint32(b[20:24], d.journalCap)
	le.PutUint32(b[24:28], d.capacity)
	le.PutUint32(b[28:32], d.used)
	le.PutUint32(b[32:36], d.objects)
	le.PutUint32(b[44:48], crc32.ChecksumIEEE(b[:44]))
	return b
}

func decodeHeapDesc(b []byte) (heapDesc, error) {
	if crc32.ChecksumIEEE(b[:44]) != le.Uint32(b[44:48]) {
		return heapDesc{}, fmt.Errorf("%w: heap descriptor checksum", ErrCorrupt)
	}
	return heapDesc{
		name:       getName(b),
		base:       le.Uint32(b[16:20]),
		journalCap: le.Uint32(b[20:24]),
		capacity:   le.Uint32(b[24:28]),
		used:       le.Uint32(b[28:32]),
		objects:    le.Uint32(b[32:36]),
	}, nil
}

func encodeRecordHeader(name string, size uint32) []byte {
	b := make([]byte, recordHeaderSize)
	putName(b, name)
	le.PutUint32(b[16:20], size)
	le.PutUint32(b[20:24], crc32.ChecksumIEEE(b[:20]))
	return b
}

func decodeRecordHeader(b []byte) (name string, size uint32, err error) {
	if crc32.ChecksumIEEE(b[:20]) != le.Uint32(b[20:24]) {
		return "", 0, fmt.Errorf("%w: object record checksum", ErrCorrupt)
	}
	return getName(b), le.Uint32(b[16:20]), nil
}

const (
	journalIdle      uint8 = 0
	journalCommitted uint8 = 1
)

type journalHeader struct {
	state uint8
	seq   uint32
	count uint32
	bytes uint32
}

func (h journalHeader) encode() []byte {
	b := make([]byte, journalHeaderSize)
	b[0] = h.state
	le.PutUint32(b[4:8], h.seq)
	le.PutUint32(b[8:12], h.count)
	le.PutUint32(b[12:16], h.bytes)
	le.PutUint32(b[16:20], crc32.ChecksumIEEE(b[:16]))
	return b
}

// decodeJournalHeader reports ok=false for a torn or never-written header.
func decodeJournalHeader(b []byte) (journalHeader, bool) {
	if crc32.ChecksumIEEE(b[:16]) != le.Uint32(b[16:20]) {
		return journalHeader{seq: le.Uint32(b[4:8])}, false
	}
	h := journalHeader{
		state: b[0],
		seq:   le.Uint32(b[4:8]),
		count: le.Uint32(b[8:12]),
		bytes: le.Uint32(b[12:16]),
	}
	if h.state != journalIdle && h.state != journalCommitted {
		return h, false
	}
	return h, true
}

func entrySize(n int) uint32 { return entryOverhead + align4(uint32(n)) }

func encodeEntry(addr uint32, data []byte) []byte {
	b := make([]byte, entrySize(len(data)))
	le.PutUint32(b[0:4], addr)
	le.PutUint32(b[4:8], uint32(len(data)))
	copy(b[8:], data)
	tail := len(b) - 4
	le.PutUint32(b[tail:], crc32.ChecksumIEEE(b[:tail]))
	return b
}

// decodeEntry decodes the entry at the start of b and returns its size.
func decodeEntry(b []byte) (addr uint32, data []byte, size uint32, err error) {
	if len(b) < entryOverhead {
		return 0, nil, 0, fmt.Errorf("%w: short journal entry", ErrCorrupt)
	}
	addr = le.Uint32(b[0:4])
	n := le.Uint32(b[4:8])
	size = entrySize(int(n))
	if uint64(size) > uint64(len(b)) {
		return 0, nil, 0, fmt.Errorf("%w: journal entry length %d", ErrCorrupt, n)
	}
	tail := size - 4
	if crc32.ChecksumIEEE(b[:tail]) != le.Uint32(b[tail:size]) {
		return 0, nil, 0, fmt.Errorf("%w: journal entry checksum", ErrCorrupt)
	}
	return addr, b[8 : 8+n], size, nil
}
