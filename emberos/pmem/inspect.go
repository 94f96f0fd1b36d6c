package pmem

import (
	"fmt"
	"io"

	"github.com/google/uuid"

	"ember/hal"
)

// Report is a read-only view of a store. Inspect does not run recovery, so a
// committed but unapplied transaction shows up in the journal state.
type Report struct {
	Deployment uuid.UUID
	Version    uint16
	SizeBytes  uint32
	NextFree   uint32
	Heaps      []HeapReport
}

type HeapReport struct {
	Name         string
	Base         uint32
	JournalBytes uint32
	Capacity     uint32
	Used         uint32
	Journal      JournalState
	Objects      []ObjectInfo
}

type JournalState struct {
	State   string
	Seq     uint32
	Entries uint32
	Bytes   uint32
}

// Inspect reads the store on nvm without modifying it.
func Inspect(nvm hal.NVM) (Report, error) {
	s := &Store{nvm: nvm, log: hal.NopLogger()}
	sb, err := s.readSuperblock()
	if err != nil {
		return Report{}, err
	}
	r := Report{
		Deployment: sb.deployment,
		Version:    sb.version,
		SizeBytes:  nvm.SizeBytes(),
		NextFree:   sb.nextFree,
	}
	for slot := 0; slot < int(sb.heapCount); slot++ {
		d, err := s.readDesc(slot)
		if err != nil {
			return r, err
		}
		hr := HeapReport{
			Name:         d.name,
			Base:         d.base,
			JournalBytes: d.journalCap,
			Capacity:     d.capacity,
			Used:         d.used,
		}
		hb := make([]byte, journalHeaderSize)
		if err := s.readAt(hb, d.base); err != nil {
			return r, err
		}
		jh, ok := decodeJournalHeader(hb)
		hr.Journal = JournalState{State: "torn", Seq: jh.seq}
		if ok {
			hr.Journal = JournalState{State: "idle", Seq: jh.seq}
			if jh.state == journalCommitted {
				hr.Journal = JournalState{State: "committed", Seq: jh.seq, Entries: jh.count, Bytes: jh.bytes}
			}
		}
		if err := walkRecords(s.readAt, d.base+d.journalCap, d, func(o ObjectInfo) bool {
			hr.Objects = append(hr.Objects, o)
			return true
		}); err != nil {
			return r, err
		}
		r.Heaps = append(r.Heaps, hr)
	}
	return r, nil
}

// WriteText prints r in the format used by the inspect command.
func (r Report) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "deployment %s\nversion %d\nsize %d bytes, %d used\n",
		r.Deployment, r.Version, r.SizeBytes, r.NextFree); err != nil {
		return err
	}
	for _, h := range r.Heaps {
		if _, err := fmt.Fprintf(w, "heap %s base=%d journal=%d capacity=%d used=%d\n",
			h.Name, h.Base, h.JournalBytes, h.Capacity, h.Used); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "  journal %s seq=%d entries=%d bytes=%d\n",
			h.Journal.State, h.Journal.Seq, h.Journal.Entries, h.Journal.Bytes); err != nil {
			return err
		}
		for _, o := range h.Objects {
			if _, err := fmt.Fprintf(w, "  object %-16s addr=%d size=%d\n", o.Name, o.Addr, o.Size); err != nil {
				return err
			}
		}
	}
	return nil
}
