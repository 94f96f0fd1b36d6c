package pmem

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ember/emberos/config"
	"ember/hal"
)

// FormatOptions sizes a freshly formatted store.
type FormatOptions struct {
	// Deployment identifies the firmware image. A new random id is used when
	// zero.
	Deployment       uuid.UUID
	BootHeapBytes    uint32
	BootJournalBytes uint32
}

// OpenOptions controls how a store is opened.
type OpenOptions struct {
	Mode   config.Mode
	Logger hal.Logger
	// Format, when set, is applied if the device holds no store, if the
	// deployment differs, or if the mode keeps state in volatile memory.
	Format *FormatOptions
	// Deployment, when non-zero, must match the stored deployment id.
	Deployment uuid.UUID
}

// Store is the persistent heap manager for one NVM device.
type Store struct {
	nvm       hal.NVM
	mode      config.Mode
	log       hal.Logger
	sb        superblock
	heaps     []*Heap
	recovered []Recovery
	formatted bool
}

// Format writes an empty store holding only the boot heap.
func Format(nvm hal.NVM, opts FormatOptions) error {
	jc, hc := align4(opts.BootJournalBytes), align4(opts.BootHeapBytes)
	if jc < MinJournalBytes {
		return fmt.Errorf("%w: boot journal of %d bytes, need at least %d", ErrNoSpace, jc, MinJournalBytes)
	}
	if uint64(regionsOff)+uint64(jc)+uint64(hc) > uint64(nvm.SizeBytes()) {
		return fmt.Errorf("%w: boot heap needs %d bytes, device has %d", ErrNoSpace, regionsOff+jc+hc, nvm.SizeBytes())
	}
	dep := opts.Deployment
	if dep == uuid.Nil {
		dep = uuid.New()
	}

	// Invalidate first so a torn format is never mistaken for a store.
	if _, err := nvm.WriteAt(make([]byte, superblockSize), 0); err != nil {
		return err
	}
	boot := heapDesc{name: BootHeap, base: regionsOff, journalCap: jc, capacity: hc}
	if _, err := nvm.WriteAt(boot.encode(), descAddr(0)); err != nil {
		return err
	}
	if _, err := nvm.WriteAt(journalHeader{state: journalIdle}.encode(), boot.base); err != nil {
		return err
	}
	sb := superblock{version: layoutVersion, deployment: dep, heapCount: 1, nextFree: regionsOff + jc + hc}
	_, err := nvm.WriteAt(sb.encode(), 0)
	return err
}

// Open attaches to the store on nvm and recovers every journal.
func Open(nvm hal.NVM, opts OpenOptions) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = hal.NopLogger()
	}
	s := &Store{nvm: nvm, mode: opts.Mode, log: log}

	if opts.Mode.Volatile() {
		if opts.Format == nil {
			return nil, fmt.Errorf("pmem: %s mode needs format options", opts.Mode)
		}
		if err := s.format(*opts.Format, opts.Deployment); err != nil {
			return nil, err
		}
	}

	err := s.load()
	if err == nil && opts.Deployment != uuid.Nil && s.sb.deployment != opts.Deployment {
		err = fmt.Errorf("%w: stored %s, want %s", ErrDeploymentReset, s.sb.deployment, opts.Deployment)
	}
	if (errors.Is(err, ErrUnformatted) || errors.Is(err, ErrDeploymentReset)) && opts.Format != nil && !s.formatted {
		log.WriteLineString(fmt.Sprintf("pmem: format reason=%q", err))
		if err = s.format(*opts.Format, opts.Deployment); err == nil {
			err = s.load()
		}
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) format(opts FormatOptions, dep uuid.UUID) error {
	if dep != uuid.Nil {
		opts.Deployment = dep
	}
	if err := Format(s.nvm, opts); err != nil {
		return err
	}
	s.formatted = true
	return nil
}

// load reads the metadata and recovers the journals. The boot journal goes
// first because it carries superblock updates.
func (s *Store) load() error {
	s.heaps = s.heaps[:0]
	s.recovered = s.recovered[:0]

	sb, err := s.readSuperblock()
	if err != nil {
		return err
	}
	boot, err := s.recoverHeap(0)
	if err != nil {
		return err
	}
	if sb, err = s.readSuperblock(); err != nil {
		return err
	}
	s.sb = sb
	s.heaps = append(s.heaps, boot)
	for slot := 1; slot < int(sb.heapCount); slot++ {
		h, err := s.recoverHeap(slot)
		if err != nil {
			return err
		}
		s.heaps = append(s.heaps, h)
	}
	return nil
}

func (s *Store) recoverHeap(slot int) (*Heap, error) {
	d, err := s.readDesc(slot)
	if err != nil {
		return nil, err
	}
	h := newHeap(s, slot, d)
	rec, err := h.j.recover()
	if err != nil {
		return nil, fmt.Errorf("recover heap %q: %w", d.name, err)
	}
	s.recovered = append(s.recovered, rec)
	if rec.Outcome != RecoveryIdle {
		s.log.WriteLineString(fmt.Sprintf("pmem: recover heap=%s outcome=%s entries=%d seq=%d", rec.Heap, rec.Outcome, rec.Entries, rec.Seq))
	}
	// The heap's own journal may have carried a descriptor update.
	if h.desc, err = s.readDesc(slot); err != nil {
		return nil, err
	}
	if h.desc.name != d.name || h.desc.base != d.base {
		return nil, fmt.Errorf("%w: heap slot %d changed during recovery", ErrCorrupt, slot)
	}
	return h, nil
}

func (s *Store) readAt(p []byte, off uint32) error {
	_, err := s.nvm.ReadAt(p, off)
	return err
}

func (s *Store) readSuperblock() (superblock, error) {
	b := make([]byte, superblockSize)
	if err := s.readAt(b, 0); err != nil {
		return superblock{}, err
	}
	return decodeSuperblock(b)
}

func (s *Store) readDesc(slot int) (heapDesc, error) {
	b := make([]byte, heapDescSize)
	if err := s.readAt(b, descAddr(slot)); err != nil {
		return heapDesc{}, err
	}
	d, err := decodeHeapDesc(b)
	if err != nil {
		return heapDesc{}, fmt.Errorf("heap slot %d: %w", slot, err)
	}
	return d, nil
}

// commitMeta updates store metadata through j. Metadata is journaled in every
// mode so the store itself survives power loss.
func (s *Store) commitMeta(j *Journal, addr uint32, b []byte) error {
	tx, err := j.begin(false)
	if err != nil {
		return err
	}
	defer func() {
		if tx.Open() {
			_ = tx.Discard()
		}
	}()
	if err := tx.append(addr, b); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Mode() config.Mode     { return s.mode }
func (s *Store) Deployment() uuid.UUID { return s.sb.deployment }
func (s *Store) Formatted() bool       { return s.formatted }
func (s *Store) Recovered() []Recovery { return append([]Recovery(nil), s.recovered...) }
func (s *Store) Boot() *Heap           { return s.heaps[0] }
func (s *Store) FreeBytes() uint32     { return s.nvm.SizeBytes() - s.sb.nextFree }

// Heaps returns every heap in creation order.
func (s *Store) Heaps() []*Heap { return append([]*Heap(nil), s.heaps...) }

// Heap returns the heap called name.
func (s *Store) Heap(name string) (*Heap, bool) {
	for _, h := range s.heaps {
		if h.desc.name == name {
			return h, true
		}
	}
	return nil, false
}

// OpenHeap returns the heap called name, creating it with the given sizes if
// it does not exist. Reopening with different sizes is an error.
func (s *Store) OpenHeap(name string, capacity, journalBytes uint32) (*Heap, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	capacity, journalBytes = align4(capacity), align4(journalBytes)
	if h, ok := s.Heap(name); ok {
		if h.desc.capacity != capacity || h.desc.journalCap != journalBytes {
			return nil, fmt.Errorf("%w: heap %q is %d+%d bytes, want %d+%d", ErrLayoutMismatch,
				name, h.desc.capacity, h.desc.journalCap, capacity, journalBytes)
		}
		return h, nil
	}
	if journalBytes < MinJournalBytes {
		return nil, fmt.Errorf("%w: heap %q journal of %d bytes, need at least %d", ErrNoSpace, name, journalBytes, MinJournalBytes)
	}
	if len(s.heaps) >= maxHeaps {
		return nil, fmt.Errorf("%w: %d heaps in use", ErrNoSpace, maxHeaps)
	}
	need := uint64(capacity) + uint64(journalBytes)
	if uint64(s.sb.nextFree)+need > uint64(s.nvm.SizeBytes()) {
		return nil, fmt.Errorf("%w: heap %q needs %d bytes, %d free", ErrNoSpace, name, need, s.FreeBytes())
	}

	slot := len(s.heaps)
	d := heapDesc{name: name, base: s.sb.nextFree, journalCap: journalBytes, capacity: capacity}
	if _, err := s.nvm.WriteAt(d.encode(), descAddr(slot)); err != nil {
		return nil, err
	}
	if _, err := s.nvm.WriteAt(journalHeader{state: journalIdle}.encode(), d.base); err != nil {
		return nil, err
	}
	sb := s.sb
	sb.heapCount++
	sb.nextFree += uint32(need)
	if err := s.commitMeta(s.Boot().j, 0, sb.encode()); err != nil {
		return nil, err
	}
	s.sb = sb
	h := newHeap(s, slot, d)
	s.heaps = append(s.heaps, h)
	s.log.WriteLineString(fmt.Sprintf("pmem: heap name=%s base=%d capacity=%d journal=%d", name, d.base, capacity, journalBytes))
	return h, nil
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
