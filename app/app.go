// Package app assembles one boot of the system: persistent store, kernel,
// workload tasks and the optional checkpoint daemon.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ember/emberos/ckpt"
	"ember/emberos/config"
	"ember/emberos/kernel"
	"ember/emberos/pmem"
	"ember/emberos/stats"
	"ember/emberos/workload"
	"ember/hal"
)

// DefaultItems is the workload size used when Options leaves it zero.
const DefaultItems = 64

// Timer programming for a 1 kHz tick from a 1 MHz input clock.
const (
	tickPeriod   = 1000
	tickPrescale = 0
)

// ErrNVMSize means the NVM device is smaller than the board budget.
var ErrNVMSize = errors.New("nvm device smaller than board budget")

// Options are the per-boot knobs that are not board configuration.
type Options struct {
	Items      uint32
	Deployment uuid.UUID
	// Clock is ClockExternal on hardware; the simulator uses virtual time.
	Clock kernel.Clock
}

type system struct {
	h     hal.HAL
	cfg   config.Config
	store *pmem.Store
	k     *kernel.Kernel
}

func newSystem(h hal.HAL, cfg config.Config, opts Options) (*system, error) {
	log := h.Logger()
	stats.Init(h.Irq())
	installPanicHandler(h)

	b := cfg.Budgets
	nvm := h.NVM()
	if nvm == nil {
		return nil, fmt.Errorf("app: board %s: no nvm device: %w", cfg.Board, ErrNVMSize)
	}
	if got := nvm.SizeBytes(); got < b.NVMBytes {
		return nil, fmt.Errorf("app: board %s: %d bytes of nvm, budget %d: %w", cfg.Board, got, b.NVMBytes, ErrNVMSize)
	}
	store, err := pmem.Open(nvm, pmem.OpenOptions{
		Mode:       cfg.Mode,
		Logger:     log,
		Deployment: opts.Deployment,
		Format: &pmem.FormatOptions{
			Deployment:       opts.Deployment,
			BootHeapBytes:    b.BootHeapBytes,
			BootJournalBytes: b.BootJournalBytes,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}
	for _, r := range store.Recovered() {
		if r.Outcome == pmem.RecoveryIdle {
			continue
		}
		log.WriteLineString(fmt.Sprintf("app: recovered heap=%s outcome=%s", r.Heap, r.Outcome))
	}

	ko := kernel.OptionsFor(b)
	ko.Logger = log
	ko.Clock = opts.Clock
	k, err := kernel.New(store, ko)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	items := opts.Items
	if items == 0 {
		items = DefaultItems
	}
	err = k.Boot(func(tok *kernel.SyscallToken) error {
		workload.Spawn(tok, workload.Config{Items: items, Logger: log})
		ckpt.Spawn(tok, k, cfg.Checkpoint, log)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("app: boot: %w", err)
	}
	return &system{h: h, cfg: cfg, store: store, k: k}, nil
}

// pumpTicks forwards the HAL tick stream to the kernel until ctx ends.
func (s *system) pumpTicks(ctx context.Context) {
	if timer := s.h.Timer(); timer != nil {
		timer.Configure(tickPeriod, tickPrescale)
		timer.Start()
	}
	ht := s.h.Time()
	if ht == nil {
		return
	}
	ch := ht.Ticks()
	if ch == nil {
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case seq := <-ch:
				s.k.TickTo(seq)
			}
		}
	}()
}

// Run boots the system on h and runs it until the workload finishes, ctx
// ends, or power fails. A power loss is returned as hal.ErrPowerLoss whether
// it struck the store, the boot or a task.
func Run(ctx context.Context, h hal.HAL, cfg config.Config, opts Options) error {
	return hal.Survive(func() error {
		s, err := newSystem(h, cfg, opts)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		s.pumpTicks(ctx)
		if err := s.k.Run(ctx); err != nil {
			return err
		}
		s.h.Logger().WriteLineString(fmt.Sprintf("app: finished now=%d commits=%d", s.k.Now(), s.k.Commits()))
		return nil
	})
}
