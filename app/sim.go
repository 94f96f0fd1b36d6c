//go:build !tinygo

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"ember/emberos/ckpt"
	"ember/emberos/config"
	"ember/emberos/kernel"
	"ember/emberos/pmem"
	"ember/emberos/workload"
	"ember/hal"
)

// DefaultMaxBoots bounds a simulation that never completes.
const DefaultMaxBoots = 10000

// SimOptions configure Simulate.
type SimOptions struct {
	Options
	MaxBoots int
	// Seed makes fault injection reproducible.
	Seed uint64
	// Log receives every boot's log lines; nil discards them.
	Log io.Writer
	// NVM is reused across runs when set; it must be at least the board's
	// NVM size.
	NVM *hal.MemNVM
}

// SimReport summarises a simulation.
type SimReport struct {
	Board    string
	Mode     config.Mode
	Boots    int
	Losses   uint64
	Writes   uint64
	Complete bool
	Result   workload.Result
	Expected workload.Result

	Checkpoint    ckpt.Snapshot
	HasCheckpoint bool
}

// Verified reports whether the run completed with the exactly-once result.
func (r SimReport) Verified() bool {
	return r.Complete && r.Result == r.Expected
}

// WriteText prints the report as aligned key/value lines.
func (r SimReport) WriteText(w io.Writer) error {
	lines := []string{
		fmt.Sprintf("board      %s", r.Board),
		fmt.Sprintf("mode       %s", r.Mode),
		fmt.Sprintf("boots      %d", r.Boots),
		fmt.Sprintf("losses     %d", r.Losses),
		fmt.Sprintf("writes     %d", r.Writes),
		fmt.Sprintf("complete   %t", r.Complete),
		fmt.Sprintf("squares    %d (want %d)", r.Result.Squares, r.Expected.Squares),
		fmt.Sprintf("sent       %d (want %d)", r.Result.Sent, r.Expected.Sent),
		fmt.Sprintf("received   %d (want %d)", r.Result.Received, r.Expected.Received),
		fmt.Sprintf("payload    %d (want %d)", r.Result.Payload, r.Expected.Payload),
		fmt.Sprintf("verdict    %s", r.Result.Verdict),
	}
	if r.HasCheckpoint {
		lines = append(lines, fmt.Sprintf("checkpoint boots=%d count=%d ticks=%d commits=%d",
			r.Checkpoint.Boots, r.Checkpoint.Checkpoints, r.Checkpoint.Ticks, r.Checkpoint.Commits))
	}
	lines = append(lines, fmt.Sprintf("verified   %t", r.Verified()))
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

// Simulate runs the workload on simulated NVM, rebooting after every injected
// power loss until a boot runs to completion or MaxBoots is reached.
//
// cfg.FaultEvery arms a loss after a uniformly drawn number of writes in
// [1, 2*FaultEvery] at every boot.
func Simulate(ctx context.Context, cfg config.Config, opts SimOptions) (SimReport, error) {
	rep := SimReport{Board: cfg.Board, Mode: cfg.Mode}
	if opts.MaxBoots <= 0 {
		opts.MaxBoots = DefaultMaxBoots
	}
	if opts.Items == 0 {
		opts.Items = DefaultItems
	}
	opts.Clock = kernel.ClockVirtual
	logw := opts.Log
	if logw == nil {
		logw = io.Discard
	}

	nvm := opts.NVM
	if nvm == nil {
		if cfg.Mode.Volatile() {
			nvm = hal.NewVolatileMem(cfg.Budgets.NVMBytes)
		} else {
			nvm = hal.NewMemNVM(cfg.Budgets.NVMBytes)
		}
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	losses0, writes0 := nvm.Losses(), nvm.Writes()

	for rep.Boots < opts.MaxBoots {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Boots++
		if cfg.FaultEvery > 0 {
			nvm.FailAfter(1 + rng.Uint64N(2*uint64(cfg.FaultEvery)))
		}
		h, err := hal.New(hal.HostConfig{NVM: nvm, Log: logw})
		if err != nil {
			return rep, err
		}
		err = Run(ctx, h, cfg, opts.Options)
		if err == nil {
			// Volatile memory must be read before power is cycled.
			rep.Complete = true
			break
		}
		nvm.Restore()
		if !errors.Is(err, hal.ErrPowerLoss) {
			return rep, fmt.Errorf("boot %d: %w", rep.Boots, err)
		}
	}
	nvm.FailAfter(0)
	rep.Losses = nvm.Losses() - losses0
	rep.Writes = nvm.Writes() - writes0
	rep.Expected = workload.Expected(opts.Items)
	err := readResult(&rep, nvm)
	nvm.Restore()
	return rep, err
}

func readResult(rep *SimReport, nvm hal.NVM) error {
	store, err := pmem.Open(nvm, pmem.OpenOptions{})
	if errors.Is(err, pmem.ErrUnformatted) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read result: %w", err)
	}
	if rep.Result, err = workload.Read(store); err != nil {
		return err
	}
	if rep.Checkpoint, rep.HasCheckpoint, err = ckpt.Last(store); err != nil {
		return err
	}
	return nil
}
