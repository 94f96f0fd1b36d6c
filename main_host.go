//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"ember/app"
	"ember/emberos/config"
	"ember/emberos/kernel"
	"ember/hal"
)

func main() {
	var (
		sel      config.Selection
		mode     string
		nvmPath  string
		items    uint
		headless hal.HeadlessConfig
	)
	flag.StringVar(&sel.Board, "board", "host", "Board from the budget table.")
	flag.StringVar(&mode, "mode", config.ModeIdempotent.String(), "Persistence mode.")
	flag.BoolVar(&sel.Checkpoint.Enabled, "checkpoint", false, "Run the checkpoint daemon.")
	flag.Func("period", "Checkpoint period in ticks.", func(s string) error {
		_, err := fmt.Sscan(s, &sel.Checkpoint.PeriodTicks)
		return err
	})
	flag.StringVar(&nvmPath, "nvm", "ember.nvm", "NVM image file.")
	flag.UintVar(&items, "items", app.DefaultItems, "Workload size.")
	flag.IntVar(&headless.Hz, "hz", 1000, "Tick rate.")
	flag.Uint64Var(&headless.Ticks, "ticks", 0, "Stop after N ticks (0 = run until the workload ends).")
	flag.Parse()

	m, err := config.ParseMode(mode)
	if err != nil {
		fail(err)
	}
	sel.Mode = m
	cfg, err := config.Load(sel)
	if err != nil {
		fail(err)
	}
	h, err := hal.New(hal.HostConfig{NVMPath: nvmPath, NVMBytes: cfg.Budgets.NVMBytes})
	if err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		if err := hal.RunHeadless(ctx, h, headless); err == nil {
			cancel()
		}
	}()

	err = app.Run(ctx, h, cfg, app.Options{Items: uint32(items), Clock: kernel.ClockExternal})
	cancel()
	if f, ok := h.NVM().(*hal.FileNVM); ok {
		_ = f.Sync()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
