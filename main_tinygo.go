//go:build tinygo

package main

import (
	"context"
	"fmt"

	"ember/app"
	"ember/emberos/config"
	"ember/emberos/kernel"
	"ember/hal"
)

// Board image settings; the budget table entry is chosen at build time.
var (
	board = "msp430fr5994"
	mode  = "idempotent"
)

func main() {
	h, err := hal.New()
	log := h.Logger()
	if err != nil {
		log.WriteLineString(fmt.Sprintf("ember: hal err=%v", err))
		select {}
	}

	m, err := config.ParseMode(mode)
	if err != nil {
		log.WriteLineString(err.Error())
		select {}
	}
	cfg, err := config.Load(config.Selection{
		Board:      board,
		Mode:       m,
		Checkpoint: config.Checkpoint{Enabled: true},
	})
	if err != nil {
		log.WriteLineString(err.Error())
		select {}
	}
	err = app.Run(context.Background(), h, cfg, app.Options{Clock: kernel.ClockExternal})
	log.WriteLineString(fmt.Sprintf("ember: stopped err=%v", err))
	select {}
}
