//go:build !tinygo

package hal

import (
	"context"
	"fmt"
	"time"
)

// HeadlessConfig controls the host tick pump.
type HeadlessConfig struct {
	Hz    int
	Ticks uint64
}

// RunHeadless raises timer ticks on a host HAL until ctx ends or cfg.Ticks
// ticks were raised. Ticks are only raised while the HAL's TickTimer runs.
func RunHeadless(ctx context.Context, h HAL, cfg HeadlessConfig) error {
	host, ok := h.(*hostHAL)
	if !ok {
		return fmt.Errorf("headless: %T is not a host hal", h)
	}
	if cfg.Hz <= 0 {
		cfg.Hz = 1000
	}

	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}
	t := time.NewTicker(d)
	defer t.Stop()

	var tick uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if !host.timer.Running() {
				continue
			}
			n := host.t.advance(d)
			for i := uint64(0); i < n; i++ {
				host.timer.Fired()
			}
			tick += n
			if cfg.Ticks > 0 && tick >= cfg.Ticks {
				return nil
			}
		}
	}
}
