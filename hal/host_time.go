//go:build !tinygo

package hal

import "time"

// hostTime publishes the tick sequence number. The channel only holds the
// newest value; readers catch up on the numbers they skipped.
type hostTime struct {
	ch  chan uint64
	seq uint64

	last time.Time
	rem  time.Duration
}

func newHostTime() *hostTime {
	return &hostTime{ch: make(chan uint64, 1)}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

// advance raises one tick per whole period of wall time since the previous
// call, and a single tick on the first call. It returns the ticks raised.
func (t *hostTime) advance(period time.Duration) uint64 {
	now := time.Now()
	n := uint64(1)
	if !t.last.IsZero() {
		t.rem += now.Sub(t.last)
		n = uint64(t.rem / period)
		t.rem %= period
	}
	t.last = now
	if n > 0 {
		t.publish(n)
	}
	return n
}

// publish must only be called from the single tick producer.
func (t *hostTime) publish(n uint64) {
	t.seq += n
	select {
	case <-t.ch:
	default:
	}
	t.ch <- t.seq
}
