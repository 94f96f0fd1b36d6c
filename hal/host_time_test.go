//go:build !tinygo

package hal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostTimeKeepsNewestTick(t *testing.T) {
	ht := newHostTime()
	require.Equal(t, uint64(1), ht.advance(time.Hour))
	ht.publish(4)
	ht.publish(2)

	select {
	case seq := <-ht.Ticks():
		assert.Equal(t, uint64(7), seq)
	default:
		t.Fatal("no tick published")
	}
	select {
	case seq := <-ht.Ticks():
		t.Fatalf("stale tick %d still queued", seq)
	default:
	}
}

func TestHostTimeCatchesUp(t *testing.T) {
	ht := newHostTime()
	ht.advance(time.Millisecond)
	ht.last = ht.last.Add(-5 * time.Millisecond)
	n := ht.advance(time.Millisecond)
	assert.GreaterOrEqual(t, n, uint64(5))
	assert.Equal(t, 1+n, <-ht.Ticks())
}
