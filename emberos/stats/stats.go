// Package stats keeps rolling diagnostic metrics for the whole system.
//
// There is one registry per process. It is installed once with Init and every
// read or write runs with interrupts disabled through the HAL, so tasks and
// interrupt handlers can record without a lock of their own. Recording before
// Init is a no-op.
package stats

import (
	"fmt"
	"io"
	"sync/atomic"

	"ember/hal"
)

const maxMetrics = 32

// Metric is the rolling summary of one named series.
type Metric struct {
	Name  string
	Count uint64
	Min   int64
	Max   int64
	Sum   int64
}

// Mean returns the average sample, or zero without samples.
func (m Metric) Mean() float64 {
	if m.Count == 0 {
		return 0
	}
	return float64(m.Sum) / float64(m.Count)
}

func (m *Metric) add(v int64) {
	if m.Count == 0 || v < m.Min {
		m.Min = v
	}
	if m.Count == 0 || v > m.Max {
		m.Max = v
	}
	m.Count++
	m.Sum += v
}

type registry struct {
	irq     hal.Irq
	n       int
	dropped uint64
	slots   [maxMetrics]Metric
}

var current atomic.Pointer[registry]

// Init installs the registry. Only the first call has an effect.
func Init(irq hal.Irq) {
	if irq == nil {
		irq = hal.NewSoftIrq()
	}
	current.CompareAndSwap(nil, &registry{irq: irq})
}

// Initialized reports whether Init has run.
func Initialized() bool { return current.Load() != nil }

func with(fn func(r *registry)) {
	r := current.Load()
	if r == nil {
		return
	}
	st := r.irq.Disable()
	defer r.irq.Restore(st)
	fn(r)
}

func (r *registry) find(name string) *Metric {
	for i := 0; i < r.n; i++ {
		if r.slots[i].Name == name {
			return &r.slots[i]
		}
	}
	return nil
}

// Record adds one sample to the named metric. Samples for new names are
// dropped once every slot is taken.
func Record(name string, v int64) {
	with(func(r *registry) {
		m := r.find(name)
		if m == nil {
			if r.n == maxMetrics {
				r.dropped++
				return
			}
			m = &r.slots[r.n]
			*m = Metric{Name: name}
			r.n++
		}
		m.add(v)
	})
}

// Get returns the named metric.
func Get(name string) (Metric, bool) {
	var (
		out Metric
		ok  bool
	)
	with(func(r *registry) {
		if m := r.find(name); m != nil {
			out, ok = *m, true
		}
	})
	return out, ok
}

// Snapshot returns every metric in first-recorded order.
func Snapshot() []Metric {
	var out []Metric
	with(func(r *registry) {
		out = append(out, r.slots[:r.n]...)
	})
	return out
}

// Dropped returns the number of samples lost to a full registry.
func Dropped() uint64 {
	var n uint64
	with(func(r *registry) { n = r.dropped })
	return n
}

// Reset forgets every metric.
func Reset() {
	with(func(r *registry) {
		r.n = 0
		r.dropped = 0
		r.slots = [maxMetrics]Metric{}
	})
}

// WriteText prints the snapshot one metric per line.
func WriteText(w io.Writer) error {
	for _, m := range Snapshot() {
		if _, err := fmt.Fprintf(w, "%-16s count=%d min=%d max=%d mean=%.1f\n",
			m.Name, m.Count, m.Min, m.Max, m.Mean()); err != nil {
			return err
		}
	}
	return nil
}
