package looper

import (
	"sync"
	"time"

	"github.com/vsariola/loopstation"
)

type (
	// Metrics keeps bounded windows of the time spent rendering blocks and
	// running effect stages, and counts blocks that took longer than their
	// budget. It is safe for concurrent use.
	Metrics struct {
		clock   loopstation.Clock
		started time.Time

		mu       sync.Mutex
		fills    window
		effects  map[loopstation.EffectKind]*window
		glitches int
		blocks   int
	}

	Report struct {
		Uptime   time.Duration
		Blocks   int
		Glitches int
		AvgFill  time.Duration
		MaxFill  time.Duration
		// AvgEffect is the mean processing time per stage kind.
		AvgEffect map[loopstation.EffectKind]time.Duration
		// Load is the mean fill time as a fraction of the block duration.
		Load float64
	}

	window struct {
		samples []time.Duration
		next    int
		full    bool
	}
)

const (
	fillWindow   = 100
	effectWindow = 50
)

func NewMetrics(clock loopstation.Clock) *Metrics {
	if clock == nil {
		clock = loopstation.SystemClock{}
	}
	return &Metrics{
		clock:   clock,
		started: clock.Now(),
		fills:   newWindow(fillWindow),
		effects: map[loopstation.EffectKind]*window{},
	}
}

// StageProcessed records the time one effect stage took.
func (m *Metrics) StageProcessed(kind loopstation.EffectKind, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.effects[kind]
	if !ok {
		nw := newWindow(effectWindow)
		w = &nw
		m.effects[kind] = w
	}
	w.add(elapsed)
}

// BlockRendered records the time spent filling a block that lasts budget.
// A block that took longer than its budget counts as a glitch.
func (m *Metrics) BlockRendered(elapsed, budget time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills.add(elapsed)
	m.blocks++
	if budget > 0 && elapsed > budget {
		m.glitches++
	}
}

// Glitch counts a dropout detected elsewhere, e.g. by the scheduler.
func (m *Metrics) Glitch() {
	m.mu.Lock()
	m.glitches++
	m.mu.Unlock()
}

func (m *Metrics) Report(blockDuration time.Duration) Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := Report{
		Uptime:    m.clock.Now().Sub(m.started),
		Blocks:    m.blocks,
		Glitches:  m.glitches,
		AvgFill:   m.fills.mean(),
		MaxFill:   m.fills.max(),
		AvgEffect: make(map[loopstation.EffectKind]time.Duration, len(m.effects)),
	}
	for k, w := range m.effects {
		r.AvgEffect[k] = w.mean()
	}
	if blockDuration > 0 {
		r.Load = float64(r.AvgFill) / float64(blockDuration)
	}
	return r
}

// Reset forgets everything recorded so far and restarts the uptime.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = m.clock.Now()
	m.fills = newWindow(fillWindow)
	m.effects = map[loopstation.EffectKind]*window{}
	m.glitches = 0
	m.blocks = 0
}

func newWindow(size int) window {
	return window{samples: make([]time.Duration, size)}
}

func (w *window) add(d time.Duration) {
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

func (w *window) values() []time.Duration {
	if w.full {
		return w.samples
	}
	return w.samples[:w.next]
}

func (w *window) mean() time.Duration {
	v := w.values()
	if len(v) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range v {
		sum += d
	}
	return sum / time.Duration(len(v))
}

func (w *window) max() time.Duration {
	var ret time.Duration
	for _, d := range w.values() {
		ret = max(ret, d)
	}
	return ret
}
