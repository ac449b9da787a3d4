// Package scheduler implements a ring of preallocated audio buffers that are
// handed to the output one after another while the buffers already played
// are refilled in the background.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/loopstation"
)

type (
	Config struct {
		BufferSize int // frames per buffer
		Depth      int // number of buffers in the ring, at least 2
		SampleRate int
		Channels   int
	}

	// FillFunc renders the next block of audio into buf. buf is silent when
	// the function is called. It must not call back into the scheduler.
	FillFunc func(buf loopstation.AudioBuffer)

	// OutputFunc receives a copy of every buffer that becomes active.
	OutputFunc func(buf loopstation.AudioBuffer)

	Scheduler struct {
		cfg      Config
		clock    loopstation.Clock
		log      logrus.FieldLogger
		dispatch func(func())
		paced    bool

		mu         sync.Mutex
		slots      []loopstation.AudioBuffer
		pending    []bool
		active     int
		running    bool
		generation int
		timer      loopstation.Timer
		fill       FillFunc
		output     OutputFunc
		stats      Stats
	}

	Stats struct {
		Ticks     int // rotations, by the clock or by Pull
		Committed int // refills whose results were stored
		Discarded int // refills that finished after Stop or after their slot became active
		Glitches  int // ticks that activated a slot whose refill had not finished
	}

	Option func(*Scheduler)
)

// WithDispatcher sets how the asynchronous refills are run. The default is
// one goroutine per refill.
func WithDispatcher(d func(func())) Option {
	return func(s *Scheduler) { s.dispatch = d }
}

// WithDevicePacing makes the audio device drive the rotation through Pull.
// Start then fills the ring but arms no timer.
func WithDevicePacing() Option {
	return func(s *Scheduler) { s.paced = true }
}

func New(cfg Config, clock loopstation.Clock, log logrus.FieldLogger, opts ...Option) (*Scheduler, error) {
	if cfg.Depth < 2 {
		return nil, fmt.Errorf("%w: ring depth must be at least 2, got %d", loopstation.ErrConfiguration, cfg.Depth)
	}
	if cfg.BufferSize <= 0 || cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("%w: buffer size, sample rate and channel count must be positive", loopstation.ErrConfiguration)
	}
	if clock == nil {
		clock = loopstation.SystemClock{}
	}
	s := &Scheduler{
		cfg:      cfg,
		clock:    clock,
		log:      loopstation.OrNop(log),
		dispatch: func(f func()) { go f() },
		slots:    make([]loopstation.AudioBuffer, cfg.Depth),
		pending:  make([]bool, cfg.Depth),
	}
	for i := range s.slots {
		s.slots[i] = loopstation.NewAudioBuffer(cfg.Channels, cfg.BufferSize, cfg.SampleRate)
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Scheduler) SetFillFunc(f FillFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fill = f
}

func (s *Scheduler) SetOutput(f OutputFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = f
}

// BufferDuration is the playing time of one buffer.
func (s *Scheduler) BufferDuration() time.Duration {
	return time.Duration(s.cfg.BufferSize) * time.Second / time.Duration(s.cfg.SampleRate)
}

// Interval is the time between ticks: half a buffer, so that refills have
// headroom before their slot is needed again.
func (s *Scheduler) Interval() time.Duration {
	return s.BufferDuration() / 2
}

// Start fills every slot synchronously and starts ticking. It fails with
// ErrConfiguration if no fill function has been set. Starting a running
// scheduler restarts it.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	fill := s.fill
	if fill == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: fill function not set", loopstation.ErrConfiguration)
	}
	s.stopLocked()
	s.generation++
	for i := range s.slots {
		s.slots[i].Clear()
		fill(s.slots[i])
		s.pending[i] = false
	}
	s.active = 0
	s.running = true
	if !s.paced {
		s.schedule(s.generation)
	}
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"depth": s.cfg.Depth, "interval": s.Interval(), "devicePaced": s.paced}).Info("scheduler started")
	return nil
}

// Stop halts the ticking. Refills still running are allowed to finish but
// their results are thrown away.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.stopLocked()
		s.log.Info("scheduler stopped")
	}
}

func (s *Scheduler) stopLocked() {
	s.running = false
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// CurrentBuffer returns a copy of the active buffer and its slot index.
func (s *Scheduler) CurrentBuffer() (loopstation.AudioBuffer, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[s.active].Clone(), s.active
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// schedule must be called with mu held.
func (s *Scheduler) schedule(gen int) {
	s.timer = s.clock.AfterFunc(s.Interval(), func() { s.tick(gen) })
}

func (s *Scheduler) tick(gen int) {
	s.mu.Lock()
	if !s.running || gen != s.generation {
		s.mu.Unlock()
		return
	}
	vacated := s.rotate()
	current := s.slots[s.active].Clone()
	fill, output := s.fill, s.output
	s.schedule(gen)
	s.mu.Unlock()

	s.dispatch(func() { s.refill(gen, vacated, fill) })
	if output != nil {
		output(current)
	}
}

// Pull returns a copy of the active buffer and moves on to the next one,
// refilling the returned slot in the background. A device calls it whenever
// it needs another buffer, so every filled buffer is played exactly once.
// It returns false if the scheduler is not running.
func (s *Scheduler) Pull() (loopstation.AudioBuffer, bool) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return loopstation.AudioBuffer{}, false
	}
	gen := s.generation
	current := s.slots[s.active].Clone()
	vacated := s.rotate()
	fill := s.fill
	s.mu.Unlock()

	s.dispatch(func() { s.refill(gen, vacated, fill) })
	return current, true
}

// rotate advances the active slot and marks the slot it left for refill.
// Must be called with mu held.
func (s *Scheduler) rotate() (vacated int) {
	s.stats.Ticks++
	s.active = (s.active + 1) % len(s.slots)
	if s.pending[s.active] {
		s.stats.Glitches++
		s.log.WithField("slot", s.active).Warn("buffer became active before its refill finished")
	}
	// the slot that just stopped playing is the only one eligible for refill
	vacated = (s.active - 1 + len(s.slots)) % len(s.slots)
	s.pending[vacated] = true
	return vacated
}

func (s *Scheduler) refill(gen, slot int, fill FillFunc) {
	scratch := loopstation.NewAudioBuffer(s.cfg.Channels, s.cfg.BufferSize, s.cfg.SampleRate)
	fill(scratch)
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || !s.running || slot == s.active {
		s.stats.Discarded++
		return
	}
	s.slots[slot].CopyFrom(scratch)
	s.pending[slot] = false
	s.stats.Committed++
}
