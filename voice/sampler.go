package voice

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/loopstation"
)

// Bank holds the mono sample tables the sampler plays from, shared by all
// tracks.
type Bank struct {
	mu     sync.RWMutex
	tables map[string]table
}

type table struct {
	data       []float32
	sampleRate int
}

// BuiltinSamples are the names of the tables in NewDefaultBank.
var BuiltinSamples = []string{"piano", "bass", "strings"}

func NewBank() *Bank {
	return &Bank{tables: map[string]table{}}
}

// NewDefaultBank returns a bank with synthesized stand-ins for the builtin
// samples, each two seconds of middle C.
func NewDefaultBank(sampleRate int) *Bank {
	b := NewBank()
	f := NoteToFrequency(60)
	n := 2 * sampleRate
	for _, name := range BuiltinSamples {
		data := make([]float32, n)
		for i := range data {
			t := float64(i) / float64(sampleRate)
			ph := 2 * math.Pi * f * t
			var v float64
			switch name {
			case "piano":
				v = (math.Sin(ph) + 0.5*math.Sin(2*ph) + 0.25*math.Sin(3*ph)) * math.Exp(-3*t) / 1.75
			case "bass":
				v = (math.Sin(ph/2) + 0.3*math.Sin(ph)) * math.Exp(-1.5*t) / 1.3
			case "strings":
				v = 0
				for h := 1; h <= 6; h++ {
					v += math.Sin(float64(h)*ph+0.1*math.Sin(2*math.Pi*5*t)) / float64(h)
				}
				v *= math.Min(t/0.2, 1) * 0.4
			}
			data[i] = float32(v)
		}
		b.LoadSample(name, data, sampleRate)
	}
	return b
}

// LoadSample registers a mono table under name, replacing any earlier one.
func (b *Bank) LoadSample(name string, data []float32, sampleRate int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tables[name] = table{data: data, sampleRate: sampleRate}
}

// LoadFile reads a .wav file into the bank, mixing it down to mono.
func (b *Bank) LoadFile(name, path string) error {
	buf, err := loopstation.ReadWavFile(path)
	if err != nil {
		return fmt.Errorf("could not load sample %v: %w", name, err)
	}
	b.LoadSample(name, mixdown(buf), buf.SampleRate)
	return nil
}

// LoadDir loads every .wav file of dir, named after the file without its
// extension. Files that fail to load are logged and skipped.
func (b *Bank) LoadDir(dir string, log logrus.FieldLogger) error {
	log = loopstation.OrNop(log)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%w: could not read sample directory: %v", loopstation.ErrIO, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if err := b.LoadFile(name, filepath.Join(dir, e.Name())); err != nil {
			log.WithError(err).WithField("file", e.Name()).Warn("skipped sample")
			continue
		}
		log.WithField("sample", name).Debug("loaded sample")
	}
	return nil
}

func (b *Bank) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ret := make([]string, 0, len(b.tables))
	for name := range b.tables {
		ret = append(ret, name)
	}
	return ret
}

func (b *Bank) get(name string) (table, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tables[name]
	return t, ok
}

func mixdown(buf loopstation.AudioBuffer) []float32 {
	n := buf.Len()
	out := make([]float32, n)
	if len(buf.Channels) == 0 {
		return out
	}
	g := 1 / float32(len(buf.Channels))
	for _, ch := range buf.Channels {
		for i, v := range ch {
			out[i] += v * g
		}
	}
	return out
}

// samplePlayer reads a table between two frames at a fixed rate, forwards or
// backwards, optionally looping.
type samplePlayer struct {
	data       []float32
	start, end int
	pos, step  float64
	loop       bool
	reverse    bool
	finished   bool
}

func newSamplePlayer(t table, p loopstation.SamplerParams, note, sampleRate int) (samplePlayer, bool) {
	n := len(t.data)
	start := int(clamp01(p.Start) * float64(n))
	end := int(clamp01(p.End) * float64(n))
	if end <= start {
		return samplePlayer{}, false
	}
	rate := float64(t.sampleRate) / float64(sampleRate)
	if t.sampleRate <= 0 {
		rate = 1
	}
	s := samplePlayer{
		data:    t.data,
		start:   start,
		end:     end,
		step:    math.Exp2((float64(note-60)+p.PitchShift)/12) * rate,
		loop:    p.Loop,
		reverse: p.Reverse,
		pos:     float64(start),
	}
	if s.reverse {
		s.pos = float64(end - 1)
	}
	return s, true
}

func (s *samplePlayer) next() float32 {
	if s.finished {
		return 0
	}
	i := int(s.pos)
	v := s.data[i]
	if s.reverse {
		s.pos -= s.step
	} else {
		s.pos += s.step
	}
	length := float64(s.end - s.start)
	switch {
	case s.pos >= float64(s.end):
		if s.loop {
			s.pos = float64(s.start) + math.Mod(s.pos-float64(s.start), length)
		} else {
			s.finished = true
		}
	case s.pos < float64(s.start):
		if s.loop {
			s.pos = float64(s.end) - math.Mod(float64(s.start)-s.pos, length)
			if s.pos >= float64(s.end) {
				s.pos = float64(s.end) - 1
			}
		} else {
			s.finished = true
		}
	}
	return v
}
