// Package chain implements the per-track effect chain: an ordered list of
// effects that is applied from scratch to the track's recorded material every
// time the list changes.
package chain

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/viterin/vek/vek32"
	"github.com/vsariola/loopstation"
	"github.com/vsariola/loopstation/dsp"
)

// Chain is safe for concurrent use. Mutations are serialized and publish a new
// copy of the effect list, so readers always see complete entries.
type Chain struct {
	mu        sync.Mutex
	effects   atomic.Pointer[[]loopstation.Effect]
	processed atomic.Pointer[loopstation.AudioBuffer]
	source    *loopstation.AudioBuffer
	bpm       float64
	processor *Processor
	log       logrus.FieldLogger
}

func New(processor *Processor, log logrus.FieldLogger) *Chain {
	if processor == nil {
		processor = NewProcessor(0, log)
	}
	c := &Chain{processor: processor, log: loopstation.OrNop(log)}
	c.effects.Store(&[]loopstation.Effect{})
	return c
}

// Effects returns a copy of the current effect list.
func (c *Chain) Effects() []loopstation.Effect {
	return slices.Clone(*c.effects.Load())
}

// AddEffect appends the effect to the end of the chain.
func (c *Chain) AddEffect(e loopstation.Effect) {
	c.mutate(func(effects []loopstation.Effect) []loopstation.Effect {
		return append(effects, e)
	})
	c.log.WithField("effect", e.Kind).Debug("added effect")
}

// Toggle flips the enabled flag of the first effect of the kind, or appends a
// new default effect of the kind if the chain has none.
func (c *Chain) Toggle(kind loopstation.EffectKind) {
	c.mutate(func(effects []loopstation.Effect) []loopstation.Effect {
		if i := index(effects, kind); i >= 0 {
			effects[i].Enabled = !effects[i].Enabled
			return effects
		}
		e, err := loopstation.NewEffect(kind)
		if err != nil {
			return nil
		}
		return append(effects, e)
	})
}

// UpdateEffect replaces the first effect of the kind in place. The chain is
// left untouched if it has no effect of the kind.
func (c *Chain) UpdateEffect(kind loopstation.EffectKind, e loopstation.Effect) {
	c.mutate(func(effects []loopstation.Effect) []loopstation.Effect {
		i := index(effects, kind)
		if i < 0 {
			return nil
		}
		e.Kind = kind
		effects[i] = e
		return effects
	})
}

// SetEnabled enables or bypasses the first effect of the kind without moving
// it.
func (c *Chain) SetEnabled(kind loopstation.EffectKind, enabled bool) {
	c.mutate(func(effects []loopstation.Effect) []loopstation.Effect {
		i := index(effects, kind)
		if i < 0 || effects[i].Enabled == enabled {
			return nil
		}
		effects[i].Enabled = enabled
		return effects
	})
}

// UpdateParam changes a single parameter of the first effect of the kind.
// An invalid key or value leaves the chain untouched and is returned as an
// error; an absent kind is ignored.
func (c *Chain) UpdateParam(kind loopstation.EffectKind, key string, value any) error {
	var err error
	c.mutate(func(effects []loopstation.Effect) []loopstation.Effect {
		i := index(effects, kind)
		if i < 0 {
			return nil
		}
		var e loopstation.Effect
		if e, err = effects[i].WithParam(key, value); err != nil {
			return nil
		}
		effects[i] = e
		return effects
	})
	return err
}

// Remove deletes the first effect of the kind.
func (c *Chain) Remove(kind loopstation.EffectKind) {
	c.mutate(func(effects []loopstation.Effect) []loopstation.Effect {
		i := index(effects, kind)
		if i < 0 {
			return nil
		}
		return slices.Delete(effects, i, i+1)
	})
}

// SetChain replaces the whole list.
func (c *Chain) SetChain(effects []loopstation.Effect) {
	effects = slices.Clone(effects)
	c.mutate(func([]loopstation.Effect) []loopstation.Effect {
		if effects == nil {
			return []loopstation.Effect{}
		}
		return effects
	})
}

// SetTempo sets the tempo used by tempo-synced stages.
func (c *Chain) SetTempo(bpm float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bpm == bpm {
		return
	}
	c.bpm = bpm
	c.reprocess()
}

// Load sets the unprocessed source material of the chain and processes it.
func (c *Chain) Load(buf loopstation.AudioBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := buf.Clone()
	c.source = &src
	c.reprocess()
}

// Unload forgets the source and the processed material.
func (c *Chain) Unload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = nil
	c.processed.Store(nil)
}

// Processed returns a copy of the processed material, or false if nothing is
// loaded.
func (c *Chain) Processed() (loopstation.AudioBuffer, bool) {
	p := c.processed.Load()
	if p == nil {
		return loopstation.AudioBuffer{}, false
	}
	return p.Clone(), true
}

// Frames returns the length of the processed material.
func (c *Chain) Frames() int {
	if p := c.processed.Load(); p != nil {
		return p.Len()
	}
	return 0
}

// MixInto adds the processed material, starting at frame offset and wrapping
// around at loopFrames, to dst scaled by gain. loopFrames <= 0 means the
// length of the material. It returns false if nothing is loaded.
func (c *Chain) MixInto(dst loopstation.AudioBuffer, offset, loopFrames int, gain float32) bool {
	p := c.processed.Load()
	if p == nil || p.Len() == 0 {
		return false
	}
	n := p.Len()
	if loopFrames <= 0 || loopFrames > n {
		loopFrames = n
	}
	frames := dst.Len()
	tmp := make([]float32, frames)
	for ch := range dst.Channels {
		src := p.Channels[min(ch, len(p.Channels)-1)]
		pos := offset % loopFrames
		for i := 0; i < frames; {
			k := copy(tmp[i:], src[pos:loopFrames])
			i += k
			pos = 0
		}
		vek32.MulNumber_Inplace(tmp, gain)
		vek32.Add_Inplace(dst.Channels[ch], tmp)
	}
	return true
}

// Process applies the current chain to in. It never touches the loaded source.
// Concurrent calls are not queued: see Processor.Process.
func (c *Chain) Process(ctx context.Context, in loopstation.AudioBuffer) (loopstation.AudioBuffer, error) {
	c.mu.Lock()
	bpm := c.bpm
	c.mu.Unlock()
	return c.processor.Process(ctx, in, *c.effects.Load(), dsp.Context{SampleRate: in.SampleRate, BPM: bpm})
}

// mutate applies f to a copy of the list. If f returns nil nothing changes,
// otherwise the result is published and the source is reprocessed.
func (c *Chain) mutate(f func([]loopstation.Effect) []loopstation.Effect) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := f(slices.Clone(*c.effects.Load()))
	if next == nil {
		return
	}
	c.effects.Store(&next)
	c.reprocess()
}

// reprocess runs the whole chain over the original source. Must be called
// with mu held.
func (c *Chain) reprocess() {
	if c.source == nil {
		return
	}
	out, err := c.processor.run(context.Background(), *c.source, *c.effects.Load(), dsp.Context{SampleRate: c.source.SampleRate, BPM: c.bpm})
	if err != nil {
		c.log.WithError(err).Error("reprocessing failed, keeping previous output")
		return
	}
	c.processed.Store(&out)
}

func index(effects []loopstation.Effect, kind loopstation.EffectKind) int {
	return slices.IndexFunc(effects, func(e loopstation.Effect) bool { return e.Kind == kind })
}
