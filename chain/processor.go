package chain

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/loopstation"
	"github.com/vsariola/loopstation/dsp"
	"golang.org/x/sync/errgroup"
)

type (
	// Processor runs an effect list over every channel of a buffer, fanning
	// the channels out to at most Workers goroutines. Only one request is
	// processed at a time: a request arriving while another is in flight is
	// dropped.
	Processor struct {
		workers    int
		processing atomic.Bool
		log        logrus.FieldLogger
		observer   StageObserver
	}

	// StageObserver receives the time spent in each applied stage.
	StageObserver interface {
		StageProcessed(kind loopstation.EffectKind, elapsed time.Duration)
	}
)

// NewProcessor creates a processor with the given number of workers. Zero or
// one worker processes channels inline on the calling goroutine.
func NewProcessor(workers int, log logrus.FieldLogger) *Processor {
	return &Processor{workers: workers, log: loopstation.OrNop(log)}
}

func (p *Processor) SetObserver(o StageObserver) {
	p.observer = o
}

// Process applies the enabled effects in order to a copy of in. If another
// call is in flight, in is returned unmodified together with
// ErrProcessingSkipped. On any other failure in is also returned, with the
// error.
func (p *Processor) Process(ctx context.Context, in loopstation.AudioBuffer, effects []loopstation.Effect, dctx dsp.Context) (loopstation.AudioBuffer, error) {
	if !p.processing.CompareAndSwap(false, true) {
		p.log.Debug("already processing, skipping request")
		return in, loopstation.ErrProcessingSkipped
	}
	defer p.processing.Store(false)
	out, err := p.run(ctx, in, effects, dctx)
	if err != nil {
		p.log.WithError(err).Error("effect processing failed")
		return in, err
	}
	return out, nil
}

// run is Process without the in-flight guard.
func (p *Processor) run(ctx context.Context, in loopstation.AudioBuffer, effects []loopstation.Effect, dctx dsp.Context) (loopstation.AudioBuffer, error) {
	if dctx.SampleRate == 0 {
		dctx.SampleRate = in.SampleRate
	}
	out := loopstation.AudioBuffer{Channels: make([][]float32, len(in.Channels)), SampleRate: in.SampleRate}
	if p.workers <= 1 {
		for c := range in.Channels {
			if err := ctx.Err(); err != nil {
				return in, err
			}
			ch, err := p.channel(in.Channels[c], effects, dctx)
			if err != nil {
				return in, err
			}
			out.Channels[c] = ch
		}
		return out, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for c := range in.Channels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ch, err := p.channel(in.Channels[c], effects, dctx)
			out.Channels[c] = ch
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return in, err
	}
	return out, nil
}

func (p *Processor) channel(samples []float32, effects []loopstation.Effect, dctx dsp.Context) (ret []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("effect stage panicked: %v", r)
		}
	}()
	ret = append([]float32(nil), samples...)
	for _, e := range effects {
		if !e.Enabled {
			continue
		}
		start := time.Now()
		var ok bool
		if ret, ok = dsp.Apply(dctx, e.Params, ret); !ok {
			p.log.WithField("effect", e.Name).Debug("skipping unknown effect")
			continue
		}
		if p.observer != nil {
			p.observer.StageProcessed(e.Kind, time.Since(start))
		}
	}
	return ret, nil
}
