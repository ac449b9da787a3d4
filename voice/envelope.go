package voice

import (
	"math"

	"github.com/vsariola/loopstation"
)

type envStage int

const (
	envAttack envStage = iota
	envDecay
	envSustain
	envRelease
	envDone
)

// envelope is a linear ADSR counted in samples. Levels are absolute, i.e.
// already scaled by the note velocity.
type envelope struct {
	stage        envStage
	n            int // samples spent in the current stage
	attack       int
	decay        int
	release      int
	peak         float64
	sustain      float64
	level        float64
	releaseStart float64
}

func newEnvelope(p loopstation.Envelope, velocity float64, sampleRate int) envelope {
	return envelope{
		attack:  seconds(p.Attack, sampleRate),
		decay:   seconds(p.Decay, sampleRate),
		release: seconds(p.Release, sampleRate),
		peak:    velocity,
		sustain: clamp01(p.Sustain) * velocity,
	}
}

func seconds(s float64, sampleRate int) int {
	if s <= 0 {
		return 0
	}
	return int(math.Round(s * float64(sampleRate)))
}

// next returns the level of the current sample and moves on by one sample.
func (e *envelope) next() float64 {
	for {
		switch e.stage {
		case envAttack:
			if e.n >= e.attack {
				e.stage, e.n = envDecay, 0
				continue
			}
			e.level = e.peak * float64(e.n) / float64(e.attack)
		case envDecay:
			if e.n >= e.decay {
				e.stage, e.n = envSustain, 0
				continue
			}
			e.level = e.peak + (e.sustain-e.peak)*float64(e.n)/float64(e.decay)
		case envSustain:
			e.level = e.sustain
		case envRelease:
			if e.n >= e.release {
				e.stage, e.level = envDone, 0
				continue
			}
			e.level = e.releaseStart * (1 - float64(e.n)/float64(e.release))
		case envDone:
			return 0
		}
		e.n++
		return e.level
	}
}

// noteOff starts the release from whatever level the envelope has reached.
func (e *envelope) noteOff() {
	if e.stage >= envRelease {
		return
	}
	e.stage, e.n = envRelease, 0
	e.releaseStart = e.level
}

func (e *envelope) done() bool {
	return e.stage == envDone
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
