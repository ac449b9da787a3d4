package voice

import (
	"math"
	"math/rand/v2"

	"github.com/vsariola/loopstation"
)

type drum int

const (
	noDrum drum = iota
	kick
	snare
	hihat
	openHihat
	tom
)

// drumForNote maps General MIDI percussion notes onto the four drum voices.
func drumForNote(note int) drum {
	switch note {
	case 35, 36:
		return kick
	case 38, 40:
		return snare
	case 42, 44:
		return hihat
	case 46:
		return openHihat
	case 41, 43, 45, 47, 48, 50:
		return tom
	}
	return noDrum
}

// kitTone shapes the synthesized drums of one kit.
type kitTone struct {
	kickStart, kickEnd float64 // pitch sweep in Hz
	kickDecay          float64
	snareNoise         float64 // noise share of the snare
	snareDecay         float64
	hatDecay           float64
	tomDecay           float64
}

var kits = map[string]kitTone{
	"standard":   {kickStart: 150, kickEnd: 50, kickDecay: 8, snareNoise: 0.6, snareDecay: 20, hatDecay: 60, tomDecay: 10},
	"electronic": {kickStart: 200, kickEnd: 40, kickDecay: 4, snareNoise: 0.8, snareDecay: 14, hatDecay: 90, tomDecay: 6},
	"acoustic":   {kickStart: 110, kickEnd: 60, kickDecay: 12, snareNoise: 0.5, snareDecay: 25, hatDecay: 45, tomDecay: 14},
}

// Kits are the names of the drum kits.
var Kits = []string{"standard", "electronic", "acoustic"}

const drumSilence = 1e-4

// drumHit is a one-shot drum voice. It ends by itself once it has decayed.
type drumHit struct {
	kind     drum
	tone     kitTone
	note     int
	velocity float64
	t        int
	phase    float64
	hp       float32 // previous noise sample, for the hihat highpass
	rng      *rand.Rand
}

func newDrumHit(kind drum, kit string, note int, velocity float64, rng *rand.Rand) drumHit {
	tone, ok := kits[kit]
	if !ok {
		tone = kits["standard"]
	}
	return drumHit{kind: kind, tone: tone, note: note, velocity: velocity, rng: rng}
}

func (d drumHit) gain(p loopstation.DrumParams) float64 {
	switch d.kind {
	case kick:
		return p.Kick
	case snare:
		return p.Snare
	case hihat, openHihat:
		return p.Hihat
	case tom:
		return p.Tom
	}
	return 0
}

// next returns the next sample and whether the hit is still audible.
func (d *drumHit) next(sampleRate int) (float64, bool) {
	t := float64(d.t) / float64(sampleRate)
	d.t++
	var v, env float64
	switch d.kind {
	case kick:
		env = math.Exp(-t * d.tone.kickDecay)
		freq := d.tone.kickEnd + (d.tone.kickStart-d.tone.kickEnd)*math.Exp(-t*30)
		d.phase += freq / float64(sampleRate)
		v = math.Sin(2 * math.Pi * d.phase)
	case snare:
		env = math.Exp(-t * d.tone.snareDecay)
		d.phase += 180 / float64(sampleRate)
		v = d.tone.snareNoise*d.noise() + (1-d.tone.snareNoise)*math.Sin(2*math.Pi*d.phase)
	case hihat, openHihat:
		decay := d.tone.hatDecay
		if d.kind == openHihat {
			decay /= 6
		}
		env = math.Exp(-t * decay)
		n := float32(d.noise())
		v = float64(n - d.hp)
		d.hp = n
	case tom:
		env = math.Exp(-t * d.tone.tomDecay)
		base := 80 + float64(d.note-41)*15
		freq := base * (1 + 0.5*math.Exp(-t*20))
		d.phase += freq / float64(sampleRate)
		v = math.Sin(2 * math.Pi * d.phase)
	default:
		return 0, false
	}
	return v * env * d.velocity, env > drumSilence
}

func (d *drumHit) noise() float64 {
	return d.rng.Float64()*2 - 1
}

// compress is a soft-knee gain curve; amount 0 leaves the signal alone.
func compress(x, amount float64) float64 {
	if amount <= 0 {
		return x
	}
	return x * (1 + amount) / (1 + amount*math.Abs(x))
}
