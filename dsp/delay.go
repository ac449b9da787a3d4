package dsp

import (
	"math"

	"github.com/vsariola/loopstation"
)

// echoThreshold is the amplitude below which feedback echoes are dropped.
const echoThreshold = 0.01

// ApplyDelay mixes the input with a delayed copy of itself and its feedback
// echoes. The first echo lands delaySamples after the source sample with
// amplitude wet; echo k+1 lands (k+1)*delaySamples after it with amplitude
// wet*feedback^k, for as long as that amplitude stays above echoThreshold.
// Echoes falling past the end of the buffer are truncated.
func ApplyDelay(ctx Context, in []float32, p loopstation.DelayParams) []float32 {
	n := len(in)
	out := make([]float32, n)
	wet := float32(p.Wet)
	for i, x := range in {
		out[i] = x * (1 - wet)
	}
	d := int(math.Floor(p.Time * ctx.sampleRate()))
	if d <= 0 {
		// a zero delay collapses every echo onto the source sample; treat it
		// as a plain pass-through of the wet part
		for i, x := range in {
			out[i] += x * wet
		}
		return out
	}
	fb := clamp(p.Feedback, 0, loopstation.MaxFeedback)
	for i := 0; i+d < n; i++ {
		x := in[i]
		out[i+d] += x * wet
		amp := p.Wet * fb
		for pos := i + 2*d; pos < n && amp > echoThreshold; pos += d {
			out[pos] += x * float32(amp)
			amp *= fb
		}
	}
	return out
}
