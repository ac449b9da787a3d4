package dsp

import (
	"math"

	"github.com/vsariola/loopstation"
)

// ApplyReverse plays the buffer backwards, blended with the input by mix.
func ApplyReverse(in []float32, p loopstation.ReverseParams) []float32 {
	n := len(in)
	wet := make([]float32, n)
	for i, x := range in {
		wet[n-1-i] = x
	}
	return mix(in, wet, p.Mix)
}

// ApplyStutter chops the buffer into segments of 1/rate seconds, or 1/rate
// beats when sync is set and the tempo is known, and keeps repeating the first
// (1-depth) part of every segment until the segment ends.
func ApplyStutter(ctx Context, in []float32, p loopstation.StutterParams) []float32 {
	n := len(in)
	wet := make([]float32, n)
	rate := math.Max(p.Rate, 0.01)
	seg := ctx.sampleRate() / rate
	if p.Sync && ctx.BPM > 0 {
		seg = 60 / ctx.BPM * ctx.sampleRate() / rate
	}
	segLen := max(int(seg), 1)
	gate := max(int(float64(segLen)*(1-clamp(p.Depth, 0, 1))), 1)
	for start := 0; start < n; start += segLen {
		for i := start; i < start+segLen && i < n; i++ {
			wet[i] = in[start+(i-start)%gate]
		}
	}
	return mix(in, wet, p.Mix)
}

// ApplyPitchShift is a granular shifter: two read heads sweep through a
// window of windowSize seconds at the pitch ratio, half a window apart, and
// are crossfaded with complementary sin² gains. A zero shift leaves the
// signal untouched.
func ApplyPitchShift(ctx Context, in []float32, p loopstation.PitchShiftParams) []float32 {
	n := len(in)
	if p.Pitch == 0 {
		return mix(in, append([]float32(nil), in...), p.Mix)
	}
	ratio := math.Pow(2, p.Pitch/12)
	window := math.Max(p.WindowSize*ctx.sampleRate(), 2)
	step := (1 - ratio) / window
	wet := make([]float32, n)
	phase := 0.0
	for i := range wet {
		p2 := math.Mod(phase+0.5, 1)
		g1 := math.Sin(math.Pi * phase)
		g2 := math.Sin(math.Pi * p2)
		wet[i] = float32(g1*g1*readFrac(in, float64(i)-phase*window) + g2*g2*readFrac(in, float64(i)-p2*window))
		phase = math.Mod(phase+step, 1)
		if phase < 0 {
			phase += 1
		}
	}
	return mix(in, wet, p.Mix)
}

// readFrac reads in at a fractional position with linear interpolation;
// positions outside the buffer read as silence.
func readFrac(in []float32, pos float64) float64 {
	if pos < 0 || pos > float64(len(in)-1) {
		return 0
	}
	i := int(pos)
	frac := pos - float64(i)
	a := float64(in[i])
	if i+1 >= len(in) {
		return a
	}
	return a + (float64(in[i+1])-a)*frac
}

// ApplyBitcrusher quantizes to 2^(bits-1) levels per polarity and holds every
// sample for round(1/sampleRate) samples, sampleRate being a fraction of the
// original rate.
func ApplyBitcrusher(in []float32, p loopstation.BitcrusherParams) []float32 {
	levels := math.Pow(2, clamp(p.Bits, 1, 32)-1)
	hold := 1
	if p.SampleRate > 0 && p.SampleRate < 1 {
		hold = max(int(math.Round(1/p.SampleRate)), 1)
	}
	wet := make([]float32, len(in))
	var held float32
	for i, x := range in {
		if i%hold == 0 {
			held = float32(math.Round(float64(x)*levels) / levels)
		}
		wet[i] = held
	}
	return mix(in, wet, p.Mix)
}
